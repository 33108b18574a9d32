package civic

import (
	"context"
	"net/http"
	"testing"

	"github.com/eshaffer321/civicreport-go/internal/session"
	"github.com/eshaffer321/civicreport-go/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /auth/login": func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			body := decodeJSONBody(t, r)
			assert.Equal(t, "ana@example.com", body["email"])
			_, _ = w.Write([]byte(`{"success":true,"token":"tok-42","usuario":{"idUsuario":42,"nombre":"Ana","correo":"ana@example.com","verificado":1}}`))
		},
	})
	store := storage.NewMemoryStore()
	c := newTestClient(t, b, func(o *ClientOptions) { o.Store = store })

	sess, err := c.Auth.Login(context.Background(), &Credentials{Email: "ana@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "42", sess.UserID)
	assert.Equal(t, "Ana", sess.DisplayName)
	assert.True(t, sess.EmailVerified)
	assert.Equal(t, "tok-42", sess.Token)
	assert.False(t, sess.LoginTime.IsZero())

	// Both representations are written
	_, err = store.Get(context.Background(), session.RecordKey)
	assert.NoError(t, err)
	_, err = store.Get(context.Background(), session.LegacyKey)
	assert.NoError(t, err)

	assert.Equal(t, "42", c.Sessions.Current().UserID)
}

func TestLogin_Rejected(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /auth/login": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"mensaje":"Credenciales inválidas"}`))
		},
	})
	c := newTestClient(t, b)

	_, err := c.Auth.Login(context.Background(), &Credentials{Email: "ana@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, IsAuthError(err))
	assert.Nil(t, c.Sessions.Current())
	assert.Equal(t, 1, b.count("POST /auth/login"))
}

func TestLogin_ResponseWithoutSession(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /auth/login": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true}`))
		},
	})
	c := newTestClient(t, b)

	_, err := c.Auth.Login(context.Background(), &Credentials{Email: "ana@example.com", Password: "secret"})
	var sdkErr *Error
	require.ErrorAs(t, err, &sdkErr)
	assert.Equal(t, "LOGIN_FAILED", sdkErr.Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	c := newMockClient(new(MockExecutor))

	_, err := c.Auth.Login(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = c.Auth.Login(context.Background(), &Credentials{Email: " "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRegister_Duplicate(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /auth/register": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"mensaje":"El correo ya está registrado"}`))
		},
	})
	c := newTestClient(t, b)

	err := c.Auth.Register(context.Background(), &Registration{Name: "Ana", Email: "ana@example.com", Password: "secret"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, KindDuplicate, KindOf(err))
}

func TestVerifyCode(t *testing.T) {
	t.Run("without session in response", func(t *testing.T) {
		b := newBackend(t, map[string]http.HandlerFunc{
			"POST /auth/verify-code": func(w http.ResponseWriter, r *http.Request) {
				body := decodeJSONBody(t, r)
				assert.Equal(t, "123456", body["code"])
				_, _ = w.Write([]byte(`{"success":true,"message":"verified"}`))
			},
		})
		c := newTestClient(t, b)

		sess, err := c.Auth.VerifyCode(context.Background(), "ana@example.com", "123456")
		require.NoError(t, err)
		assert.Nil(t, sess)
		assert.Nil(t, c.Sessions.Current())
	})

	t.Run("signs the user in", func(t *testing.T) {
		b := newBackend(t, map[string]http.HandlerFunc{
			"POST /auth/verify-code": func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"data":{"token":"tok-1","user":{"id":"1","email":"ana@example.com","emailVerified":true}}}`))
			},
		})
		c := newTestClient(t, b)

		sess, err := c.Auth.VerifyCode(context.Background(), "ana@example.com", "123456")
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "1", sess.UserID)
		assert.Equal(t, "1", c.Sessions.Current().UserID)
	})

	t.Run("missing code", func(t *testing.T) {
		c := newMockClient(new(MockExecutor))
		_, err := c.Auth.VerifyCode(context.Background(), "ana@example.com", "")
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestLogout(t *testing.T) {
	store := storage.NewMemoryStore()
	c, err := NewClient(&ClientOptions{Store: store})
	require.NoError(t, err)
	require.NoError(t, c.Sessions.Save(context.Background(), Session{UserID: "42", Token: "tok"}))

	c.Auth.Logout(context.Background())

	assert.Nil(t, c.Sessions.Current())
	assert.Nil(t, c.Sessions.Load(context.Background()))
	_, err = store.Get(context.Background(), session.RecordKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
