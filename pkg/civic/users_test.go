package civic

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestUpdateProfile(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"PUT /users/42": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			body := decodeJSONBody(t, r)
			assert.Equal(t, map[string]interface{}{"name": "Ana María"}, body)
			_, _ = w.Write([]byte(`{"success":true}`))
		},
	})
	c := newTestClient(t, b)
	require.NoError(t, c.Sessions.Save(context.Background(), Session{UserID: "42", DisplayName: "Ana", Email: "ana@example.com", Token: "tok"}))

	sess, err := c.Users.UpdateProfile(context.Background(), &ProfileUpdate{DisplayName: strPtr("Ana María")})
	require.NoError(t, err)
	assert.Equal(t, "Ana María", sess.DisplayName)
	assert.Equal(t, "ana@example.com", sess.Email)
	assert.Equal(t, "tok", sess.Token)

	// The merge is persisted
	loaded := c.Sessions.Load(context.Background())
	require.NotNil(t, loaded)
	assert.Equal(t, "Ana María", loaded.DisplayName)
}

func TestUpdateProfile_NoSession(t *testing.T) {
	exec := new(MockExecutor)
	c := newMockClient(exec)

	_, err := c.Users.UpdateProfile(context.Background(), &ProfileUpdate{DisplayName: strPtr("x")})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.True(t, IsAuthError(err))
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateProfile_EmptyUpdate(t *testing.T) {
	exec := new(MockExecutor)
	c := newMockClient(exec)
	require.NoError(t, c.Sessions.Save(context.Background(), Session{UserID: "42", DisplayName: "Ana", Token: "tok"}))

	sess, err := c.Users.UpdateProfile(context.Background(), &ProfileUpdate{})
	require.NoError(t, err)
	assert.Equal(t, "Ana", sess.DisplayName)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateProfile_RemoteFailureKeepsSession(t *testing.T) {
	exec := new(MockExecutor)
	c := newMockClient(exec)
	require.NoError(t, c.Sessions.Save(context.Background(), Session{UserID: "42", DisplayName: "Ana", Token: "tok"}))

	exec.On("Execute", mock.Anything, pathIs("/users/42"), mock.Anything).
		Return(&Outcome{Attempts: 1, Failure: &Failure{Kind: KindValidation, StatusCode: 422, Message: "email: invalid"}})

	_, err := c.Users.UpdateProfile(context.Background(), &ProfileUpdate{Email: strPtr("not-an-email")})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Ana", c.Sessions.Current().DisplayName)
	assert.Empty(t, c.Sessions.Current().Email)
	exec.AssertExpectations(t)
}
