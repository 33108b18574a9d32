package civic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func writeAsset(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return "file://" + path
}

func decodeJSONBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func signIn(t *testing.T, c *Client, userID string) {
	t.Helper()
	require.NoError(t, c.Sessions.Save(context.Background(), Session{UserID: userID, Token: "tok-" + userID}))
}

func potholeDraft(assetURI string) *ReportSubmission {
	return &ReportSubmission{
		Title:       "Pothole",
		Description: "Deep hole",
		Location:    "Main St",
		Category:    "infrastructure",
		UserID:      "42",
		Asset:       &Asset{URI: assetURI},
	}
}

func TestSubmit_DegradesWhenUploadTimesOut(t *testing.T) {
	var jsonBody map[string]interface{}
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /reports/upload": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
		"POST /reports": func(w http.ResponseWriter, r *http.Request) {
			jsonBody = decodeJSONBody(t, r)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"R-900"}`))
		},
	})
	c := newTestClient(t, b)
	signIn(t, c, "42")

	uri := writeAsset(t, "x.jpg", []byte("jpeg-bytes"))
	result := c.Reports.Submit(context.Background(), potholeDraft(uri))

	require.True(t, result.Success, result.Error)
	assert.True(t, result.Degraded())
	assert.Equal(t, DegradedWarning, result.Warning)
	require.NotNil(t, result.Data)
	assert.Equal(t, FlexString("R-900"), result.Data.ID)
	assert.Equal(t, "Pothole", result.Data.Title)
	assert.Equal(t, FlexString("42"), result.Data.UserID)

	// Both upload attempts timed out before the structured fallback
	assert.Equal(t, 2, b.count("POST /reports/upload"))
	assert.Equal(t, 1, b.count("POST /reports"))

	// Text fields survive the degradation unchanged
	assert.Equal(t, map[string]interface{}{
		"title":       "Pothole",
		"description": "Deep hole",
		"location":    "Main St",
		"category":    "infrastructure",
		"userId":      "42",
	}, jsonBody)
}

func TestSubmit_WithAsset(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /reports/upload": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "Broken light", r.FormValue("title"))
			assert.Equal(t, "lighting", r.FormValue("category"))
			assert.Equal(t, "7", r.FormValue("userId"))

			file, hdr, err := r.FormFile("image")
			require.NoError(t, err)
			defer file.Close()
			data, _ := io.ReadAll(file)
			assert.Equal(t, "png-bytes", string(data))
			assert.Equal(t, "lamp.png", hdr.Filename)
			assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))

			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"reporte":{"idReporte":55,"titulo":"Broken light","imagen":"/uploads/lamp.png","estado":"pendiente"}}`))
		},
	})
	c := newTestClient(t, b)
	signIn(t, c, "7")

	result := c.Reports.Submit(context.Background(), &ReportSubmission{
		Title:    "Broken light",
		Category: "lighting",
		Asset:    &Asset{URI: writeAsset(t, "lamp.png", []byte("png-bytes"))},
	})

	require.True(t, result.Success, result.Error)
	assert.False(t, result.Degraded())
	assert.Empty(t, result.Warning)
	assert.Equal(t, FlexString("55"), result.Data.ID)
	assert.Equal(t, "/uploads/lamp.png", result.Data.ImageURL)
	assert.Equal(t, "pendiente", result.Data.Status)
	assert.Equal(t, 0, b.count("POST /reports"))
}

func TestSubmit_WithoutAssetHasNoWarning(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /reports": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"id":3}}`))
		},
	})
	c := newTestClient(t, b)
	signIn(t, c, "42")

	draft := potholeDraft("")
	draft.Asset = nil
	result := c.Reports.Submit(context.Background(), draft)

	require.True(t, result.Success)
	assert.Empty(t, result.Warning)
	assert.Equal(t, FlexString("3"), result.Data.ID)
	assert.Equal(t, 0, b.count("POST /reports/upload"))
}

func TestSubmit_UnreadableAssetFallsBack(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /reports": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"R-1"}`))
		},
	})
	c := newTestClient(t, b)
	signIn(t, c, "42")

	result := c.Reports.Submit(context.Background(), potholeDraft("file:///does/not/exist.jpg"))

	require.True(t, result.Success)
	assert.Equal(t, DegradedWarning, result.Warning)
	assert.Equal(t, 0, b.count("POST /reports/upload"))
}

func TestSubmit_OversizedAssetFallsBack(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /reports": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"R-2"}`))
		},
	})
	c := newTestClient(t, b, func(o *ClientOptions) { o.MaxAssetSize = 4 })
	signIn(t, c, "42")

	result := c.Reports.Submit(context.Background(), potholeDraft(writeAsset(t, "big.jpg", []byte("more than four"))))

	require.True(t, result.Success)
	assert.Equal(t, DegradedWarning, result.Warning)
	assert.Equal(t, 0, b.count("POST /reports/upload"))
}

func TestSubmit_NoSessionMakesNoCall(t *testing.T) {
	b := newBackend(t, nil)
	c := newTestClient(t, b)

	// A draft cannot supply its own identity
	draft := potholeDraft(writeAsset(t, "x.jpg", []byte("jpeg")))
	require.Equal(t, "42", draft.UserID)
	result := c.Reports.Submit(context.Background(), draft)

	assert.False(t, result.Success)
	assert.Equal(t, NoSessionError, result.Error)
	assert.Equal(t, KindUnauthorized, result.Kind)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.hits)
}

func TestSubmit_SessionUserTakesPrecedence(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /reports": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-9", r.Header.Get("Authorization"))
			body := decodeJSONBody(t, r)
			assert.Equal(t, "9", body["userId"])
			_, _ = w.Write([]byte(`{"id":"R-3"}`))
		},
	})
	c := newTestClient(t, b)
	signIn(t, c, "9")

	draft := potholeDraft("")
	draft.Asset = nil
	result := c.Reports.Submit(context.Background(), draft)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, FlexString("9"), result.Data.UserID)
}

func TestSubmit_IgnoresCallerCancellation(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /reports": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"R-4"}`))
		},
	})
	c := newTestClient(t, b)
	signIn(t, c, "42")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	draft := potholeDraft("")
	draft.Asset = nil
	result := c.Reports.Submit(ctx, draft)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, FlexString("R-4"), result.Data.ID)
}

func TestSubmit_FallbackFailureUsesCatalogMessage(t *testing.T) {
	exec := new(MockExecutor)
	c := newMockClient(exec)
	signIn(t, c, "42")

	exec.On("Execute", mock.Anything, pathIs(reportUploadPath), mock.Anything).
		Return(&Outcome{Attempts: 1, Failure: &Failure{Kind: KindServerError, StatusCode: 500, Message: "server error: 500 (Internal Server Error): stack trace"}}).Once()
	exec.On("Execute", mock.Anything, pathIs(reportsPath), mock.Anything).
		Return(&Outcome{Attempts: 1, Failure: &Failure{Kind: KindValidation, StatusCode: 422, Message: "title: required"}}).Once()

	uri := writeAsset(t, "x.jpg", []byte("jpeg"))
	result := c.Reports.Submit(context.Background(), potholeDraft(uri))

	assert.False(t, result.Success)
	assert.Equal(t, KindValidation, result.Kind)
	assert.Equal(t, c.Message(KindValidation), result.Error)
	assert.NotContains(t, result.Error, "title: required")
	exec.AssertExpectations(t)
}

func TestSubmit_DuplicateSurfacesKind(t *testing.T) {
	exec := new(MockExecutor)
	c := newMockClient(exec)
	signIn(t, c, "42")

	exec.On("Execute", mock.Anything, pathIs(reportsPath), mock.Anything).
		Return(&Outcome{Attempts: 1, Failure: &Failure{Kind: KindDuplicate, StatusCode: 409}}).Once()

	draft := potholeDraft("")
	draft.Asset = nil
	result := c.Reports.Submit(context.Background(), draft)

	assert.False(t, result.Success)
	assert.Equal(t, KindDuplicate, result.Kind)
	exec.AssertNumberOfCalls(t, "Execute", 1)
}

func TestSubmit_UnreachableBackend(t *testing.T) {
	policy := testPolicy
	c, err := NewClient(&ClientOptions{
		Candidates:   []string{"127.0.0.1:1"},
		ProbeTimeout: 200 * time.Millisecond,
		RetryPolicy:  &policy,
		Locale:       "es",
	})
	require.NoError(t, err)
	defer c.Close()
	signIn(t, c, "42")

	draft := potholeDraft("")
	draft.Asset = nil
	result := c.Reports.Submit(context.Background(), draft)

	assert.False(t, result.Success)
	assert.Equal(t, KindNetworkUnreachable, result.Kind)
	assert.Equal(t, c.Message(KindNetworkUnreachable), result.Error)
	assert.NotEqual(t, UserMessage(ErrNetworkUnreachable, "en"), result.Error)
}

func sentryHub(t *testing.T) (*sentry.Hub, *sentry.MockTransport) {
	t.Helper()
	transport := &sentry.MockTransport{}
	client, err := sentry.NewClient(sentry.ClientOptions{Transport: transport})
	require.NoError(t, err)
	return sentry.NewHub(client, sentry.NewScope()), transport
}

func TestSubmit_RecoveredUploadIsNotCaptured(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /reports/upload": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
		"POST /reports": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"R-5"}`))
		},
	})
	c := newTestClient(t, b)
	signIn(t, c, "42")

	hub, transport := sentryHub(t)
	ctx := sentry.SetHubOnContext(context.Background(), hub)

	result := c.Reports.Submit(ctx, potholeDraft(writeAsset(t, "x.jpg", []byte("jpeg"))))

	require.True(t, result.Success, result.Error)
	assert.True(t, result.Degraded())
	assert.Empty(t, transport.Events())
}

func TestSubmit_FailedFallbackCarriesUploadBreadcrumb(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"POST /reports/upload": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
		"POST /reports": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	c := newTestClient(t, b)
	signIn(t, c, "42")

	hub, transport := sentryHub(t)
	ctx := sentry.SetHubOnContext(context.Background(), hub)

	result := c.Reports.Submit(ctx, potholeDraft(writeAsset(t, "x.jpg", []byte("jpeg"))))

	require.False(t, result.Success)
	assert.Equal(t, KindServerError, result.Kind)

	events := transport.Events()
	require.Len(t, events, 1)
	assert.Equal(t, string(KindServerError), events[0].Tags["civic.kind"])
	require.NotEmpty(t, events[0].Breadcrumbs)
	crumb := events[0].Breadcrumbs[len(events[0].Breadcrumbs)-1]
	assert.Equal(t, "civic.upload", crumb.Category)
	assert.Equal(t, sentry.LevelWarning, crumb.Level)
}

func TestDecodeReport(t *testing.T) {
	sent := reportFields{Title: "T", Description: "D", Location: "L", Category: "C", UserID: "42"}

	tests := []struct {
		name   string
		body   string
		wantID FlexString
	}{
		{name: "bare object", body: `{"id":"R-1","title":"T"}`, wantID: "R-1"},
		{name: "report envelope", body: `{"success":true,"report":{"id":12}}`, wantID: "12"},
		{name: "data envelope", body: `{"data":{"idReporte":"9"}}`, wantID: "9"},
		{name: "empty body", body: ``, wantID: ""},
		{name: "not json", body: `created`, wantID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := decodeReport([]byte(tt.body), sent)
			require.NotNil(t, r)
			assert.Equal(t, tt.wantID, r.ID)
			assert.Equal(t, "T", r.Title)
			assert.Equal(t, "D", r.Description)
			assert.Equal(t, "L", r.Location)
			assert.Equal(t, "C", r.Category)
			assert.Equal(t, FlexString("42"), r.UserID)
		})
	}
}

func TestListByUser(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"GET /reports/user/42": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"reportes":[
				{"idReporte":1,"titulo":"Bache","idUsuario":42,"created_at":"2026-02-14T09:30:00Z"},
				{"id":"2","title":"Graffiti","user_id":"42","createdAt":1771061400000}
			]}`))
		},
		"GET /reports/user/7": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		},
	})
	c := newTestClient(t, b)

	reports, err := c.Reports.ListByUser(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, reports, 2)

	want := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, FlexString("1"), reports[0].ID)
	assert.Equal(t, "Bache", reports[0].Title)
	assert.Equal(t, FlexString("42"), reports[0].UserID)
	assert.True(t, reports[0].CreatedAt.Equal(want))
	assert.Equal(t, "Graffiti", reports[1].Title)
	assert.True(t, reports[1].CreatedAt.Equal(want))

	reports, err = c.Reports.ListByUser(context.Background(), "7")
	require.NoError(t, err)
	assert.Empty(t, reports)

	_, err = c.Reports.ListByUser(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestOpenAsset(t *testing.T) {
	uri := writeAsset(t, "a.jpg", []byte("abc"))
	path := strings.TrimPrefix(uri, "file://")

	for _, in := range []string{uri, path} {
		rc, err := OpenAsset(in)
		require.NoError(t, err, in)
		data, _ := io.ReadAll(rc)
		rc.Close()
		assert.Equal(t, "abc", string(data))
	}

	_, err := OpenAsset("https://example.com/a.jpg")
	assert.Error(t, err)
}
