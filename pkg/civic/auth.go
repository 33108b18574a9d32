package civic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/eshaffer321/civicreport-go/internal/session"
	"github.com/pkg/errors"
)

const (
	loginPath      = "/auth/login"
	registerPath   = "/auth/register"
	verifyCodePath = "/auth/verify-code"
)

// authService implements AuthService
type authService struct {
	client *Client
}

// Login authenticates and stores the resulting session
func (s *authService) Login(ctx context.Context, creds *Credentials) (*Session, error) {
	if creds == nil || strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "email and password are required")
	}

	out, err := s.post(ctx, loginPath, creds)
	if err != nil {
		return nil, err
	}

	sess, ok := session.FromAuthResponse(out.Body)
	if !ok {
		return nil, &Error{Code: "LOGIN_FAILED", Message: "login response carried no session", StatusCode: out.StatusCode}
	}
	return s.store(ctx, sess)
}

// Register creates an account
func (s *authService) Register(ctx context.Context, reg *Registration) error {
	if reg == nil || strings.TrimSpace(reg.Email) == "" || reg.Password == "" {
		return errors.Wrap(ErrInvalidRequest, "email and password are required")
	}
	_, err := s.post(ctx, registerPath, reg)
	return err
}

// VerifyCode confirms a registration code
func (s *authService) VerifyCode(ctx context.Context, email, code string) (*Session, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(code) == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "email and code are required")
	}

	out, err := s.post(ctx, verifyCodePath, map[string]string{"email": email, "code": code})
	if err != nil {
		return nil, err
	}

	// Some deployments sign the user in on verification
	sess, ok := session.FromAuthResponse(out.Body)
	if !ok {
		return nil, nil
	}
	return s.store(ctx, sess)
}

// Logout clears the stored session
func (s *authService) Logout(ctx context.Context) {
	s.client.sessions.Clear(ctx)
}

func (s *authService) post(ctx context.Context, path string, payload interface{}) (*Outcome, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	out := s.client.execute(ctx, &Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   body,
	}, s.client.policy)
	if !out.OK() {
		return nil, out.Err()
	}
	return out, nil
}

func (s *authService) store(ctx context.Context, sess Session) (*Session, error) {
	if sess.LoginTime.IsZero() {
		sess.LoginTime = time.Now().UTC()
	}
	if err := s.client.sessions.Save(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "failed to save session")
	}

	if logger := s.client.options.Logger; logger != nil {
		logger.Info("Signed in", "userId", sess.UserID)
	}
	return &sess, nil
}
