package civic

import (
	"context"
)

// ReportService handles civic issue reports
type ReportService interface {
	// Submit records a report, dropping the asset if it cannot be uploaded.
	// It never returns an error; failures are described by the result.
	Submit(ctx context.Context, draft *ReportSubmission) *SubmissionResult

	// ListByUser retrieves the reports filed by a user
	ListByUser(ctx context.Context, userID string) ([]*Report, error)
}

// AuthService handles authentication
type AuthService interface {
	// Login authenticates and stores the resulting session
	Login(ctx context.Context, creds *Credentials) (*Session, error)

	// Register creates an account; the backend then sends a verification code
	Register(ctx context.Context, reg *Registration) error

	// VerifyCode confirms a registration code. When the backend answers with
	// an identity the session is stored and returned.
	VerifyCode(ctx context.Context, email, code string) (*Session, error)

	// Logout clears the stored session. It cannot fail.
	Logout(ctx context.Context)
}

// UserService handles the signed-in user's profile
type UserService interface {
	// UpdateProfile changes the profile remotely and merges the change into the session
	UpdateProfile(ctx context.Context, update *ProfileUpdate) (*Session, error)
}

// SessionService reconciles the persisted session
type SessionService interface {
	// Load reads the persisted session; nil means nobody is signed in
	Load(ctx context.Context) *Session

	// Save writes the session to every persisted representation
	Save(ctx context.Context, s Session) error

	// Merge applies a partial update and saves the result
	Merge(ctx context.Context, u SessionUpdate) (*Session, error)

	// Clear removes the session; storage failures are swallowed
	Clear(ctx context.Context)

	// Current returns the in-memory session without touching storage
	Current() *Session
}

// Executor runs one logical backend call
type Executor interface {
	Execute(ctx context.Context, req *Request, policy RetryPolicy) *Outcome
}
