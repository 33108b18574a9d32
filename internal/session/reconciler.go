// Package session owns the signed-in identity and keeps its two persisted
// representations consistent.
package session

import (
	"context"
	"sync"

	"github.com/eshaffer321/civicreport-go/internal/storage"
	"github.com/eshaffer321/civicreport-go/internal/types"
	"github.com/pkg/errors"
)

const (
	// RecordKey holds the authoritative session record
	RecordKey = "userSession"

	// LegacyKey holds the flat user record older readers still use
	LegacyKey = "user"

	// DefaultPlaceholderID is stored before any real login happened
	DefaultPlaceholderID = "guest"
)

// Update is a partial session change; nil fields are left alone.
type Update struct {
	DisplayName   *string
	Email         *string
	EmailVerified *bool
	AvatarURL     *string
	Token         *string
}

// Apply returns s with the update applied
func (u Update) Apply(s types.Session) types.Session {
	if u.DisplayName != nil {
		s.DisplayName = *u.DisplayName
	}
	if u.Email != nil {
		s.Email = *u.Email
	}
	if u.EmailVerified != nil {
		s.EmailVerified = *u.EmailVerified
	}
	if u.AvatarURL != nil {
		s.AvatarURL = *u.AvatarURL
	}
	if u.Token != nil {
		s.Token = *u.Token
	}
	return s
}

// Options configures a Reconciler
type Options struct {
	Store         storage.Store
	Logger        types.Logger
	PlaceholderID string

	// OnStorageError observes storage failures that are swallowed, e.g. during Clear
	OnStorageError func(op string, err error)
}

// Reconciler loads, saves, merges and clears the session.
type Reconciler struct {
	store       storage.Store
	logger      types.Logger
	placeholder string
	onErr       func(op string, err error)

	mu      sync.RWMutex
	current *types.Session

	// serializes read-modify-write in Merge
	mergeMu sync.Mutex
}

// New creates a reconciler
func New(opts *Options) *Reconciler {
	if opts == nil {
		opts = &Options{}
	}
	r := &Reconciler{
		store:       opts.Store,
		logger:      opts.Logger,
		placeholder: opts.PlaceholderID,
		onErr:       opts.OnStorageError,
	}
	if r.store == nil {
		r.store = storage.NewMemoryStore()
	}
	if r.placeholder == "" {
		r.placeholder = DefaultPlaceholderID
	}
	return r
}

// Load reads the persisted session, preferring the session record over the
// legacy user record. It returns nil when no real identity is stored.
func (r *Reconciler) Load(ctx context.Context) *types.Session {
	s, ok := r.read(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ok {
		r.current = nil
		return nil
	}
	r.current = &s
	out := s
	return &out
}

func (r *Reconciler) read(ctx context.Context) (types.Session, bool) {
	if data, ok := r.get(ctx, RecordKey); ok {
		if s, ok := fromRecord(data); ok && r.identified(s) {
			return s, true
		}
		r.debug("Session record malformed, trying user record")
	}

	if data, ok := r.get(ctx, LegacyKey); ok {
		if s, ok := fromLegacy(data); ok && r.identified(s) {
			return s, true
		}
	}
	return types.Session{}, false
}

func (r *Reconciler) get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.warn("Failed to read session storage", "key", key, "error", err)
			r.report("load", err)
		}
		return nil, false
	}
	return data, true
}

func (r *Reconciler) identified(s types.Session) bool {
	return s.UserID != "" && s.UserID != r.placeholder
}

// Save writes the session to both the session record and the legacy user
// record.
func (r *Reconciler) Save(ctx context.Context, s types.Session) error {
	if !r.identified(s) {
		return errors.Wrap(types.ErrNoSession, "refusing to save session without a user id")
	}

	rec, err := toRecord(s)
	if err != nil {
		return err
	}
	legacy, err := toLegacy(s)
	if err != nil {
		return err
	}

	if err := r.store.Set(ctx, RecordKey, rec); err != nil {
		return errors.Wrap(err, "failed to save session record")
	}
	if err := r.store.Set(ctx, LegacyKey, legacy); err != nil {
		return errors.Wrap(err, "failed to save user record")
	}

	r.mu.Lock()
	r.current = &s
	r.mu.Unlock()

	r.debug("Session saved", "userId", s.UserID)
	return nil
}

// Merge applies u to the stored session and saves the result. Applying the
// same update twice yields the same session.
func (r *Reconciler) Merge(ctx context.Context, u Update) (*types.Session, error) {
	r.mergeMu.Lock()
	defer r.mergeMu.Unlock()

	s, ok := r.read(ctx)
	if !ok {
		return nil, types.ErrNoSession
	}

	merged := u.Apply(s)
	if err := r.Save(ctx, merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// Clear removes every persisted representation and forgets the in-memory
// session. Storage failures are reported but never returned.
func (r *Reconciler) Clear(ctx context.Context) {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()

	for _, key := range []string{RecordKey, LegacyKey} {
		if err := r.store.Delete(ctx, key); err != nil {
			r.warn("Failed to delete session key", "key", key, "error", err)
			r.report("clear", errors.Wrapf(err, "failed to delete %s", key))
		}
	}
	r.info("Session cleared")
}

// Current returns a copy of the in-memory session without touching storage
func (r *Reconciler) Current() *types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil
	}
	out := *r.current
	return &out
}

// Token returns the bearer token of the in-memory session, or ""
func (r *Reconciler) Token() string {
	if s := r.Current(); s != nil {
		return s.Token
	}
	return ""
}

func (r *Reconciler) report(op string, err error) {
	if r.onErr != nil {
		r.onErr(op, err)
	}
}

func (r *Reconciler) debug(msg string, kv ...interface{}) {
	if r.logger != nil {
		r.logger.Debug(msg, kv...)
	}
}

func (r *Reconciler) info(msg string, kv ...interface{}) {
	if r.logger != nil {
		r.logger.Info(msg, kv...)
	}
}

func (r *Reconciler) warn(msg string, kv ...interface{}) {
	if r.logger != nil {
		r.logger.Warn(msg, kv...)
	}
}
