package civic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// userService implements UserService
type userService struct {
	client *Client
}

// UpdateProfile changes the profile remotely, then merges the same change
// into the stored session.
func (s *userService) UpdateProfile(ctx context.Context, update *ProfileUpdate) (*Session, error) {
	current := s.client.sessions.Current()
	if current == nil {
		current = s.client.sessions.Load(ctx)
	}
	if current == nil {
		return nil, ErrNoSession
	}
	if update.empty() {
		return current, nil
	}

	body, err := json.Marshal(update)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal profile update")
	}

	out := s.client.execute(ctx, &Request{
		Method:        http.MethodPut,
		Path:          "/users/" + url.PathEscape(current.UserID),
		Body:          body,
		Authenticated: true,
	}, s.client.policy)
	if !out.OK() {
		return nil, out.Err()
	}

	return s.client.sessions.Merge(ctx, SessionUpdate{
		DisplayName: update.DisplayName,
		Email:       update.Email,
		AvatarURL:   update.AvatarURL,
	})
}
