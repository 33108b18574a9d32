package session

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/eshaffer321/civicreport-go/internal/types"
	"github.com/pkg/errors"
)

// Aliases per canonical field, canonical name first. Older app builds wrote
// the Spanish and snake_case spellings.
var (
	userIDAliases        = []string{"userId", "id", "idUsuario", "user_id"}
	displayNameAliases   = []string{"displayName", "name", "nombre"}
	emailAliases         = []string{"email", "correo"}
	emailVerifiedAliases = []string{"emailVerified", "email_verified", "verificado"}
	avatarAliases        = []string{"avatarUrl", "avatar", "foto"}
	tokenAliases         = []string{"token", "accessToken"}
	loginTimeAliases     = []string{"loginTime", "fechaLogin"}
)

type fields map[string]json.RawMessage

// pick returns the first alias holding a non-null value
func (f fields) pick(aliases []string) (json.RawMessage, bool) {
	for _, name := range aliases {
		raw, ok := f[name]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		return raw, true
	}
	return nil, false
}

func (f fields) str(aliases []string) string {
	raw, ok := f.pick(aliases)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	// numeric ids
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

func (f fields) boolean(aliases []string) bool {
	raw, ok := f.pick(aliases)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	switch strings.ToLower(f.str(aliases)) {
	case "true", "1", "yes", "si", "sí":
		return true
	}
	return false
}

func (f fields) timestamp(aliases []string) time.Time {
	raw, ok := f.pick(aliases)
	if !ok {
		return time.Time{}
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err == nil {
		return t
	}
	// epoch milliseconds
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// normalize maps one user object onto the canonical session shape
func normalize(user fields) types.Session {
	return types.Session{
		UserID:        user.str(userIDAliases),
		DisplayName:   user.str(displayNameAliases),
		Email:         user.str(emailAliases),
		EmailVerified: user.boolean(emailVerifiedAliases),
		AvatarURL:     user.str(avatarAliases),
		Token:         user.str(tokenAliases),
		LoginTime:     user.timestamp(loginTimeAliases),
	}
}

// fromRecord adapts the session record: {"user":{...},"token":"...","loginTime":...}.
// It reports false unless both the user object and a token are present.
func fromRecord(data []byte) (types.Session, bool) {
	var top fields
	if err := json.Unmarshal(data, &top); err != nil {
		return types.Session{}, false
	}
	rawUser, ok := top.pick([]string{"user", "usuario"})
	if !ok {
		return types.Session{}, false
	}
	var user fields
	if err := json.Unmarshal(rawUser, &user); err != nil {
		return types.Session{}, false
	}

	s := normalize(user)
	if token := top.str(tokenAliases); token != "" {
		s.Token = token
	}
	if t := top.timestamp(loginTimeAliases); !t.IsZero() {
		s.LoginTime = t
	}
	if s.Token == "" {
		return types.Session{}, false
	}
	return s, true
}

// fromLegacy adapts the flat user record
func fromLegacy(data []byte) (types.Session, bool) {
	var user fields
	if err := json.Unmarshal(data, &user); err != nil {
		return types.Session{}, false
	}
	return normalize(user), true
}

type recordUser struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
}

type record struct {
	User      recordUser `json:"user"`
	Token     string     `json:"token"`
	LoginTime time.Time  `json:"loginTime"`
}

// legacyUser keeps the field names older readers of the user key expect
type legacyUser struct {
	ID         string    `json:"idUsuario"`
	Nombre     string    `json:"nombre"`
	Correo     string    `json:"correo"`
	Verificado bool      `json:"verificado"`
	Foto       string    `json:"foto,omitempty"`
	Token      string    `json:"token,omitempty"`
	LoginTime  time.Time `json:"loginTime"`
}

func toRecord(s types.Session) ([]byte, error) {
	data, err := json.Marshal(record{
		User: recordUser{
			UserID:        s.UserID,
			DisplayName:   s.DisplayName,
			Email:         s.Email,
			EmailVerified: s.EmailVerified,
			AvatarURL:     s.AvatarURL,
		},
		Token:     s.Token,
		LoginTime: s.LoginTime,
	})
	return data, errors.Wrap(err, "failed to marshal session record")
}

func toLegacy(s types.Session) ([]byte, error) {
	data, err := json.Marshal(legacyUser{
		ID:         s.UserID,
		Nombre:     s.DisplayName,
		Correo:     s.Email,
		Verificado: s.EmailVerified,
		Foto:       s.AvatarURL,
		Token:      s.Token,
		LoginTime:  s.LoginTime,
	})
	return data, errors.Wrap(err, "failed to marshal user record")
}

// FromAuthResponse adapts a login or verification response. It accepts the
// session record shape, optionally wrapped in a "data" envelope.
func FromAuthResponse(data []byte) (types.Session, bool) {
	if s, ok := fromRecord(data); ok {
		return s, true
	}
	var envelope fields
	if err := json.Unmarshal(data, &envelope); err != nil {
		return types.Session{}, false
	}
	if inner, ok := envelope.pick([]string{"data"}); ok {
		return fromRecord(inner)
	}
	return types.Session{}, false
}
