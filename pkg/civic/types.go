package civic

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/eshaffer321/civicreport-go/internal/session"
	internalTypes "github.com/eshaffer321/civicreport-go/internal/types"
)

// Shared access-layer types
type (
	Session       = internalTypes.Session
	Endpoint      = internalTypes.Endpoint
	RetryPolicy   = internalTypes.RetryPolicy
	Request       = internalTypes.Request
	Outcome       = internalTypes.Outcome
	Failure       = internalTypes.Failure
	Kind          = internalTypes.Kind
	Hooks         = internalTypes.Hooks
	Logger        = internalTypes.Logger
	SessionUpdate = session.Update
)

// Failure kinds
const (
	KindTimeout            = internalTypes.KindTimeout
	KindNetworkUnreachable = internalTypes.KindNetworkUnreachable
	KindUnauthorized       = internalTypes.KindUnauthorized
	KindNotFound           = internalTypes.KindNotFound
	KindValidation         = internalTypes.KindValidation
	KindServerError        = internalTypes.KindServerError
	KindDuplicate          = internalTypes.KindDuplicate
	KindUnknown            = internalTypes.KindUnknown
)

// DefaultRetryPolicy is used when ClientOptions.RetryPolicy is nil
var DefaultRetryPolicy = internalTypes.DefaultRetryPolicy

// FlexString accepts a JSON string or number
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the value as a string
func (f FlexString) String() string {
	return string(f)
}

// Asset is a binary attachment referenced by URI
type Asset struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// ReportSubmission is a citizen's report draft
type ReportSubmission struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Category    string `json:"category"`

	// UserID is replaced by the signed-in user on submit; a draft never picks
	// its own identity
	UserID string `json:"userId,omitempty"`
	Asset  *Asset `json:"asset,omitempty"`
}

// Report is a submitted civic issue as returned by the backend
type Report struct {
	ID          FlexString `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	Category    string     `json:"category"`
	UserID      FlexString `json:"userId"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	Status      string     `json:"status,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// reportWire also accepts the Spanish and snake_case spellings the backend
// has used for reports.
type reportWire struct {
	ID          FlexString      `json:"id"`
	IDReporte   FlexString      `json:"idReporte"`
	Title       string          `json:"title"`
	Titulo      string          `json:"titulo"`
	Description string          `json:"description"`
	Descripcion string          `json:"descripcion"`
	Location    string          `json:"location"`
	Ubicacion   string          `json:"ubicacion"`
	Category    string          `json:"category"`
	Categoria   string          `json:"categoria"`
	UserID      FlexString      `json:"userId"`
	UserIDSnake FlexString      `json:"user_id"`
	IDUsuario   FlexString      `json:"idUsuario"`
	ImageURL    string          `json:"imageUrl"`
	Image       string          `json:"image"`
	Imagen      string          `json:"imagen"`
	Status      string          `json:"status"`
	Estado      string          `json:"estado"`
	CreatedAt   json.RawMessage `json:"createdAt"`
	CreatedAtSn json.RawMessage `json:"created_at"`
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Report) UnmarshalJSON(data []byte) error {
	var w reportWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Report{
		ID:          FlexString(first(string(w.ID), string(w.IDReporte))),
		Title:       first(w.Title, w.Titulo),
		Description: first(w.Description, w.Descripcion),
		Location:    first(w.Location, w.Ubicacion),
		Category:    first(w.Category, w.Categoria),
		UserID:      FlexString(first(string(w.UserID), string(w.UserIDSnake), string(w.IDUsuario))),
		ImageURL:    first(w.ImageURL, w.Image, w.Imagen),
		Status:      first(w.Status, w.Estado),
		CreatedAt:   parseTime(w.CreatedAt, w.CreatedAtSn),
	}
	return nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseTime(raws ...json.RawMessage) time.Time {
	for _, raw := range raws {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var t time.Time
		if err := json.Unmarshal(raw, &t); err == nil {
			return t
		}
		var ms int64
		if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}

// SubmissionResult is the outcome of Reports.Submit. A non-empty Warning on a
// successful result marks a degraded submission.
type SubmissionResult struct {
	Success bool    `json:"success"`
	Data    *Report `json:"data,omitempty"`
	Warning string  `json:"warning,omitempty"`
	Error   string  `json:"error,omitempty"`
	Kind    Kind    `json:"kind,omitempty"`
}

// Degraded reports whether the submission succeeded without its asset
func (r *SubmissionResult) Degraded() bool {
	return r.Success && r.Warning != ""
}

// Credentials for Auth.Login
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration for Auth.Register
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileUpdate for Users.UpdateProfile; nil fields are left unchanged
type ProfileUpdate struct {
	DisplayName *string `json:"name,omitempty"`
	Email       *string `json:"email,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

// empty reports whether the update changes nothing
func (p *ProfileUpdate) empty() bool {
	return p == nil || (p.DisplayName == nil && p.Email == nil && p.AvatarURL == nil)
}
