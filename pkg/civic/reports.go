package civic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/eshaffer321/civicreport-go/internal/metrics"
	"github.com/pkg/errors"
)

const (
	// DegradedWarning is attached to submissions that dropped their asset
	DegradedWarning = "asset could not be uploaded; submitted without it"

	// NoSessionError is returned when a report has no identity to file under
	NoSessionError = "no session"

	reportsPath      = "/reports"
	reportUploadPath = "/reports/upload"
	defaultAssetMime = "image/jpeg"
)

// AssetOpener opens the asset behind a URI
type AssetOpener func(uri string) (io.ReadCloser, error)

// OpenAsset opens file:// URIs and plain filesystem paths
func OpenAsset(uri string) (io.ReadCloser, error) {
	path := uri
	if strings.Contains(uri, "://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, errors.Wrap(err, "invalid asset uri")
		}
		if u.Scheme != "file" {
			return nil, errors.Errorf("unsupported asset scheme %q", u.Scheme)
		}
		path = u.Path
		if u.Host != "" && u.Host != "localhost" {
			// file://x.jpg parses the name as a host
			path = filepath.Join(u.Host, u.Path)
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open asset")
	}
	return f, nil
}

// reportService implements ReportService
type reportService struct {
	client *Client
}

// reportFields are the text fields shared by both submission paths
type reportFields struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Category    string `json:"category"`
	UserID      string `json:"userId"`
}

// Submit files the report with its asset when possible, and without it
// otherwise. Once dispatched, the submission ignores caller cancellation.
func (s *reportService) Submit(ctx context.Context, draft *ReportSubmission) *SubmissionResult {
	if draft == nil {
		metrics.ObserveSubmission(metrics.SubmissionFailure)
		return &SubmissionResult{Error: s.client.Message(KindUnknown), Kind: KindUnknown}
	}

	userID := ""
	if sess := s.client.sessions.Current(); sess != nil {
		userID = sess.UserID
	} else if sess := s.client.sessions.Load(ctx); sess != nil {
		userID = sess.UserID
	}
	if userID == "" {
		metrics.ObserveSubmission(metrics.SubmissionFailure)
		return &SubmissionResult{Error: NoSessionError, Kind: KindUnauthorized}
	}

	fields := reportFields{
		Title:       draft.Title,
		Description: draft.Description,
		Location:    draft.Location,
		Category:    draft.Category,
		UserID:      userID,
	}

	// Not abortable from here on
	ctx = context.WithoutCancel(ctx)
	logger := s.client.options.Logger

	assetFailed := false
	if draft.Asset != nil {
		report, err := s.submitWithAsset(ctx, fields, draft.Asset)
		if err == nil {
			metrics.ObserveSubmission(metrics.SubmissionSuccess)
			return &SubmissionResult{Success: true, Data: report}
		}
		assetFailed = true
		s.client.breadcrumb(ctx, "civic.upload", err)
		if logger != nil {
			logger.Warn("Asset upload failed, submitting without it", "kind", string(KindOf(err)), "error", err)
		}
	}

	report, err := s.submitWithoutAsset(ctx, fields)
	if err != nil {
		kind := KindOf(err)
		metrics.ObserveSubmission(metrics.SubmissionFailure)
		if logger != nil {
			logger.Error("Report submission failed", "kind", string(kind), "error", err)
		}
		return &SubmissionResult{Error: s.client.Message(kind), Kind: kind}
	}

	if assetFailed {
		metrics.ObserveSubmission(metrics.SubmissionDegradedSuccess)
		return &SubmissionResult{Success: true, Data: report, Warning: DegradedWarning}
	}
	metrics.ObserveSubmission(metrics.SubmissionSuccess)
	return &SubmissionResult{Success: true, Data: report}
}

// submitWithAsset makes the single multipart attempt. Its failures are
// recovered by the fallback, so they are not captured as errors.
func (s *reportService) submitWithAsset(ctx context.Context, fields reportFields, asset *Asset) (*Report, error) {
	body, contentType, err := s.buildMultipart(fields, asset)
	if err != nil {
		return nil, err
	}

	out := s.client.send(ctx, &Request{
		Method:        http.MethodPost,
		Path:          reportUploadPath,
		Body:          body,
		ContentType:   contentType,
		Authenticated: true,
	}, s.client.policy)
	if !out.OK() {
		return nil, out.Err()
	}
	return decodeReport(out.Body, fields), nil
}

// submitWithoutAsset makes the structured fallback attempt
func (s *reportService) submitWithoutAsset(ctx context.Context, fields reportFields) (*Report, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal report")
	}

	out := s.client.execute(ctx, &Request{
		Method:        http.MethodPost,
		Path:          reportsPath,
		Body:          body,
		Authenticated: true,
	}, s.client.policy)
	if !out.OK() {
		return nil, out.Err()
	}
	return decodeReport(out.Body, fields), nil
}

func (s *reportService) buildMultipart(fields reportFields, asset *Asset) ([]byte, string, error) {
	rc, err := s.client.options.AssetOpener(asset.URI)
	if err != nil {
		return nil, "", WrapError(err, "ASSET_UNREADABLE", "failed to open asset")
	}
	defer rc.Close()

	limit := s.client.options.MaxAssetSize
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, "", WrapError(err, "ASSET_UNREADABLE", "failed to read asset")
	}
	if int64(len(data)) > limit {
		return nil, "", &Error{Code: "ASSET_TOO_LARGE", Message: fmt.Sprintf("asset exceeds %d bytes", limit)}
	}

	// Create multipart form
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range []struct{ name, value string }{
		{"title", fields.Title},
		{"description", fields.Description},
		{"location", fields.Location},
		{"category", fields.Category},
		{"userId", fields.UserID},
	} {
		if err := writer.WriteField(f.name, f.value); err != nil {
			return nil, "", errors.Wrapf(err, "failed to write %s field", f.name)
		}
	}

	fileName := asset.FileName
	if fileName == "" {
		fileName = filepath.Base(strings.TrimPrefix(asset.URI, "file://"))
	}
	mimeType := asset.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
	}
	if mimeType == "" {
		mimeType = defaultAssetMime
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(fileName)))
	h.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to create image part")
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", errors.Wrap(err, "failed to write image data")
	}

	if err := writer.Close(); err != nil {
		return nil, "", errors.Wrap(err, "failed to close multipart writer")
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// decodeReport reads the created report, unwrapping {"report":...} or
// {"data":...} envelopes. The backend already accepted the report, so an
// unreadable body is not a failure; text fields it omits are taken from what
// was sent.
func decodeReport(body []byte, sent reportFields) *Report {
	report := &Report{}
	if len(bytes.TrimSpace(body)) > 0 {
		raw := unwrapEnvelope(body, "report", "reporte", "data")
		if err := json.Unmarshal(raw, report); err != nil {
			report = &Report{}
		}
	}

	report.Title = first(report.Title, sent.Title)
	report.Description = first(report.Description, sent.Description)
	report.Location = first(report.Location, sent.Location)
	report.Category = first(report.Category, sent.Category)
	if report.UserID == "" {
		report.UserID = FlexString(sent.UserID)
	}
	return report
}

// unwrapEnvelope returns the first named member holding a JSON value of the
// same kind, or body itself.
func unwrapEnvelope(body []byte, names ...string) json.RawMessage {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return body
	}
	for _, name := range names {
		v := bytes.TrimSpace(envelope[name])
		if len(v) > 0 && (v[0] == '{' || v[0] == '[') {
			return v
		}
	}
	return body
}

// ListByUser retrieves the reports filed by a user
func (s *reportService) ListByUser(ctx context.Context, userID string) ([]*Report, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "user id is required")
	}

	out := s.client.execute(ctx, &Request{
		Method:        http.MethodGet,
		Path:          reportsPath + "/user/" + url.PathEscape(userID),
		Authenticated: true,
	}, s.client.policy)
	if !out.OK() {
		return nil, out.Err()
	}

	var reports []*Report
	raw := unwrapEnvelope(out.Body, "reports", "reportes", "data")
	if err := json.Unmarshal(raw, &reports); err != nil {
		return nil, WrapError(err, "DECODE_FAILED", "failed to decode reports")
	}
	return reports, nil
}
