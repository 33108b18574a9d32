package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"

	"github.com/eshaffer321/civicreport-go/internal/types"
	"github.com/pkg/errors"
)

// retryableStatus lists the HTTP statuses worth another attempt
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:  true,
	http.StatusTooManyRequests: true,
}

var duplicatePattern = regexp.MustCompile(`(?i)already exists|already registered|duplicate|ya existe|ya est[aá] registrad`)

// errorBody is the loose shape of backend error responses
type errorBody struct {
	Error   interface{}     `json:"error"`
	Message string          `json:"message"`
	Mensaje string          `json:"mensaje"`
	Detail  string          `json:"detail"`
	Errors  json.RawMessage `json:"errors"`
	Field   string          `json:"field"`
}

// classifyError maps a transport failure to a failure kind
func classifyError(err error) *types.Failure {
	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewFailure(types.KindTimeout, "request timed out", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return types.NewFailure(types.KindTimeout, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return types.NewFailure(types.KindUnknown, "request cancelled", err)
	case errors.As(err, &dnsErr):
		return types.NewFailure(types.KindNetworkUnreachable, "host lookup failed", err)
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &opErr):
		return types.NewFailure(types.KindNetworkUnreachable, "network unreachable", err)
	default:
		return types.NewFailure(types.KindUnknown, "request failed", err)
	}
}

// classifyResponse maps a non-2xx response to a failure kind
func classifyResponse(statusCode int, body []byte) *types.Failure {
	var parsed errorBody
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.message()
	if msg == "" && !json.Valid(body) {
		msg = strings.TrimSpace(truncate(string(body)))
	}

	failure := func(kind types.Kind, fallback string) *types.Failure {
		m := msg
		if m == "" {
			m = fallback
		}
		return &types.Failure{Kind: kind, Message: m, StatusCode: statusCode}
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return failure(types.KindUnauthorized, "authentication required")
	case statusCode == http.StatusNotFound:
		return failure(types.KindNotFound, "resource not found")
	case statusCode == http.StatusConflict || (statusCode < 500 && duplicatePattern.MatchString(string(body))):
		return failure(types.KindDuplicate, "resource already exists")
	case statusCode == http.StatusRequestTimeout:
		return failure(types.KindTimeout, "request timed out")
	case statusCode == http.StatusUnprocessableEntity || (statusCode >= 400 && statusCode < 500 && parsed.fieldLevel()):
		return failure(types.KindValidation, "validation failed")
	case statusCode >= 500:
		baseMsg := fmt.Sprintf("server error: %d", statusCode)
		if desc := httpStatusDescription(statusCode); desc != "" {
			baseMsg = fmt.Sprintf("server error: %d (%s)", statusCode, desc)
		}
		if msg != "" {
			baseMsg = fmt.Sprintf("%s: %s", baseMsg, msg)
		}
		return &types.Failure{Kind: types.KindServerError, Message: baseMsg, StatusCode: statusCode}
	default:
		return failure(types.KindUnknown, fmt.Sprintf("HTTP error: %d", statusCode))
	}
}

func (b errorBody) message() string {
	switch v := b.Error.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]interface{}:
		if m, ok := v["message"].(string); ok && m != "" {
			return m
		}
	}
	for _, m := range []string{b.Message, b.Mensaje, b.Detail} {
		if m != "" {
			return m
		}
	}
	return ""
}

// fieldLevel reports whether the body names offending fields
func (b errorBody) fieldLevel() bool {
	if b.Field != "" {
		return true
	}
	errs := strings.TrimSpace(string(b.Errors))
	return errs != "" && errs != "null" && errs != "[]" && errs != "{}"
}

// httpStatusDescription returns a human-readable description for common HTTP status codes.
// This helps users understand errors like 525 (SSL Handshake Failed) which are Cloudflare-specific.
func httpStatusDescription(statusCode int) string {
	descriptions := map[int]string{
		500: "Internal Server Error",
		501: "Not Implemented",
		502: "Bad Gateway",
		503: "Service Unavailable",
		504: "Gateway Timeout",
		520: "Web Server Error",
		521: "Web Server Is Down",
		522: "Connection Timed Out",
		523: "Origin Is Unreachable",
		524: "A Timeout Occurred",
		525: "SSL Handshake Failed",
		526: "Invalid SSL Certificate",
		530: "Origin DNS Error",
	}
	return descriptions[statusCode]
}

// truncate shortens response bodies for messages and logs
func truncate(s string) string {
	const maxLen = 200
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
