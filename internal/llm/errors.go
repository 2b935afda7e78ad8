package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/sashabaranov/go-openai"
)

// Kind classifies a failed model call.
type Kind string

const (
	KindAccessDenied Kind = "access_denied"
	KindValidation   Kind = "validation"
	KindOverflow     Kind = "overflow"
	KindNotFound     Kind = "not_found"
	KindTimeout      Kind = "timeout"
	KindShape        Kind = "response_shape"
	KindUnknown      Kind = "unknown"
)

// Error is a classified model transport or response failure.
type Error struct {
	Kind    Kind
	Model   string
	Code    string
	Message string
	// Raw is the response body for KindShape errors.
	Raw []byte
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Model != "" {
		fmt.Fprintf(&b, " (model %s)", e.Model)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

var overflowMarkers = []string{
	"Input is too long",
	"exceeds the maximum allowed length",
	"maximum context length",
}

// Classify converts a transport error into an *Error for model.
func Classify(model string, err error) *Error {
	if err == nil {
		return nil
	}

	var le *Error
	if errors.As(err, &le) {
		if le.Model == "" {
			le.Model = model
		}
		return le
	}

	if isTimeout(err) {
		return &Error{Kind: KindTimeout, Model: model, Message: err.Error(), Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code, msg := apiErr.ErrorCode(), apiErr.ErrorMessage()
		return &Error{Kind: kindForCode(code, msg), Model: model, Code: code, Message: msg, Err: err}
	}

	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return &Error{
			Kind:    kindForStatus(oaiErr.HTTPStatusCode, oaiErr.Message),
			Model:   model,
			Code:    http.StatusText(oaiErr.HTTPStatusCode),
			Message: oaiErr.Message,
			Err:     err,
		}
	}

	return &Error{Kind: KindUnknown, Model: model, Message: err.Error(), Err: err}
}

func kindForCode(code, msg string) Kind {
	switch {
	case strings.HasPrefix(code, "AccessDenied"), code == "UnauthorizedOperation":
		return KindAccessDenied
	case code == "ValidationException":
		if isOverflowMessage(msg) {
			return KindOverflow
		}
		return KindValidation
	case code == "ResourceNotFoundException":
		return KindNotFound
	default:
		return KindUnknown
	}
}

func kindForStatus(status int, msg string) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAccessDenied
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadRequest:
		if isOverflowMessage(msg) {
			return KindOverflow
		}
		return KindValidation
	default:
		return KindUnknown
	}
}

func isOverflowMessage(msg string) bool {
	for _, m := range overflowMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
