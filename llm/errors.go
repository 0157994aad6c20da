package llm

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ErrorCode is the unified error taxonomy shared by every adapter. It is
// what the retry controller keys its schedule off.
type ErrorCode string

const (
	ErrUnauthorized ErrorCode = "LLM_UNAUTHORIZED" // invalid or missing credential, never retried
	ErrRateLimited  ErrorCode = "LLM_RATE_LIMITED" // upstream throttling, retried on the slow schedule
	ErrOverloaded   ErrorCode = "LLM_OVERLOADED"   // upstream overload/unavailable, retried on the slow schedule
	ErrCancelled    ErrorCode = "LLM_CANCELLED"    // caller stopped the operation, terminal
	ErrUnreachable  ErrorCode = "LLM_UNREACHABLE"  // local daemon connection failure
	ErrUnknown      ErrorCode = "LLM_UNKNOWN"      // anything else, retried on the standard schedule
)

// CancelMessage is the sentinel raised internally when a cancellation token
// fires. Classify matches it literally and it takes priority over every
// other signal.
const CancelMessage = "operation stopped by user"

// Error is the one error shape adapters surface. Message is
// user-displayable.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Stopped returns the UserCancelled error for a provider.
func Stopped(provider string) *Error {
	return &Error{Code: ErrCancelled, Message: CancelMessage, Provider: provider}
}

// IsCancelled reports whether err represents a user cancellation.
func IsCancelled(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == ErrCancelled
	}
	return err != nil && strings.Contains(err.Error(), CancelMessage)
}

// providerErrPayload covers the JSON error bodies the three backends emit.
// Gemini nests under "error" with a numeric code; OpenAI-style nests under
// "error" with a string type; Ollama returns a flat {"error": "..."}.
type providerErrPayload struct {
	Code    int             `json:"code"`
	Status  int             `json:"status"`
	Message json.RawMessage `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// Classify converts an arbitrary adapter failure into *Error. It never
// panics and never returns nil for a non-nil err. The cancellation sentinel
// wins over any parsed code.
func Classify(err error, provider string) *Error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if strings.Contains(msg, CancelMessage) {
		return Stopped(provider)
	}

	var le *Error
	if errors.As(err, &le) {
		if le.Provider == "" {
			le.Provider = provider
		}
		return le
	}

	code, text := extractErrPayload(msg)
	if text == "" {
		text = msg
	}

	switch {
	case code == http.StatusTooManyRequests || containsAny(text, "rate limit", "rate_limit", "resource has been exhausted", "resource_exhausted", "too many requests"):
		return &Error{Code: ErrRateLimited, Message: text, HTTPStatus: http.StatusTooManyRequests, Retryable: true, Provider: provider}
	case code == http.StatusServiceUnavailable || code == 529 || containsAny(text, "overloaded", "unavailable", "try again later"):
		return &Error{Code: ErrOverloaded, Message: text, HTTPStatus: http.StatusServiceUnavailable, Retryable: true, Provider: provider}
	case code == http.StatusUnauthorized || code == http.StatusForbidden || containsAny(text, "unauthorized", "invalid api key", "api key not valid", "invalid x-api-key", "permission denied"):
		return &Error{Code: ErrUnauthorized, Message: text, HTTPStatus: http.StatusUnauthorized, Provider: provider}
	case containsAny(text, "connection refused", "no such host", "connectex"):
		return &Error{Code: ErrUnreachable, Message: text, HTTPStatus: 0, Retryable: true, Provider: provider}
	default:
		return &Error{Code: ErrUnknown, Message: text, HTTPStatus: code, Retryable: true, Provider: provider}
	}
}

// extractErrPayload digs a numeric code and a message out of a raw error
// string that is, or embeds, a JSON object. Providers sometimes double
// encode: the message field may itself be a JSON string holding another
// error object, so one more level is peeled.
func extractErrPayload(raw string) (int, string) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return 0, ""
	}

	var payload providerErrPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return 0, ""
	}

	// Gemini wraps everything one level down under "error".
	if len(payload.Error) > 0 && payload.Error[0] == '{' {
		var nested providerErrPayload
		if err := json.Unmarshal(payload.Error, &nested); err == nil {
			if nested.Code == 0 {
				nested.Code = payload.Code
			}
			payload = nested
		}
	} else if len(payload.Error) > 0 {
		// Flat {"error": "message"} shape.
		var s string
		if err := json.Unmarshal(payload.Error, &s); err == nil && s != "" {
			payload.Message = payload.Error
		}
	}

	code := payload.Code
	if code == 0 {
		code = payload.Status
	}

	msg := decodeMessage(payload.Message)

	// Double-encoded message: a JSON string whose content is another error
	// object. Peel exactly one level.
	if strings.HasPrefix(strings.TrimSpace(msg), "{") {
		var inner providerErrPayload
		if err := json.Unmarshal([]byte(msg), &inner); err == nil {
			if len(inner.Error) > 0 && inner.Error[0] == '{' {
				var nested providerErrPayload
				if json.Unmarshal(inner.Error, &nested) == nil {
					inner = nested
				}
			}
			if inner.Code != 0 {
				code = inner.Code
			}
			if m := decodeMessage(inner.Message); m != "" {
				msg = m
			}
		}
	}

	return code, msg
}

func decodeMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
