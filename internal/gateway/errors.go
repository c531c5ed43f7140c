package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Op names the kind of call; it selects the fallback message when the
// server gives none.
type Op string

const (
	OpRead   Op = "read"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpPatch  Op = "patch"
	OpDelete Op = "delete"
	OpAuth   Op = "auth"
)

var fallbackMessages = map[Op]string{
	OpRead:   "An error occurred while reading the data.",
	OpCreate: "An error occurred while creating the item.",
	OpUpdate: "An error occurred while updating.",
	OpPatch:  "An error occurred while creating the state.",
	OpDelete: "An error occurred while deleting.",
	OpAuth:   "Authentication failed.",
}

var (
	// ErrUnauthorized marks a 401 that survived the single renewal attempt.
	ErrUnauthorized = errors.New("gateway: unauthorized")
	// ErrSessionExpired marks a request rejected because renewal failed and
	// the session was terminated.
	ErrSessionExpired = errors.New("gateway: session expired")
	// ErrUnavailable marks a request refused by the open circuit breaker.
	ErrUnavailable = errors.New("gateway: backend unavailable")
)

// Error is the normalized failure of a gateway call. Message is safe to
// show to a user.
type Error struct {
	Op         Op
	Method     string
	Path       string
	StatusCode int // 0 for transport failures
	Message    string
	Err        error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Detail includes the request line, for logs.
func (e *Error) Detail() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %d %s (%v)", e.Method, e.Path, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Message extracts the user-facing message from any error: the normalized
// message of an *Error, otherwise err.Error().
func Message(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// errorBody covers both server error shapes: {status:{message}} and
// {message}. message may be a string or a list of validation messages.
type errorBody struct {
	Status *struct {
		Message json.RawMessage `json:"message"`
	} `json:"status"`
	Message json.RawMessage `json:"message"`
}

func newError(op Op, method, path string, status int, body []byte, cause error) *Error {
	e := &Error{
		Op:         op,
		Method:     method,
		Path:       path,
		StatusCode: status,
		Message:    serverMessage(body),
		Err:        cause,
	}
	if e.Message == "" {
		e.Message = fallbackMessages[op]
	}
	if e.Message == "" {
		e.Message = fallbackMessages[OpRead]
	}
	return e
}

func serverMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if eb.Status != nil {
		if m := flattenMessage(eb.Status.Message); m != "" {
			return m
		}
	}
	return flattenMessage(eb.Message)
}

func flattenMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}
