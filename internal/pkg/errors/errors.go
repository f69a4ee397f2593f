package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalid     = errors.New("invalid")
	ErrConfig      = errors.New("configuration error")
	ErrUnavailable = errors.New("ai not configured")
	ErrEmbedding   = errors.New("embedding error")
	ErrGeneration  = errors.New("generation error")
	ErrStore       = errors.New("store error")
	ErrQuery       = errors.New("query error")
	ErrTooMany     = errors.New("too many requests")
)

// Error is a classified failure. Unwrap exposes both the kind sentinel and the
// original cause so errors.Is matches either.
type Error struct {
	Kind error
	Op   string
	Key  string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Op != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	if e.Key != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Key)
		sb.WriteString("]")
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Message is the human-readable part suitable for API callers.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

func Invalid(format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalid, Msg: fmt.Sprintf(format, args...)}
}

func Config(format string, args ...interface{}) error {
	return &Error{Kind: ErrConfig, Msg: fmt.Sprintf(format, args...)}
}

func Embedding(op string, err error) error {
	return &Error{Kind: ErrEmbedding, Op: op, Err: err}
}

func Generation(op string, err error) error {
	return &Error{Kind: ErrGeneration, Op: op, Err: err}
}

func Store(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) && classified.Kind != ErrStore {
		// embedding or validation failures raised inside a store keep their kind
		return err
	}
	return &Error{Kind: ErrStore, Op: op, Key: key, Err: err}
}

func Query(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrQuery) {
		return err
	}
	return &Error{Kind: ErrQuery, Op: "answer query", Err: err}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// StatusClass maps an error to the HTTP status class a calling layer should use.
func StatusClass(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTooMany):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrEmbedding), errors.Is(err, ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
