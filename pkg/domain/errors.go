package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound      = NewErr("PASTE_NOT_FOUND", "Paste not found", http.StatusNotFound)
	ErrInvalidJSON        = NewErr("INVALID_JSON", "Invalid JSON", http.StatusBadRequest)
	ErrInvalidContent     = NewErr("INVALID_CONTENT", "Invalid content", http.StatusBadRequest)
	ErrInvalidTTL         = NewErr("INVALID_TTL_SECONDS", "Invalid ttl_seconds", http.StatusBadRequest)
	ErrInvalidMaxViews    = NewErr("INVALID_MAX_VIEWS", "Invalid max_views", http.StatusBadRequest)
	ErrInvalidID          = NewErr("INVALID_ID", "Invalid paste id", http.StatusBadRequest)
	ErrPayloadTooLarge    = NewErr("PAYLOAD_TOO_LARGE", "Payload too large", http.StatusRequestEntityTooLarge)
	ErrBackendUnavailable = NewErr("BACKEND_UNAVAILABLE", "Storage backend unavailable", http.StatusServiceUnavailable)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrIDCollision        = NewErr("ID_COLLISION", "id already in use", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// ExpiredError is a NotFound that remembers which rule fired. Callers see a
// plain ErrPasteNotFound; the reason only feeds logs and metrics.
type ExpiredError struct {
	Reason Verdict
}

func (e *ExpiredError) Error() string {
	return "paste expired by " + e.Reason.String()
}
func (e *ExpiredError) Is(target error) bool {
	return target == ErrPasteNotFound
}

// InfraError reports a backend that was unreachable, timed out or answered
// with something malformed.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + ErrBackendUnavailable.Msg
	}
	return e.Op + ": " + e.Err.Error()
}
func (e *InfraError) Unwrap() error { return e.Err }
func (e *InfraError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// Infra wraps err as an infrastructure failure of op. Nil stays nil.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InfraError{Op: op, Err: err}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func classify(err error) *Err {
	if errors.Is(err, ErrBackendUnavailable) {
		return ErrBackendUnavailable
	}
	if errors.Is(err, ErrPasteNotFound) {
		return ErrPasteNotFound
	}
	var e *Err
	if errors.As(err, &e) {
		return e
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e
	}
	return ErrInternalServer
}

func ToResp(err error) ErrResp {
	e := classify(err)
	return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
}
func Status(err error) int {
	return classify(err).Status
}
