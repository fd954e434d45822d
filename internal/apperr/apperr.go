// Package apperr defines the error-kind taxonomy shared by HTTP handlers and
// the WebSocket signaling path, so a single error value can be mapped to
// either surface without the caller needing to know which one it's on.
package apperr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
)

// Kind is a coarse error classification, not a concrete error type.
type Kind int

const (
	Internal Kind = iota
	NotFound
	AlreadyExists
	BadRequest
	Unauthorized
	Forbidden
	Conflict
	Validation
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case Validation:
		return "validation"
	default:
		return "internal"
	}
}

// HTTPStatus maps a Kind to the single HTTP status it corresponds to.
func (k Kind) HTTPStatus() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists:
		return http.StatusConflict
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case Validation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error value carrying a Kind, a user-facing message,
// and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal for any error
// that was not constructed via this package (e.g. a raw library error).
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// frame is the WS error envelope shape from spec §7:
// {"type":"error","data":{"kind":..,"message":..}}.
type frame struct {
	Type string    `json:"type"`
	Data frameData `json:"data"`
}

type frameData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WSFrame renders err as the signaling error frame. It never returns an
// error itself — marshal failure degrades to a generic internal message.
func WSFrame(err error) []byte {
	var ae *Error
	kind := Internal
	msg := err.Error()
	if errors.As(err, &ae) {
		kind = ae.Kind
		msg = ae.Message
	}
	b, marshalErr := json.Marshal(frame{Type: "error", Data: frameData{Kind: kind.String(), Message: msg}})
	if marshalErr != nil {
		return []byte(`{"type":"error","data":{"kind":"internal","message":"internal error"}}`)
	}
	return b
}

// WriteWS sends err to conn as a signaling error frame. A media-layer
// failure never closes the connection — the caller keeps reading.
func WriteWS(conn *websocket.Conn, err error) error {
	return conn.WriteMessage(websocket.TextMessage, WSFrame(err))
}
