package relay

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Event names carried in the "event" field of a frame.
const (
	EventSetUserID = "setUserId"
	EventMessage   = "message"
	EventError     = "error"
)

// Notice codes sent to a connection inside an error frame.
const (
	CodePersistenceFailure = "persistence_failure"
	CodeInvalidMessage     = "invalid_message"
	CodeInvalidIdentity    = "invalid_identity"
	CodeUnknownEvent       = "unknown_event"
	CodeMalformedFrame     = "malformed_frame"
)

// Frame is the JSON envelope exchanged over a connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Notice is the payload of an error frame. It is informational only; the
// connection stays open.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeFrame marshals data into a frame for the given event.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s payload", event)
	}
	out, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s frame", event)
	}
	return out, nil
}

// EncodeNotice builds an error frame carrying a Notice.
func EncodeNotice(code, message string) ([]byte, error) {
	return EncodeFrame(EventError, Notice{Code: code, Message: message})
}

// DecodeIdentity reads the data of a setUserId frame. Clients send either a
// JSON string or a number.
func DecodeIdentity(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		return n.String(), nil
	}
	return "", errors.Wrap(ErrEmptyIdentity, "identity is neither a string nor a number")
}
