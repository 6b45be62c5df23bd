package protocol

import "fmt"

// RequestType discriminates portal RPC messages. The same message set is
// carried over the local control socket and the remote agent transport.
type RequestType uint8

const (
	RequestCreateSession RequestType = iota + 1
	RequestSelectDevices
	RequestStart
	RequestNotifyEvent
	RequestCloseSession
	RequestStatus
)

// String returns the RPC method name for the request type.
func (t RequestType) String() string {
	switch t {
	case RequestCreateSession:
		return "CreateSession"
	case RequestSelectDevices:
		return "SelectDevices"
	case RequestStart:
		return "Start"
	case RequestNotifyEvent:
		return "NotifyEvent"
	case RequestCloseSession:
		return "CloseSession"
	case RequestStatus:
		return "Status"
	default:
		return fmt.Sprintf("RequestType(%d)", uint8(t))
	}
}

// Request is the envelope for one portal RPC call. Exactly the payload
// matching Type is set.
type Request struct {
	Type          RequestType           `cbor:"1,keyasint"`
	CreateSession *CreateSessionParams  `cbor:"2,keyasint,omitempty"`
	SelectDevices *SelectDevicesParams  `cbor:"3,keyasint,omitempty"`
	Start         *StartParams          `cbor:"4,keyasint,omitempty"`
	NotifyEvent   *NotifyEventParams    `cbor:"5,keyasint,omitempty"`
	CloseSession  *CloseSessionParams   `cbor:"6,keyasint,omitempty"`
}

// CreateSessionParams carries the requesting application identity. The
// identity is audit/consent metadata only, never an authorization input.
type CreateSessionParams struct {
	AppID string `cbor:"1,keyasint"`
}

type SelectDevicesParams struct {
	Handle  string    `cbor:"1,keyasint"`
	Devices DeviceSet `cbor:"2,keyasint"`
}

type StartParams struct {
	Handle string `cbor:"1,keyasint"`
}

type NotifyEventParams struct {
	Handle string     `cbor:"1,keyasint"`
	Event  InputEvent `cbor:"2,keyasint"`
}

type CloseSessionParams struct {
	Handle string `cbor:"1,keyasint"`
}

// Response is the envelope for one portal RPC reply. ErrorCode carries
// the taxonomy name (e.g. "invalid-session") when the call failed; the
// payload matching Type is set on success.
type Response struct {
	Type          RequestType            `cbor:"1,keyasint"`
	ErrorCode     string                 `cbor:"2,keyasint,omitempty"`
	Error         string                 `cbor:"3,keyasint,omitempty"`
	CreateSession *CreateSessionResult   `cbor:"4,keyasint,omitempty"`
	SelectDevices *SelectDevicesResult   `cbor:"5,keyasint,omitempty"`
	Start         *StartResult           `cbor:"6,keyasint,omitempty"`
	NotifyEvent   *NotifyEventResult     `cbor:"7,keyasint,omitempty"`
	Status        *StatusResult          `cbor:"8,keyasint,omitempty"`
}

type CreateSessionResult struct {
	Handle string `cbor:"1,keyasint"`
}

// SelectDevicesResult reports the effective authorized set, which may be
// narrower than requested; callers must use it, not what they asked for.
type SelectDevicesResult struct {
	Devices DeviceSet `cbor:"1,keyasint"`
}

type StartResult struct {
	Mode           string `cbor:"1,keyasint"`
	CaptureTier    string `cbor:"2,keyasint,omitempty"`
	DegradedReason string `cbor:"3,keyasint,omitempty"`
}

type NotifyEventResult struct {
	Dispatched  bool `cbor:"1,keyasint"`
	RateLimited bool `cbor:"2,keyasint"`
}

type StatusResult struct {
	Running      bool   `cbor:"1,keyasint"`
	Sessions     int    `cbor:"2,keyasint"`
	MaxSessions  int    `cbor:"3,keyasint"`
	Backend      string `cbor:"4,keyasint"`
	CaptureTier  string `cbor:"5,keyasint"`
	InputReady   bool   `cbor:"6,keyasint"`
}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool {
	return r.ErrorCode != "" || r.Error != ""
}

// NewErrorResponse builds a failure reply for the given request type.
func NewErrorResponse(t RequestType, code, msg string) *Response {
	return &Response{Type: t, ErrorCode: code, Error: msg}
}
