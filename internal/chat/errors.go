package chat

import "fmt"

// ConnectionError wraps a transport-level failure. The session surfaces it
// to subscribers and does not retry; reconnecting is the caller's call.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ValidationError rejects malformed local input before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PermissionError is a local pre-check failure for admin-only group actions.
// The server stays authoritative; the pre-check just saves the round trip.
type PermissionError struct {
	Action  string
	GroupID string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s on group %s: admin rights required", e.Action, e.GroupID)
}

// NotFoundError references an unknown conversation or group.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ServerError carries an inbound error event through verbatim.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server: %s: %s", e.Code, e.Message)
}
