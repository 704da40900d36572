package domain

import "errors"

var (
	// ErrUpstreamConnect wraps a failed LiveSource connect; the room retries.
	ErrUpstreamConnect = errors.New("upstream connect failed")
	// ErrUpstreamExhausted is terminal for a room: every reconnect attempt failed.
	ErrUpstreamExhausted = errors.New("upstream unavailable after maximum reconnect attempts")
	// ErrSubscriberBackpressure drops a subscriber whose outbound queue is full.
	ErrSubscriberBackpressure = errors.New("subscriber outbound queue full")
	// ErrInvalidControlMessage rejects a malformed client request.
	ErrInvalidControlMessage = errors.New("invalid control message")
	// ErrTransportClosed means the subscriber's connection is gone.
	ErrTransportClosed = errors.New("transport closed")
	// ErrRoomClosing rejects a subscribe racing a room teardown. Retryable.
	ErrRoomClosing = errors.New("room is closing")
	// ErrRoomClosedByOperator is sent when an admin force-closes a room.
	ErrRoomClosedByOperator = errors.New("room closed by operator")
	// ErrRelayShutdown is sent to subscribers when the relay stops.
	ErrRelayShutdown = errors.New("relay is shutting down")
	// ErrRegistryClosed rejects room creation after shutdown.
	ErrRegistryClosed = errors.New("room registry closed")
)

// IsRetryable reports whether a client may retry the request that produced err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRoomClosing) || errors.Is(err, ErrUpstreamConnect)
}

// ErrorCode maps a relay error to the code sent on the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidControlMessage):
		return ErrCodeInvalidRoom
	case errors.Is(err, ErrRoomClosing):
		return ErrCodeRoomClosing
	case errors.Is(err, ErrUpstreamExhausted):
		return ErrCodeUpstreamExhausted
	case errors.Is(err, ErrRoomClosedByOperator):
		return ErrCodeRoomClosed
	case errors.Is(err, ErrRelayShutdown), errors.Is(err, ErrRegistryClosed):
		return ErrCodeRelayShutdown
	default:
		return ErrCodeInternalError
	}
}
