// Package session drives a single client connection: ingesting uploaded
// frames into stored images, or streaming stored images back out.
package session

import (
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/fly-io/imageuploader/pkg/errors"
)

// Conn is a frame-oriented duplex stream. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Observer receives session telemetry.
type Observer interface {
	ObserveFrameStored(size int)
	ObserveFrameRejected(reason string)
	ObserveSession(direction, result string)
}

type noopObserver struct{}

func (noopObserver) ObserveFrameStored(int)        {}
func (noopObserver) ObserveFrameRejected(string)   {}
func (noopObserver) ObserveSession(string, string) {}

// isCloseFrame reports whether a read error is the peer's close frame,
// which ends a session normally whatever its status code.
func isCloseFrame(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

func transportError(err error) error {
	return fmt.Errorf("%w: %v", errors.ErrTransport, err)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// rejectReason labels why a frame ended its session.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrDecode):
		return "decode"
	case errors.Is(err, errors.ErrEncode):
		return "encode"
	case errors.Is(err, errors.ErrTransport):
		return "transport"
	case errors.Is(err, errors.ErrQueueFull), errors.Is(err, errors.ErrStoreUnavailable):
		return "store"
	default:
		return "io"
	}
}
