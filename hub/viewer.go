package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

type viewerState int32

const (
	statePending viewerState = iota
	stateActive
	stateClosed
)

var (
	errViewerClosed = errors.New("viewer closed")
	errBufferFull   = errors.New("viewer send buffer full")
)

// viewer is one overlay connection. The writer goroutine owns data frames;
// control frames go through WriteControl, which gorilla allows concurrently.
type viewer struct {
	id      string
	channel string
	ip      string
	conn    *websocket.Conn
	clock   clockwork.Clock

	send  chan []byte
	done  chan struct{}
	state atomic.Int32
	alive atomic.Bool

	writeTimeout time.Duration
	// lastActivity is the accept time. Viewers send no data and pongs only
	// mark them alive, so nothing moves it forward.
	lastActivity time.Time

	closeOnce sync.Once
}

func newViewer(conn *websocket.Conn, channel, ip string, buffer int, writeTimeout time.Duration, clock clockwork.Clock) *viewer {
	v := &viewer{
		id:           uuid.NewString(),
		channel:      channel,
		ip:           ip,
		conn:         conn,
		clock:        clock,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		lastActivity: clock.Now(),
	}
	v.alive.Store(true)
	return v
}

func (v *viewer) getState() viewerState { return viewerState(v.state.Load()) }

func (v *viewer) activate() bool {
	return v.state.CompareAndSwap(int32(statePending), int32(stateActive))
}

func (v *viewer) idleFor() time.Duration {
	return v.clock.Since(v.lastActivity)
}

// enqueue hands data to the writer without blocking.
func (v *viewer) enqueue(data []byte) error {
	select {
	case <-v.done:
		return errViewerClosed
	default:
	}
	select {
	case v.send <- data:
		return nil
	case <-v.done:
		return errViewerClosed
	default:
		return errBufferFull
	}
}

// writeLoop drains the send buffer until the viewer closes. onError is called
// once if a write fails.
func (v *viewer) writeLoop(onError func(error)) {
	for {
		select {
		case <-v.done:
			return
		case data := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(v.writeTimeout))
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				onError(err)
				return
			}
		}
	}
}

func (v *viewer) ping() error {
	return v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(v.writeTimeout))
}

// close marks the viewer closed and sends a close frame in the background.
// It reports false if the viewer was already closed.
func (v *viewer) close(code int, text string) bool {
	return v.shutdown(func() {
		msg := websocket.FormatCloseMessage(code, text)
		_ = v.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(v.writeTimeout))
		_ = v.conn.Close()
	})
}

// terminate drops the connection without a close handshake.
func (v *viewer) terminate() bool {
	return v.shutdown(func() { _ = v.conn.Close() })
}

func (v *viewer) shutdown(fn func()) bool {
	closed := false
	v.closeOnce.Do(func() {
		closed = true
		v.state.Store(int32(stateClosed))
		close(v.done)
		go fn()
	})
	return closed
}
