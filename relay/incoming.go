package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"time"

	"github.com/rlbot/go-interface/flat"
	"github.com/rlbot/go-interface/internal/metrics"
	"github.com/rlbot/go-interface/wire"
)

// StepResult reports the outcome of one HandleIncoming step.
type StepResult int

const (
	// Terminated: the session is over (shutdown request, I/O failure, or
	// protocol desync). The loop must exit.
	Terminated StepResult = iota
	// NoIncomingMsgs: a non-blocking step found nothing to read.
	NoIncomingMsgs
	// MoreMsgsQueued: one message was handled; more may be queued.
	MoreMsgsQueued
)

// sleepFn allows tests to intercept the disconnect grace poll.
var sleepFn = time.Sleep

// frameReader pairs the connection with its buffered reader so the
// non-blocking probe can honor buffered bytes before touching the socket.
type frameReader struct {
	conn net.Conn
	br   *bufio.Reader
}

func newFrameReader(conn net.Conn) *frameReader {
	return &frameReader{conn: conn, br: bufio.NewReaderSize(conn, wire.HeaderSize+wire.MaxBodySize)}
}

// poll reports whether at least one byte is available without blocking.
// Implemented with an immediate read deadline rather than O_NONBLOCK.
func (fr *frameReader) poll() (bool, error) {
	if fr.br.Buffered() > 0 {
		return true, nil
	}
	_ = fr.conn.SetReadDeadline(time.Now())
	_, err := fr.br.Peek(1)
	_ = fr.conn.SetReadDeadline(time.Time{})
	if err == nil {
		return true, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false, nil
	}
	return false, err
}

// HandleIncoming reads and dispatches at most one frame.
//
// With blocking=false it returns NoIncomingMsgs when the socket has nothing
// buffered. Otherwise it blocks for one frame, dispatches it to raw handlers
// and then the kind's typed handlers, and returns MoreMsgsQueued. A None
// frame from the server, any I/O failure, and any payload decode failure all
// yield Terminated.
func (r *Relay) HandleIncoming(blocking bool) StepResult {
	if !r.connected.Load() {
		return Terminated
	}
	r.connMu.Lock()
	fr := r.reader
	r.connMu.Unlock()
	if fr == nil {
		return Terminated
	}
	if !blocking {
		ok, err := fr.poll()
		if err != nil {
			r.logReadFailure(err)
			return Terminated
		}
		if !ok {
			return NoIncomingMsgs
		}
	}
	msg, err := r.codec.Decode(fr.br)
	if err != nil {
		r.logReadFailure(err)
		return Terminated
	}
	metrics.IncRx(len(msg.Body))
	return r.dispatch(msg)
}

func (r *Relay) logReadFailure(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		r.logger.Warn("relay_disconnected")
		return
	}
	wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
	metrics.IncError(mapErrToMetric(wrap))
	r.logger.Error("read_error", "error", err)
}

// dispatch routes one decoded frame: raw handlers first, then the kind's
// typed handlers in registration order.
func (r *Relay) dispatch(msg wire.Message) StepResult {
	r.handlersMu.RLock()
	raw := make([]func(wire.Message), len(r.rawHandlers))
	copy(raw, r.rawHandlers)
	r.handlersMu.RUnlock()
	for _, h := range raw {
		r.safeInvoke(msg.Kind, func() { h(msg) })
	}

	switch msg.Kind {
	case wire.KindNone:
		// Shutdown request. Body contents are not inspected.
		return Terminated
	case wire.KindGamePacket:
		return dispatchTyped(r, msg, snapshot(r, &r.packetHandlers))
	case wire.KindFieldInfo:
		return dispatchTyped(r, msg, snapshot(r, &r.fieldInfoHandlers))
	case wire.KindMatchConfiguration:
		return dispatchTyped(r, msg, snapshot(r, &r.matchConfigHandlers))
	case wire.KindMatchComm:
		return dispatchTyped(r, msg, snapshot(r, &r.matchCommHandlers))
	case wire.KindBallPrediction:
		return dispatchTyped(r, msg, snapshot(r, &r.ballPredHandlers))
	case wire.KindControllableTeamInfo:
		return dispatchTyped(r, msg, snapshot(r, &r.teamInfoHandlers))
	default:
		return MoreMsgsQueued
	}
}

func snapshot[T any](r *Relay, list *[]func(*T)) []func(*T) {
	r.handlersMu.RLock()
	out := make([]func(*T), len(*list))
	copy(out, *list)
	r.handlersMu.RUnlock()
	return out
}

// dispatchTyped unpacks the payload once and fans it out. Unpacking is
// skipped entirely when no handler wants the kind. A decode failure means
// the stream is desynced and terminates the session.
func dispatchTyped[T any](r *Relay, msg wire.Message, handlers []func(*T)) StepResult {
	if len(handlers) == 0 {
		return MoreMsgsQueued
	}
	v := new(T)
	if err := flat.Unpack(msg.Body, v); err != nil {
		metrics.IncError(metrics.ErrDecode)
		r.logger.Error("unpack_error", "kind", msg.Kind.String(), "size", len(msg.Body), "error", err)
		return Terminated
	}
	for _, h := range handlers {
		h := h
		r.safeInvoke(msg.Kind, func() { h(v) })
	}
	return MoreMsgsQueued
}

// safeInvoke shields the read loop from observer failures.
func (r *Relay) safeInvoke(kind wire.Kind, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			metrics.IncHandlerError(kind.String())
			r.logger.Error("handler_error", "kind", kind.String(), "panic", p, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Run drains incoming messages until the session terminates. With
// background=true the loop moves to its own goroutine and Run returns
// immediately.
func (r *Relay) Run(background bool) {
	if background {
		go r.Run(false)
		return
	}
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	defer r.running.Store(false)
	for r.connected.Load() {
		if r.HandleIncoming(true) == Terminated {
			return
		}
	}
}

// Disconnect requests an orderly shutdown: one None frame (body 0x01), then
// up to 5 s for the run loop to observe termination before the socket is
// forced closed.
func (r *Relay) Disconnect() {
	if !r.connected.Load() {
		r.logger.Warn("already_disconnected")
		return
	}
	if err := r.sendBytes(wire.KindNone, []byte{1}); err != nil {
		r.logger.Warn("disconnect_send_failed", "error", err)
	}
	deadline := time.Now().Add(disconnectGrace)
	for r.running.Load() && time.Now().Before(deadline) {
		sleepFn(100 * time.Millisecond)
	}
	if r.running.Load() {
		r.logger.Error("disconnect_unacknowledged")
	}
	r.close()
}

// Close force-closes the socket without the shutdown handshake. Safe to
// call whether or not a run loop is active.
func (r *Relay) Close() { r.close() }

// close tears the socket down and marks the session over.
func (r *Relay) close() {
	r.connMu.Lock()
	conn := r.conn
	r.conn = nil
	r.reader = nil
	r.connMu.Unlock()
	r.connected.Store(false)
	if conn != nil {
		_ = conn.Close()
	}
}
