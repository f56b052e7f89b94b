package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rlbot/go-interface/flat"
	"github.com/rlbot/go-interface/internal/metrics"
	"github.com/rlbot/go-interface/wire"
)

// ConnectOptions selects the optional message streams and the endpoint.
// Zero-value IP/port fall back to the defaults (the RLBOT_SERVER_* overrides
// are resolved by ServerEndpoint, not here).
type ConnectOptions struct {
	WantsMatchComms      bool
	WantsBallPredictions bool
	CloseBetweenMatches  bool
	ServerIP             string
	ServerPort           int
}

// Connect dials the bridge and opens the session. While the bridge refuses
// or aborts the connection the dial is retried every 100 ms until the
// connection timeout elapses, with a periodic warning that backs off from
// 10 s doubling. On success the socket runs with TCP_NODELAY, on-connect
// callbacks fire in registration order, and a ConnectionSettings frame
// introduces the agent.
func (r *Relay) Connect(opts ConnectOptions) error {
	if r.connected.Load() {
		return errors.New("relay: connection has already been established")
	}
	ip := opts.ServerIP
	if ip == "" {
		ip = DefaultServerIP
	}
	port := opts.ServerPort
	if port == 0 {
		port = DefaultServerPort
	}
	addr := net.JoinHostPort(ip, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(context.Background(), r.connectionTimeout)
	defer cancel()

	start := time.Now()
	nextWarning := 10 * time.Second
	var conn net.Conn
	dial := func() error {
		c, err := net.DialTimeout("tcp", addr, r.connectionTimeout)
		if err == nil {
			conn = c
			return nil
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return backoff.Permanent(fmt.Errorf("%w: %s: %v", ErrConnectTimeout, addr, err))
		}
		if isRefused(err) {
			metrics.IncConnectRetry()
			if time.Since(start) > nextWarning {
				nextWarning *= 2
				r.logger.Warn("connect_retrying", "addr", addr, "elapsed", time.Since(start).Round(time.Second).String())
			}
			return err
		}
		return backoff.Permanent(fmt.Errorf("%w: %s: %v", ErrConnectRefused, addr, err))
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(connectRetryInterval), ctx)
	if err := backoff.Retry(dial, b); err != nil {
		var wrap error
		switch {
		case errors.Is(err, ErrConnectTimeout) || errors.Is(err, ErrConnectRefused):
			wrap = err
		case ctx.Err() != nil:
			wrap = fmt.Errorf("%w: %s was refused/aborted for %s; is the bridge running?", ErrConnectRefused, addr, r.connectionTimeout)
		default:
			wrap = fmt.Errorf("%w: %s: %v", ErrConnectRefused, addr, err)
		}
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		// Ticks must not queue behind Nagle.
		_ = tcp.SetNoDelay(true)
	}

	r.connMu.Lock()
	r.conn = conn
	r.reader = newFrameReader(conn)
	r.connMu.Unlock()
	r.connected.Store(true)
	r.logger.Info("connected", "addr", addr, "local", conn.LocalAddr().String())

	r.handlersMu.RLock()
	onConnect := make([]func(), len(r.onConnect))
	copy(onConnect, r.onConnect)
	r.handlersMu.RUnlock()
	for _, fn := range onConnect {
		fn()
	}

	return r.sendPacked(wire.KindConnectionSettings, &flat.ConnectionSettings{
		AgentID:              r.agentID,
		WantsBallPredictions: opts.WantsBallPredictions,
		WantsComms:           opts.WantsMatchComms,
		CloseBetweenMatches:  opts.CloseBetweenMatches,
	})
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNABORTED)
}
