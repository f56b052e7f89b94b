// Package relay owns the TCP session with the RLBot bridge: it frames and
// unframes messages, exposes typed send methods, and dispatches decoded
// payloads to registered observers.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rlbot/go-interface/flat"
	"github.com/rlbot/go-interface/internal/logging"
	"github.com/rlbot/go-interface/internal/metrics"
	"github.com/rlbot/go-interface/wire"
)

const (
	// DefaultServerIP is where the bridge listens unless overridden.
	DefaultServerIP = "127.0.0.1"
	// DefaultServerPort is the port the bridge is expected to listen on.
	DefaultServerPort = 23234

	defaultConnectionTimeout = 120 * time.Second
	connectRetryInterval     = 100 * time.Millisecond
	disconnectGrace          = 5 * time.Second
)

// ServerEndpoint resolves the bridge endpoint, honoring the RLBOT_SERVER_IP
// and RLBOT_SERVER_PORT environment overrides.
func ServerEndpoint() (string, int) {
	ip := DefaultServerIP
	port := DefaultServerPort
	if v := os.Getenv("RLBOT_SERVER_IP"); v != "" {
		ip = v
	}
	if v := os.Getenv("RLBOT_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 1<<16 {
			port = n
		} else {
			logging.L().Warn("bad_server_port_env", "value", v)
		}
	}
	return ip, port
}

// Relay provides the communication channel with the bridge. Every instance
// owns its own observer lists; registration order is dispatch order.
// Registration is safe at any time, including after the run loop has started:
// lists are mutex-guarded and snapshot-iterated.
type Relay struct {
	agentID           string
	connectionTimeout time.Duration
	logger            *slog.Logger
	codec             wire.Codec

	connMu sync.Mutex // guards conn replacement
	conn   net.Conn
	reader *frameReader

	writeMu   sync.Mutex // serializes outbound frames
	connected atomic.Bool
	running   atomic.Bool

	handlersMu           sync.RWMutex
	onConnect            []func()
	rawHandlers          []func(wire.Message)
	packetHandlers       []func(*flat.GamePacket)
	fieldInfoHandlers    []func(*flat.FieldInfo)
	matchConfigHandlers  []func(*flat.MatchConfiguration)
	matchCommHandlers    []func(*flat.MatchComm)
	ballPredHandlers     []func(*flat.BallPrediction)
	teamInfoHandlers     []func(*flat.ControllableTeamInfo)
}

type Option func(*Relay)

// New creates a relay for the given agent id.
func New(agentID string, opts ...Option) *Relay {
	r := &Relay{
		agentID:           agentID,
		connectionTimeout: defaultConnectionTimeout,
		logger:            logging.Component("relay"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func WithConnectionTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.connectionTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// AgentID returns the identity this relay presents to the bridge.
func (r *Relay) AgentID() string { return r.agentID }

// IsConnected reports whether the session is established.
func (r *Relay) IsConnected() bool { return r.connected.Load() }

// Running reports whether a run loop is currently draining messages.
func (r *Relay) Running() bool { return r.running.Load() }

// OnConnect registers a callback fired once the session is established,
// before the ConnectionSettings frame goes out.
func (r *Relay) OnConnect(fn func()) {
	r.handlersMu.Lock()
	r.onConnect = append(r.onConnect, fn)
	r.handlersMu.Unlock()
}

// OnRaw registers a callback receiving every decoded frame before any
// kind-specific handler runs.
func (r *Relay) OnRaw(fn func(wire.Message)) {
	r.handlersMu.Lock()
	r.rawHandlers = append(r.rawHandlers, fn)
	r.handlersMu.Unlock()
}

func (r *Relay) OnGamePacket(fn func(*flat.GamePacket)) {
	r.handlersMu.Lock()
	r.packetHandlers = append(r.packetHandlers, fn)
	r.handlersMu.Unlock()
}

func (r *Relay) OnFieldInfo(fn func(*flat.FieldInfo)) {
	r.handlersMu.Lock()
	r.fieldInfoHandlers = append(r.fieldInfoHandlers, fn)
	r.handlersMu.Unlock()
}

func (r *Relay) OnMatchConfiguration(fn func(*flat.MatchConfiguration)) {
	r.handlersMu.Lock()
	r.matchConfigHandlers = append(r.matchConfigHandlers, fn)
	r.handlersMu.Unlock()
}

func (r *Relay) OnMatchComm(fn func(*flat.MatchComm)) {
	r.handlersMu.Lock()
	r.matchCommHandlers = append(r.matchCommHandlers, fn)
	r.handlersMu.Unlock()
}

func (r *Relay) OnBallPrediction(fn func(*flat.BallPrediction)) {
	r.handlersMu.Lock()
	r.ballPredHandlers = append(r.ballPredHandlers, fn)
	r.handlersMu.Unlock()
}

func (r *Relay) OnControllableTeamInfo(fn func(*flat.ControllableTeamInfo)) {
	r.handlersMu.Lock()
	r.teamInfoHandlers = append(r.teamInfoHandlers, fn)
	r.handlersMu.Unlock()
}

// sendBytes frames and transmits one message. The write lock keeps frames
// from interleaving when sends come from multiple goroutines.
func (r *Relay) sendBytes(kind wire.Kind, body []byte) error {
	if !r.connected.Load() {
		return fmt.Errorf("send %s: %w", kind, ErrNotConnected)
	}
	r.connMu.Lock()
	conn := r.conn
	r.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("send %s: %w", kind, ErrNotConnected)
	}
	r.writeMu.Lock()
	_, err := r.codec.EncodeTo(conn, kind, body)
	r.writeMu.Unlock()
	if err != nil {
		if errors.Is(err, wire.ErrBodyTooLarge) {
			r.logger.Error("send_too_big", "kind", kind.String(), "size", len(body))
			return err
		}
		wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}
	metrics.IncTx(len(body))
	return nil
}

// sendPacked serializes a schema record and transmits it under the given kind.
func (r *Relay) sendPacked(kind wire.Kind, v any) error {
	body, err := flat.Pack(v)
	if err != nil {
		return err
	}
	return r.sendBytes(kind, body)
}

// SendInitComplete signals that this agent finished initialization.
func (r *Relay) SendInitComplete() error {
	return r.sendBytes(wire.KindInitComplete, nil)
}

func (r *Relay) SendSetLoadout(s *flat.SetLoadout) error {
	return r.sendPacked(wire.KindSetLoadout, s)
}

func (r *Relay) SendMatchComm(c *flat.MatchComm) error {
	return r.sendPacked(wire.KindMatchComm, c)
}

func (r *Relay) SendPlayerInput(in *flat.PlayerInput) error {
	return r.sendPacked(wire.KindPlayerInput, in)
}

func (r *Relay) SendGameState(gs *flat.DesiredGameState) error {
	return r.sendPacked(wire.KindDesiredGameState, gs)
}

func (r *Relay) SendRenderGroup(g *flat.RenderGroup) error {
	return r.sendPacked(wire.KindRenderGroup, g)
}

func (r *Relay) RemoveRenderGroup(id int32) error {
	return r.sendPacked(wire.KindRemoveRenderGroup, &flat.RemoveRenderGroup{ID: id})
}

// StopMatch ends the current match, optionally taking the server down too.
func (r *Relay) StopMatch(shutdownServer bool) error {
	return r.sendPacked(wire.KindStopCommand, &flat.StopCommand{ShutdownServer: shutdownServer})
}

// StartMatchFromPath asks the server to load a match configuration file.
func (r *Relay) StartMatchFromPath(path string) error {
	return r.sendPacked(wire.KindStartCommand, &flat.StartCommand{ConfigPath: path})
}

// StartMatch submits an inline match configuration.
func (r *Relay) StartMatch(cfg *flat.MatchConfiguration) error {
	return r.sendPacked(wire.KindMatchConfiguration, cfg)
}
