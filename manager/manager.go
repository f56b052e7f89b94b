// Package manager drives agent processes against the RLBot bridge: it
// gathers the match configuration, field info and controllable assignment an
// agent needs before user code runs, then feeds user hooks the freshest game
// packet each tick without ever falling behind the bridge's packet rate.
package manager

import (
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/rlbot/go-interface/flat"
	"github.com/rlbot/go-interface/internal/logging"
	"github.com/rlbot/go-interface/internal/metrics"
	"github.com/rlbot/go-interface/relay"
)

// ResolveAgentID returns the identity this process presents to the bridge:
// the RLBOT_AGENT_ID environment variable, or the given fallback.
func ResolveAgentID(defaultID string) string {
	if v := os.Getenv("RLBOT_AGENT_ID"); v != "" {
		return v
	}
	return defaultID
}

type options struct {
	agentID           string // explicit override, skips env resolution
	connectionTimeout time.Duration
	logger            *slog.Logger
	wantsMatchComms   bool
	wantsPredictions  bool
	serverIP          string
	serverPort        int
}

type Option func(*options)

// WithAgentID bypasses RLBOT_AGENT_ID resolution entirely.
func WithAgentID(id string) Option { return func(o *options) { o.agentID = id } }

func WithConnectionTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectionTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithoutMatchComms opts out of the match communication stream.
func WithoutMatchComms() Option { return func(o *options) { o.wantsMatchComms = false } }

// WithoutBallPredictions opts out of the ball prediction stream.
func WithoutBallPredictions() Option { return func(o *options) { o.wantsPredictions = false } }

// WithServerEndpoint pins the bridge endpoint instead of the defaults and
// RLBOT_SERVER_* overrides.
func WithServerEndpoint(ip string, port int) Option {
	return func(o *options) {
		o.serverIP = ip
		o.serverPort = port
	}
}

func buildOptions(opts []Option) options {
	o := options{
		wantsMatchComms:  true,
		wantsPredictions: true,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// resolveIdentity produces the agent id or exits: an agent cannot register
// with the bridge anonymously.
func resolveIdentity(o options, logger *slog.Logger) string {
	if o.agentID != "" {
		return o.agentID
	}
	id := ResolveAgentID("")
	if id == "" {
		logging.Critical(logger, "agent_id_missing",
			"hint", "set the RLBOT_AGENT_ID environment variable or pass a default agent id")
	}
	return id
}

// engine is the state shared by the bot, hivemind and script flavors:
// the relay, the readiness latch, and the packet coalescing slots. All
// fields are touched only from the thread driving the message loop.
type engine struct {
	relay  *relay.Relay
	logger *slog.Logger

	matchConfig    *flat.MatchConfiguration
	fieldInfo      *flat.FieldInfo
	team           uint32
	controllables  []flat.Controllable

	hasMatchConfig   bool
	hasFieldInfo     bool
	hasControllables bool
	initialized      bool

	pending          *flat.GamePacket
	latestPrediction *flat.BallPrediction

	// flavor hooks
	tryInitialize func()
	process       func(*flat.GamePacket)
}

// subscribe wires the readiness and coalescing handlers. The packet handler
// never processes: it only parks the newest packet, superseding any parked
// one, so the loop reacts to the freshest state without blocking the bridge.
func (e *engine) subscribe() {
	e.relay.OnMatchConfiguration(func(cfg *flat.MatchConfiguration) {
		e.matchConfig = cfg
		e.hasMatchConfig = true
		e.tryInitialize()
	})
	e.relay.OnFieldInfo(func(fi *flat.FieldInfo) {
		e.fieldInfo = fi
		e.hasFieldInfo = true
		e.tryInitialize()
	})
	e.relay.OnControllableTeamInfo(func(info *flat.ControllableTeamInfo) {
		e.team = info.Team
		e.controllables = info.Controllables
		e.hasControllables = true
		e.tryInitialize()
	})
	e.relay.OnBallPrediction(func(bp *flat.BallPrediction) {
		e.latestPrediction = bp
	})
	e.relay.OnGamePacket(func(p *flat.GamePacket) {
		if e.pending != nil {
			metrics.IncSuperseded()
		}
		e.pending = p
	})
}

func (e *engine) ready() bool {
	return e.hasMatchConfig && e.hasFieldInfo && e.hasControllables
}

// loop is the packet coalescing loop. It blocks only when nothing is
// pending, so every parked packet is processed as soon as the queue drains,
// and every non-packet message is dispatched the moment it arrives.
func (e *engine) loop() {
	for {
		switch e.relay.HandleIncoming(e.pending == nil) {
		case relay.Terminated:
			return
		case relay.NoIncomingMsgs:
			if p := e.pending; p != nil {
				e.pending = nil
				e.process(p)
			}
		case relay.MoreMsgsQueued:
		}
	}
}

// runUserInit invokes the user's initialize hook. A failure here is fatal:
// the agent cannot run without its init having completed.
func (e *engine) runUserInit(name string, init func() error) {
	defer func() {
		if p := recover(); p != nil {
			logging.Critical(e.logger, "initialize_panic", "agent", name, "panic", p, "stack", string(debug.Stack()))
		}
	}()
	if init == nil {
		return
	}
	if err := init(); err != nil {
		logging.Critical(e.logger, "initialize_failed", "agent", name, "error", err)
	}
}

// callTick runs a per-tick user hook, absorbing failures so one bad tick
// does not take the agent down.
func (e *engine) callTick(what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			metrics.IncError(metrics.ErrHandler)
			e.logger.Error("tick_error", "hook", what, "panic", p, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
