// Package match orchestrates a match end to end: it brings the server up,
// submits the match configuration, watches for the match to start, and
// escalates shutdown when the server will not die politely.
package match

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/rlbot/go-interface/flat"
	"github.com/rlbot/go-interface/gateway"
	"github.com/rlbot/go-interface/internal/logging"
	"github.com/rlbot/go-interface/relay"
)

// serverProcess abstracts the handle the escalation loop drives, so tests
// can stand in for a live server.
type serverProcess interface {
	Pid() int32
	Terminate() error
	Kill() error
}

type gopsProc struct{ p *process.Process }

func (g gopsProc) Pid() int32       { return g.p.Pid }
func (g gopsProc) Terminate() error { return g.p.Terminate() }
func (g gopsProc) Kill() error      { return g.p.Kill() }

// Hooks for tests to intercept sleeping and process lookup.
var (
	sleepFn = time.Sleep

	findServerProcess = func(name string) (serverProcess, int, error) {
		p, port, err := gateway.FindServerProcess(name)
		if err != nil || p == nil {
			return nil, port, err
		}
		return gopsProc{p}, port, nil
	}

	launchServer = gateway.Launch
)

const waitForStartInterval = 100 * time.Millisecond

// Manager supervises the server binary and drives match start/stop. One
// Manager owns the server process handle for the whole match cycle.
type Manager struct {
	logger  *slog.Logger
	relay   *relay.Relay
	exeName string
	exeDir  string
	connTO  time.Duration

	serverProc serverProcess
	serverPort int

	initialized bool

	packetMu sync.Mutex
	packet   *flat.GamePacket
}

type Option func(*Manager)

// WithExecutableName overrides the server binary's image name.
func WithExecutableName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.exeName = name
		}
	}
}

// WithExecutableDir sets where to look for the server binary: either the
// file itself or a directory searched recursively.
func WithExecutableDir(dir string) Option { return func(m *Manager) { m.exeDir = dir } }

// WithConnectionTimeout bounds how long the control session dials the
// bridge before giving up.
func WithConnectionTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.connTO = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a match supervisor. The embedded relay carries no agent
// identity; it exists to push match-control messages.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:     logging.Component("match"),
		exeName:    gateway.DefaultExecutableName(),
		serverPort: relay.DefaultServerPort,
	}
	for _, o := range opts {
		o(m)
	}
	m.relay = relay.New("", relay.WithLogger(m.logger), relay.WithConnectionTimeout(m.connTO))
	m.relay.OnGamePacket(func(p *flat.GamePacket) {
		m.packetMu.Lock()
		m.packet = p
		m.packetMu.Unlock()
	})
	return m
}

// Relay exposes the underlying relay, mainly for tests and advanced callers.
func (m *Manager) Relay() *relay.Relay { return m.relay }

// ServerPort returns the port the supervised server listens on.
func (m *Manager) ServerPort() int { return m.serverPort }

// EnsureServerStarted makes sure a server is running: it attaches to an
// existing process by image name, or launches a fresh one on a free port.
func (m *Manager) EnsureServerStarted() error {
	proc, port, err := findServerProcess(m.exeName)
	if err != nil {
		return err
	}
	if proc != nil {
		m.serverProc = proc
		m.serverPort = port
		m.logger.Info("server_already_running", "name", m.exeName, "pid", proc.Pid(), "port", port)
		return nil
	}
	dir := m.exeDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	osProc, port, err := launchServer(dir, m.exeName)
	if err != nil {
		return err
	}
	m.serverPort = port
	if p, perr := process.NewProcess(int32(osProc.Pid)); perr == nil {
		m.serverProc = gopsProc{p}
	}
	m.logger.Info("server_started", "name", m.exeName, "pid", osProc.Pid, "port", port)
	return nil
}

// connectIfNeeded opens the control session and drains it on a background
// worker so match-control sends can come from the caller's thread.
func (m *Manager) connectIfNeeded() error {
	if m.relay.IsConnected() {
		return nil
	}
	if err := m.relay.Connect(relay.ConnectOptions{
		WantsMatchComms:      false,
		WantsBallPredictions: false,
		CloseBetweenMatches:  false,
		ServerPort:           m.serverPort,
	}); err != nil {
		return err
	}
	m.relay.Run(true)
	return nil
}

// latestPhase reports the most recent packet's match phase, or ok=false
// before any packet has arrived.
func (m *Manager) latestPhase() (flat.MatchPhase, bool) {
	m.packetMu.Lock()
	defer m.packetMu.Unlock()
	if m.packet == nil {
		return flat.PhaseInactive, false
	}
	return m.packet.MatchInfo.MatchPhase, true
}

// WaitForFirstPacket blocks until the match has left the Inactive/Ended
// phases, polling the latest packet every 100 ms.
func (m *Manager) WaitForFirstPacket() {
	for {
		phase, ok := m.latestPhase()
		if ok && phase != flat.PhaseInactive && phase != flat.PhaseEnded {
			return
		}
		sleepFn(waitForStartInterval)
	}
}

// StartMatchFromPath starts a match described by an on-disk configuration
// file; the server parses it.
func (m *Manager) StartMatchFromPath(path string, waitForStart bool) error {
	return m.startMatch(func() error { return m.relay.StartMatchFromPath(path) }, waitForStart)
}

// StartMatch starts a match from an inline configuration.
func (m *Manager) StartMatch(cfg *flat.MatchConfiguration, waitForStart bool) error {
	return m.startMatch(func() error { return m.relay.StartMatch(cfg) }, waitForStart)
}

func (m *Manager) startMatch(send func() error, waitForStart bool) error {
	if err := m.EnsureServerStarted(); err != nil {
		return err
	}
	if err := m.connectIfNeeded(); err != nil {
		return err
	}
	m.logger.Info("starting_match")
	if err := send(); err != nil {
		return err
	}
	if !m.initialized {
		if err := m.relay.SendInitComplete(); err != nil {
			return err
		}
		m.initialized = true
	}
	if waitForStart {
		m.WaitForFirstPacket()
		m.logger.Info("match_started")
	}
	return nil
}

// StopMatch ends the current match but leaves the server running.
func (m *Manager) StopMatch() error { return m.relay.StopMatch(false) }

// SetGameState applies a sparse state override to the running match.
func (m *Manager) SetGameState(
	balls map[int]flat.DesiredBallState,
	cars map[int]flat.DesiredCarState,
	matchInfo *flat.DesiredMatchInfo,
	commands []string,
) error {
	return m.relay.SendGameState(FillDesiredGameState(balls, cars, matchInfo, commands))
}

// Disconnect performs the orderly relay shutdown handshake.
func (m *Manager) Disconnect() { m.relay.Disconnect() }

// ShutDown asks the server to exit and, with ensureShutdown set, escalates:
// terminate after 1 s, terminate with a warning at 4 s and 7 s, then kill at
// 10 s and every 3 s after that until the process is gone.
func (m *Manager) ShutDown(ensureShutdown bool) {
	m.logger.Info("shutting_down_server")
	if err := m.relay.StopMatch(true); err != nil {
		proc, _, ferr := findServerProcess(m.exeName)
		if ferr != nil || proc == nil {
			m.logger.Warn("server_already_gone", "name", m.exeName)
			m.serverProc = nil
			return
		}
		m.logger.Warn("server_unreachable", "pid", proc.Pid())
		_ = proc.Terminate()
	}
	for i := 1; ; i++ {
		sleepFn(time.Second)
		proc, _, err := findServerProcess(m.exeName)
		if err != nil || proc == nil {
			break
		}
		m.logger.Info("waiting_for_server_exit", "name", m.exeName, "pid", proc.Pid())
		if !ensureShutdown {
			continue
		}
		switch {
		case i == 1:
			_ = proc.Terminate()
		case i == 4 || i == 7:
			m.logger.Warn("server_ignoring_terminate", "name", m.exeName)
			_ = proc.Terminate()
		case i >= 10 && i%3 == 1:
			m.logger.Error("server_unresponsive_killing", "name", m.exeName)
			_ = proc.Kill()
		}
	}
	m.serverProc = nil
	m.logger.Info("shutdown_complete")
}
