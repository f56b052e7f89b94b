package manager

import (
	"github.com/rlbot/go-interface/flat"
	"github.com/rlbot/go-interface/internal/logging"
	"github.com/rlbot/go-interface/internal/metrics"
	"github.com/rlbot/go-interface/relay"
)

// scriptTeam is the sentinel team scripts identify with in match
// communications. It deliberately lies outside the 0/1 player domain.
const scriptTeam = 2

// Script runs a passive observer: it sees everything a bot sees and may
// override game state, but emits no controller input. HandlePacket is the
// only required hook.
type Script struct {
	// HandlePacket receives the freshest game packet each tick. Required.
	HandlePacket func(packet *flat.GamePacket)
	// Initialize runs once after all preconditions arrive. An error is fatal.
	Initialize func() error
	// HandleMatchComm receives communications from other agents.
	HandleMatchComm func(comm *flat.MatchComm)
	// Retire runs after the message loop exits.
	Retire func()

	// Populated before Initialize runs.
	Index uint32
	Name  string

	ballPrediction *flat.BallPrediction

	eng  engine
	opts options
}

// NewScript constructs a script identified by RLBOT_AGENT_ID, falling back
// to defaultAgentID. An empty resolved id is fatal.
func NewScript(defaultAgentID string, opts ...Option) *Script {
	o := buildOptions(opts)
	logger := o.logger
	if logger == nil {
		logger = logging.Component("script")
	}
	if o.agentID == "" {
		o.agentID = ResolveAgentID(defaultAgentID)
	}
	s := &Script{opts: o}
	s.eng = engine{
		logger: logger,
		relay: relay.New(resolveIdentity(o, logger),
			relay.WithConnectionTimeout(o.connectionTimeout),
			relay.WithLogger(logger)),
	}
	s.eng.tryInitialize = s.tryInitialize
	s.eng.process = s.processPacket
	s.eng.subscribe()
	s.eng.relay.OnMatchComm(s.handleMatchComm)
	return s
}

// MatchConfig returns the active match configuration. Valid once Initialize
// has been called.
func (s *Script) MatchConfig() *flat.MatchConfiguration { return s.eng.matchConfig }

// FieldInfo returns the static field geometry. Valid once Initialize has
// been called.
func (s *Script) FieldInfo() *flat.FieldInfo { return s.eng.fieldInfo }

// BallPrediction returns the prediction snapshotted alongside the packet
// currently being processed.
func (s *Script) BallPrediction() *flat.BallPrediction { return s.ballPrediction }

func (s *Script) tryInitialize() {
	if s.eng.initialized || !s.eng.ready() {
		return
	}
	found := false
	for i, sc := range s.eng.matchConfig.ScriptConfigurations {
		if sc.AgentID == s.eng.relay.AgentID() {
			s.Index = uint32(i)
			s.Name = sc.Name
			s.eng.logger = s.eng.logger.With("agent", s.Name)
			found = true
			break
		}
	}
	if !found {
		s.eng.logger.Warn("script_not_in_match_config", "agent_id", s.eng.relay.AgentID())
	}
	s.eng.runUserInit(s.Name, s.Initialize)
	if err := s.eng.relay.SendInitComplete(); err != nil {
		s.eng.logger.Error("init_complete_send_failed", "error", err)
	}
	s.eng.initialized = true
}

func (s *Script) handleMatchComm(comm *flat.MatchComm) {
	if !s.eng.initialized || s.HandleMatchComm == nil {
		return
	}
	if comm.Index == s.Index && comm.Team == scriptTeam {
		return // our own message
	}
	s.eng.callTick("handle_match_comm", func() { s.HandleMatchComm(comm) })
}

func (s *Script) processPacket(packet *flat.GamePacket) {
	if !s.eng.initialized {
		return
	}
	s.ballPrediction = s.eng.latestPrediction
	if s.ballPrediction == nil {
		s.ballPrediction = noPrediction
	}
	metrics.IncProcessed()
	s.eng.callTick("handle_packet", func() { s.HandlePacket(packet) })
}

// SendMatchComm emits a communication on this script's behalf.
func (s *Script) SendMatchComm(content []byte, display string, teamOnly bool) error {
	return s.eng.relay.SendMatchComm(&flat.MatchComm{
		Index:    s.Index,
		Team:     scriptTeam,
		TeamOnly: teamOnly,
		Display:  display,
		Content:  content,
	})
}

// SetGameState overrides parts of the live game state. Requires state
// setting to be enabled in the match configuration.
func (s *Script) SetGameState(gs *flat.DesiredGameState) error {
	return s.eng.relay.SendGameState(gs)
}

// Run connects to the bridge and drives the script until the session ends.
func (s *Script) Run() error {
	if s.HandlePacket == nil {
		logging.Critical(s.eng.logger, "handle_packet_missing")
	}
	ip, port := s.opts.serverIP, s.opts.serverPort
	if ip == "" && port == 0 {
		ip, port = relay.ServerEndpoint()
	}
	if err := s.eng.relay.Connect(relay.ConnectOptions{
		WantsMatchComms:      s.opts.wantsMatchComms,
		WantsBallPredictions: s.opts.wantsPredictions,
		CloseBetweenMatches:  true,
		ServerIP:             ip,
		ServerPort:           port,
	}); err != nil {
		return err
	}
	defer s.eng.relay.Close()
	s.eng.loop()
	if s.Retire != nil {
		s.eng.callTick("retire", s.Retire)
	}
	return nil
}
