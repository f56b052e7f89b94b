package manager

import (
	"github.com/rlbot/go-interface/flat"
	"github.com/rlbot/go-interface/internal/logging"
	"github.com/rlbot/go-interface/internal/metrics"
	"github.com/rlbot/go-interface/relay"
)

// Bot runs a single-car agent. Assign the hook fields before calling Run;
// GetOutput is the only required one.
type Bot struct {
	// GetOutput produces this tick's controller state. Required.
	GetOutput func(packet *flat.GamePacket) flat.ControllerState
	// Initialize runs once, after the match configuration, field info and
	// controllable assignment have all arrived. An error is fatal.
	Initialize func() error
	// HandleMatchComm receives communications from other agents.
	HandleMatchComm func(comm *flat.MatchComm)
	// Retire runs after the message loop exits.
	Retire func()

	// Populated before Initialize runs.
	Index   uint32
	Team    uint32
	SpawnID int32
	Name    string

	ballPrediction *flat.BallPrediction

	eng  engine
	opts options
}

// NewBot constructs a bot identified by RLBOT_AGENT_ID, falling back to
// defaultAgentID. An empty resolved id is fatal.
func NewBot(defaultAgentID string, opts ...Option) *Bot {
	o := buildOptions(opts)
	logger := o.logger
	if logger == nil {
		logger = logging.Component("bot")
	}
	if o.agentID == "" {
		o.agentID = ResolveAgentID(defaultAgentID)
	}
	b := &Bot{opts: o}
	b.eng = engine{
		logger: logger,
		relay: relay.New(resolveIdentity(o, logger),
			relay.WithConnectionTimeout(o.connectionTimeout),
			relay.WithLogger(logger)),
	}
	b.eng.tryInitialize = b.tryInitialize
	b.eng.process = b.processPacket
	b.eng.subscribe()
	b.eng.relay.OnMatchComm(b.handleMatchComm)
	return b
}

// MatchConfig returns the active match configuration. Valid once Initialize
// has been called.
func (b *Bot) MatchConfig() *flat.MatchConfiguration { return b.eng.matchConfig }

// FieldInfo returns the static field geometry. Valid once Initialize has
// been called.
func (b *Bot) FieldInfo() *flat.FieldInfo { return b.eng.fieldInfo }

// BallPrediction returns the prediction snapshotted alongside the packet
// currently being processed, so user code sees a consistent pair even if
// fresher predictions arrived since.
func (b *Bot) BallPrediction() *flat.BallPrediction { return b.ballPrediction }

func (b *Bot) tryInitialize() {
	if b.eng.initialized || !b.eng.ready() {
		return
	}
	if len(b.eng.controllables) == 0 {
		b.eng.logger.Warn("no_controllables_assigned")
		return
	}
	c := b.eng.controllables[0]
	b.SpawnID = c.SpawnID
	b.Index = c.Index
	b.Team = b.eng.team
	for _, p := range b.eng.matchConfig.PlayerConfigurations {
		if p.SpawnID == b.SpawnID {
			b.Name = p.Name
			b.eng.logger = b.eng.logger.With("agent", b.Name)
			break
		}
	}
	b.eng.runUserInit(b.Name, b.Initialize)
	if err := b.eng.relay.SendInitComplete(); err != nil {
		b.eng.logger.Error("init_complete_send_failed", "error", err)
	}
	b.eng.initialized = true
}

func (b *Bot) handleMatchComm(comm *flat.MatchComm) {
	if !b.eng.initialized || b.HandleMatchComm == nil {
		return
	}
	// Skip our own messages and other teams' private traffic.
	if (comm.Index == b.Index && comm.Team == b.Team) || (comm.TeamOnly && comm.Team != b.Team) {
		return
	}
	b.eng.callTick("handle_match_comm", func() { b.HandleMatchComm(comm) })
}

var noPrediction = &flat.BallPrediction{}

func (b *Bot) processPacket(packet *flat.GamePacket) {
	if !b.eng.initialized {
		return
	}
	b.ballPrediction = b.eng.latestPrediction
	if b.ballPrediction == nil {
		b.ballPrediction = noPrediction
	}
	metrics.IncProcessed()
	b.eng.callTick("get_output", func() {
		out := b.GetOutput(packet)
		if err := b.eng.relay.SendPlayerInput(&flat.PlayerInput{Index: b.Index, ControllerState: out}); err != nil {
			b.eng.logger.Error("player_input_send_failed", "error", err)
		}
	})
}

// SendMatchComm emits a communication on this bot's behalf. With teamOnly
// set only teammates receive it.
func (b *Bot) SendMatchComm(content []byte, display string, teamOnly bool) error {
	return b.eng.relay.SendMatchComm(&flat.MatchComm{
		Index:    b.Index,
		Team:     b.Team,
		TeamOnly: teamOnly,
		Display:  display,
		Content:  content,
	})
}

// SetLoadout overrides this bot's loadout. Effective during Initialize, or
// any time if the match configuration enables state setting.
func (b *Bot) SetLoadout(loadout flat.PlayerLoadout) error {
	return b.eng.relay.SendSetLoadout(&flat.SetLoadout{SpawnID: b.SpawnID, Loadout: loadout})
}

// SetGameState overrides parts of the live game state. Requires state
// setting to be enabled in the match configuration.
func (b *Bot) SetGameState(gs *flat.DesiredGameState) error {
	return b.eng.relay.SendGameState(gs)
}

// Run connects to the bridge and drives the bot until the session ends.
func (b *Bot) Run() error {
	if b.GetOutput == nil {
		logging.Critical(b.eng.logger, "get_output_missing")
	}
	ip, port := b.opts.serverIP, b.opts.serverPort
	if ip == "" && port == 0 {
		ip, port = relay.ServerEndpoint()
	}
	if err := b.eng.relay.Connect(relay.ConnectOptions{
		WantsMatchComms:      b.opts.wantsMatchComms,
		WantsBallPredictions: b.opts.wantsPredictions,
		CloseBetweenMatches:  true,
		ServerIP:             ip,
		ServerPort:           port,
	}); err != nil {
		return err
	}
	defer b.eng.relay.Close()
	b.eng.loop()
	if b.Retire != nil {
		b.eng.callTick("retire", b.Retire)
	}
	return nil
}
