package manager

import (
	"github.com/rlbot/go-interface/flat"
	"github.com/rlbot/go-interface/internal/logging"
	"github.com/rlbot/go-interface/internal/metrics"
	"github.com/rlbot/go-interface/relay"
)

// Hivemind runs a multi-car agent: one process controlling every car the
// bridge assigns to it. GetOutputs is the only required hook.
type Hivemind struct {
	// GetOutputs produces this tick's controller state for each controlled
	// car, keyed by player index. Required.
	GetOutputs func(packet *flat.GamePacket) map[uint32]flat.ControllerState
	// Initialize runs once after all preconditions arrive. An error is fatal.
	Initialize func() error
	// HandleMatchComm receives communications from other agents.
	HandleMatchComm func(comm *flat.MatchComm)
	// Retire runs after the message loop exits.
	Retire func()

	// Populated before Initialize runs.
	Indices  []uint32
	SpawnIDs []int32
	Team     uint32
	Names    []string

	ballPrediction *flat.BallPrediction

	eng  engine
	opts options
}

// NewHivemind constructs a hivemind identified by RLBOT_AGENT_ID, falling
// back to defaultAgentID. An empty resolved id is fatal.
func NewHivemind(defaultAgentID string, opts ...Option) *Hivemind {
	o := buildOptions(opts)
	logger := o.logger
	if logger == nil {
		logger = logging.Component("hivemind")
	}
	if o.agentID == "" {
		o.agentID = ResolveAgentID(defaultAgentID)
	}
	h := &Hivemind{opts: o}
	h.eng = engine{
		logger: logger,
		relay: relay.New(resolveIdentity(o, logger),
			relay.WithConnectionTimeout(o.connectionTimeout),
			relay.WithLogger(logger)),
	}
	h.eng.tryInitialize = h.tryInitialize
	h.eng.process = h.processPacket
	h.eng.subscribe()
	h.eng.relay.OnMatchComm(h.handleMatchComm)
	return h
}

// MatchConfig returns the active match configuration. Valid once Initialize
// has been called.
func (h *Hivemind) MatchConfig() *flat.MatchConfiguration { return h.eng.matchConfig }

// FieldInfo returns the static field geometry. Valid once Initialize has
// been called.
func (h *Hivemind) FieldInfo() *flat.FieldInfo { return h.eng.fieldInfo }

// BallPrediction returns the prediction snapshotted alongside the packet
// currently being processed.
func (h *Hivemind) BallPrediction() *flat.BallPrediction { return h.ballPrediction }

func (h *Hivemind) tryInitialize() {
	if h.eng.initialized || !h.eng.ready() {
		return
	}
	h.Team = h.eng.team
	for _, c := range h.eng.controllables {
		h.Indices = append(h.Indices, c.Index)
		h.SpawnIDs = append(h.SpawnIDs, c.SpawnID)
		for _, p := range h.eng.matchConfig.PlayerConfigurations {
			if p.SpawnID == c.SpawnID {
				h.Names = append(h.Names, p.Name)
				break
			}
		}
	}
	if len(h.Names) > 0 {
		h.eng.logger = h.eng.logger.With("agent", h.Names[0])
	}
	h.eng.runUserInit(h.eng.relay.AgentID(), h.Initialize)
	if err := h.eng.relay.SendInitComplete(); err != nil {
		h.eng.logger.Error("init_complete_send_failed", "error", err)
	}
	h.eng.initialized = true
}

func (h *Hivemind) handleMatchComm(comm *flat.MatchComm) {
	if !h.eng.initialized || h.HandleMatchComm == nil {
		return
	}
	if comm.Team == h.Team {
		for _, idx := range h.Indices {
			if comm.Index == idx {
				return // one of ours
			}
		}
	} else if comm.TeamOnly {
		return
	}
	h.eng.callTick("handle_match_comm", func() { h.HandleMatchComm(comm) })
}

func (h *Hivemind) processPacket(packet *flat.GamePacket) {
	if !h.eng.initialized {
		return
	}
	h.ballPrediction = h.eng.latestPrediction
	if h.ballPrediction == nil {
		h.ballPrediction = noPrediction
	}
	metrics.IncProcessed()
	h.eng.callTick("get_outputs", func() {
		outputs := h.GetOutputs(packet)
		for index, state := range outputs {
			if err := h.eng.relay.SendPlayerInput(&flat.PlayerInput{Index: index, ControllerState: state}); err != nil {
				h.eng.logger.Error("player_input_send_failed", "index", index, "error", err)
			}
		}
	})
}

// SendMatchComm emits a communication on behalf of one controlled car.
func (h *Hivemind) SendMatchComm(index uint32, content []byte, display string, teamOnly bool) error {
	return h.eng.relay.SendMatchComm(&flat.MatchComm{
		Index:    index,
		Team:     h.Team,
		TeamOnly: teamOnly,
		Display:  display,
		Content:  content,
	})
}

// SetLoadout overrides one car's loadout by spawn id.
func (h *Hivemind) SetLoadout(spawnID int32, loadout flat.PlayerLoadout) error {
	return h.eng.relay.SendSetLoadout(&flat.SetLoadout{SpawnID: spawnID, Loadout: loadout})
}

// SetGameState overrides parts of the live game state. Requires state
// setting to be enabled in the match configuration.
func (h *Hivemind) SetGameState(gs *flat.DesiredGameState) error {
	return h.eng.relay.SendGameState(gs)
}

// Run connects to the bridge and drives the hivemind until the session ends.
func (h *Hivemind) Run() error {
	if h.GetOutputs == nil {
		logging.Critical(h.eng.logger, "get_outputs_missing")
	}
	ip, port := h.opts.serverIP, h.opts.serverPort
	if ip == "" && port == 0 {
		ip, port = relay.ServerEndpoint()
	}
	if err := h.eng.relay.Connect(relay.ConnectOptions{
		WantsMatchComms:      h.opts.wantsMatchComms,
		WantsBallPredictions: h.opts.wantsPredictions,
		CloseBetweenMatches:  true,
		ServerIP:             ip,
		ServerPort:           port,
	}); err != nil {
		return err
	}
	defer h.eng.relay.Close()
	h.eng.loop()
	if h.Retire != nil {
		h.eng.callTick("retire", h.Retire)
	}
	return nil
}
