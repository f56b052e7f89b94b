package manager

import (
	"net"
	"testing"
	"time"

	"github.com/rlbot/go-interface/flat"
	"github.com/rlbot/go-interface/wire"
)

// fakeBridge scripts the server side of an agent session.
type fakeBridge struct {
	t     *testing.T
	ln    net.Listener
	conn  net.Conn
	codec wire.Codec
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeBridge{t: t, ln: ln}
	t.Cleanup(func() {
		if f.conn != nil {
			_ = f.conn.Close()
		}
		_ = ln.Close()
	})
	return f
}

func (f *fakeBridge) port() int { return f.ln.Addr().(*net.TCPAddr).Port }

func (f *fakeBridge) accept() {
	f.t.Helper()
	conn, err := f.ln.Accept()
	if err != nil {
		f.t.Fatalf("accept: %v", err)
	}
	f.conn = conn
}

func (f *fakeBridge) readFrame() wire.Message {
	f.t.Helper()
	_ = f.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msg, err := f.codec.Decode(f.conn)
	if err != nil {
		f.t.Fatalf("bridge read frame: %v", err)
	}
	return msg
}

func (f *fakeBridge) expectFrame(kind wire.Kind) wire.Message {
	f.t.Helper()
	msg := f.readFrame()
	if msg.Kind != kind {
		f.t.Fatalf("bridge got %s frame, want %s", msg.Kind, kind)
	}
	return msg
}

func (f *fakeBridge) packFrame(kind wire.Kind, v any) []byte {
	f.t.Helper()
	var body []byte
	if v != nil {
		var err error
		body, err = flat.Pack(v)
		if err != nil {
			f.t.Fatalf("bridge pack: %v", err)
		}
	}
	frame, err := f.codec.Encode(kind, body)
	if err != nil {
		f.t.Fatalf("bridge encode: %v", err)
	}
	return frame
}

func (f *fakeBridge) writeFrame(kind wire.Kind, v any) {
	f.t.Helper()
	if _, err := f.conn.Write(f.packFrame(kind, v)); err != nil {
		f.t.Fatalf("bridge write: %v", err)
	}
}

func (f *fakeBridge) writeRaw(b []byte) {
	f.t.Helper()
	if _, err := f.conn.Write(b); err != nil {
		f.t.Fatalf("bridge write raw: %v", err)
	}
}

func testMatchConfig() *flat.MatchConfiguration {
	return &flat.MatchConfiguration{
		PlayerConfigurations: []flat.PlayerConfiguration{
			{AgentID: "X", Name: "Atba", Team: 0, SpawnID: 42},
		},
		ScriptConfigurations: []flat.ScriptConfiguration{
			{AgentID: "S", Name: "Observer"},
		},
	}
}

func testFieldInfo() *flat.FieldInfo {
	fi := &flat.FieldInfo{BoostPads: make([]flat.BoostPad, 34)}
	return fi
}

// sendPreconditions delivers the three readiness messages in bridge order.
func (f *fakeBridge) sendPreconditions(team uint32, controllables []flat.Controllable) {
	f.writeFrame(wire.KindMatchConfiguration, testMatchConfig())
	f.writeFrame(wire.KindFieldInfo, testFieldInfo())
	f.writeFrame(wire.KindControllableTeamInfo, &flat.ControllableTeamInfo{Team: team, Controllables: controllables})
}

func packet(frame uint32) *flat.GamePacket {
	return &flat.GamePacket{
		Players:   []flat.PlayerInfo{{SpawnID: 42, Name: "Atba"}},
		MatchInfo: flat.MatchInfo{FrameNum: frame, MatchPhase: flat.PhaseActive},
	}
}

func TestBotLifecycle(t *testing.T) {
	bridge := newFakeBridge(t)

	bot := NewBot("", WithAgentID("X"), WithServerEndpoint("127.0.0.1", bridge.port()),
		WithConnectionTimeout(5*time.Second))

	var events []string // appended only from the bot's loop thread
	bot.Initialize = func() error {
		events = append(events, "init")
		return nil
	}
	bot.GetOutput = func(p *flat.GamePacket) flat.ControllerState {
		events = append(events, "output")
		return flat.ControllerState{Throttle: 1}
	}
	retired := false
	bot.Retire = func() { retired = true }

	done := make(chan error, 1)
	go func() { done <- bot.Run() }()

	bridge.accept()
	opening := bridge.expectFrame(wire.KindConnectionSettings)
	var cs flat.ConnectionSettings
	if err := flat.Unpack(opening.Body, &cs); err != nil {
		t.Fatalf("unpack settings: %v", err)
	}
	if cs.AgentID != "X" {
		t.Fatalf("agent id = %q, want X", cs.AgentID)
	}

	bridge.sendPreconditions(0, []flat.Controllable{{SpawnID: 42, Index: 0}})
	bridge.expectFrame(wire.KindInitComplete)

	for i := uint32(1); i <= 3; i++ {
		bridge.writeFrame(wire.KindGamePacket, packet(i))
		input := bridge.expectFrame(wire.KindPlayerInput)
		var in flat.PlayerInput
		if err := flat.Unpack(input.Body, &in); err != nil {
			t.Fatalf("unpack input: %v", err)
		}
		if in.Index != 0 {
			t.Fatalf("input index = %d, want 0", in.Index)
		}
		if in.ControllerState.Throttle != 1 {
			t.Fatalf("controller state lost: %+v", in.ControllerState)
		}
	}

	bridge.writeFrame(wire.KindNone, nil)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if bot.Name != "Atba" || bot.Team != 0 || bot.Index != 0 || bot.SpawnID != 42 {
		t.Fatalf("identity not captured: name=%q team=%d index=%d spawn=%d", bot.Name, bot.Team, bot.Index, bot.SpawnID)
	}
	if len(events) != 4 || events[0] != "init" {
		t.Fatalf("events = %v, want init followed by 3 outputs", events)
	}
	if !retired {
		t.Fatalf("Retire hook did not run")
	}
}

func TestMatchCommBeforeNewerPacket(t *testing.T) {
	bridge := newFakeBridge(t)

	bot := NewBot("", WithAgentID("X"), WithServerEndpoint("127.0.0.1", bridge.port()),
		WithConnectionTimeout(5*time.Second))

	var events []string
	bot.GetOutput = func(p *flat.GamePacket) flat.ControllerState {
		events = append(events, "packet")
		return flat.ControllerState{}
	}
	var comm *flat.MatchComm
	bot.HandleMatchComm = func(c *flat.MatchComm) {
		comm = c
		events = append(events, "comm")
	}

	done := make(chan error, 1)
	go func() { done <- bot.Run() }()

	bridge.accept()
	bridge.expectFrame(wire.KindConnectionSettings)
	bridge.sendPreconditions(0, []flat.Controllable{{SpawnID: 42, Index: 0}})
	bridge.expectFrame(wire.KindInitComplete)

	for i := uint32(1); i <= 2; i++ {
		bridge.writeFrame(wire.KindGamePacket, packet(i))
		bridge.expectFrame(wire.KindPlayerInput)
	}

	// The comm arrives between packets 2 and 3; its handler must run before
	// user code consumes packet 3.
	buf := append(
		bridge.packFrame(wire.KindMatchComm, &flat.MatchComm{Index: 2, Team: 2, Content: []byte("hi")}),
		bridge.packFrame(wire.KindGamePacket, packet(3))...)
	bridge.writeRaw(buf)
	bridge.expectFrame(wire.KindPlayerInput)

	bridge.writeFrame(wire.KindNone, nil)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if comm == nil || string(comm.Content) != "hi" || comm.Index != 2 || comm.Team != 2 {
		t.Fatalf("comm not delivered intact: %+v", comm)
	}
	want := []string{"packet", "packet", "comm", "packet"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestPacketCoalescing(t *testing.T) {
	bridge := newFakeBridge(t)

	bot := NewBot("", WithAgentID("X"), WithServerEndpoint("127.0.0.1", bridge.port()),
		WithConnectionTimeout(5*time.Second))

	frames := make(chan uint32, 8)
	bot.GetOutput = func(p *flat.GamePacket) flat.ControllerState {
		frames <- p.MatchInfo.FrameNum
		return flat.ControllerState{}
	}

	done := make(chan error, 1)
	go func() { done <- bot.Run() }()

	bridge.accept()
	bridge.expectFrame(wire.KindConnectionSettings)
	bridge.sendPreconditions(0, []flat.Controllable{{SpawnID: 42, Index: 0}})
	bridge.expectFrame(wire.KindInitComplete)

	// Three packets in one burst: only the newest may reach user code.
	buf := bridge.packFrame(wire.KindGamePacket, packet(1))
	buf = append(buf, bridge.packFrame(wire.KindGamePacket, packet(2))...)
	buf = append(buf, bridge.packFrame(wire.KindGamePacket, packet(3))...)
	bridge.writeRaw(buf)

	bridge.expectFrame(wire.KindPlayerInput)

	select {
	case got := <-frames:
		if got != 3 {
			t.Fatalf("processed frame %d, want the freshest (3)", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no packet processed")
	}
	select {
	case got := <-frames:
		t.Fatalf("superseded packet %d leaked to user code", got)
	case <-time.After(200 * time.Millisecond):
	}

	bridge.writeFrame(wire.KindNone, nil)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestInitializeGate(t *testing.T) {
	bridge := newFakeBridge(t)

	bot := NewBot("", WithAgentID("X"), WithServerEndpoint("127.0.0.1", bridge.port()),
		WithConnectionTimeout(5*time.Second))

	var events []string
	bot.Initialize = func() error {
		events = append(events, "init")
		return nil
	}
	bot.GetOutput = func(p *flat.GamePacket) flat.ControllerState {
		events = append(events, "output")
		return flat.ControllerState{}
	}

	done := make(chan error, 1)
	go func() { done <- bot.Run() }()

	bridge.accept()
	bridge.expectFrame(wire.KindConnectionSettings)

	// A packet before the preconditions must never reach user code.
	bridge.writeFrame(wire.KindGamePacket, packet(99))
	time.Sleep(100 * time.Millisecond)

	bridge.sendPreconditions(0, []flat.Controllable{{SpawnID: 42, Index: 0}})
	bridge.expectFrame(wire.KindInitComplete)

	bridge.writeFrame(wire.KindGamePacket, packet(1))
	bridge.expectFrame(wire.KindPlayerInput)

	bridge.writeFrame(wire.KindNone, nil)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(events) != 2 || events[0] != "init" || events[1] != "output" {
		t.Fatalf("events = %v, want exactly [init output]", events)
	}
}

func TestHivemindDrivesAllControllables(t *testing.T) {
	bridge := newFakeBridge(t)

	hive := NewHivemind("", WithAgentID("X"), WithServerEndpoint("127.0.0.1", bridge.port()),
		WithConnectionTimeout(5*time.Second))
	hive.GetOutputs = func(p *flat.GamePacket) map[uint32]flat.ControllerState {
		return map[uint32]flat.ControllerState{
			0: {Throttle: 1},
			1: {Throttle: -1},
		}
	}

	done := make(chan error, 1)
	go func() { done <- hive.Run() }()

	bridge.accept()
	bridge.expectFrame(wire.KindConnectionSettings)
	bridge.sendPreconditions(1, []flat.Controllable{{SpawnID: 42, Index: 0}, {SpawnID: 43, Index: 1}})
	bridge.expectFrame(wire.KindInitComplete)

	bridge.writeFrame(wire.KindGamePacket, packet(1))
	seen := map[uint32]float32{}
	for i := 0; i < 2; i++ {
		input := bridge.expectFrame(wire.KindPlayerInput)
		var in flat.PlayerInput
		if err := flat.Unpack(input.Body, &in); err != nil {
			t.Fatalf("unpack input: %v", err)
		}
		seen[in.Index] = in.ControllerState.Throttle
	}
	if seen[0] != 1 || seen[1] != -1 {
		t.Fatalf("inputs per controllable wrong: %v", seen)
	}

	bridge.writeFrame(wire.KindNone, nil)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hive.Team != 1 || len(hive.Indices) != 2 {
		t.Fatalf("hivemind identity: team=%d indices=%v", hive.Team, hive.Indices)
	}
}

func TestScriptIdentityAndComms(t *testing.T) {
	bridge := newFakeBridge(t)

	script := NewScript("", WithAgentID("S"), WithServerEndpoint("127.0.0.1", bridge.port()),
		WithConnectionTimeout(5*time.Second))

	sawPacket := make(chan uint32, 1)
	script.HandlePacket = func(p *flat.GamePacket) {
		select {
		case sawPacket <- p.MatchInfo.FrameNum:
		default:
		}
		_ = script.SendMatchComm([]byte("observed"), "", false)
	}

	done := make(chan error, 1)
	go func() { done <- script.Run() }()

	bridge.accept()
	bridge.expectFrame(wire.KindConnectionSettings)
	bridge.sendPreconditions(0, nil)
	bridge.expectFrame(wire.KindInitComplete)

	bridge.writeFrame(wire.KindGamePacket, packet(7))
	commFrame := bridge.expectFrame(wire.KindMatchComm)
	var comm flat.MatchComm
	if err := flat.Unpack(commFrame.Body, &comm); err != nil {
		t.Fatalf("unpack comm: %v", err)
	}
	if comm.Team != 2 {
		t.Fatalf("script comm team = %d, want the script sentinel 2", comm.Team)
	}
	if comm.Index != 0 {
		t.Fatalf("script comm index = %d, want 0", comm.Index)
	}

	bridge.writeFrame(wire.KindNone, nil)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := <-sawPacket; got != 7 {
		t.Fatalf("script saw frame %d, want 7", got)
	}
	if script.Name != "Observer" {
		t.Fatalf("script name = %q, want Observer", script.Name)
	}
}

func TestTickErrorDoesNotKillLoop(t *testing.T) {
	bridge := newFakeBridge(t)

	bot := NewBot("", WithAgentID("X"), WithServerEndpoint("127.0.0.1", bridge.port()),
		WithConnectionTimeout(5*time.Second))
	calls := 0
	bot.GetOutput = func(p *flat.GamePacket) flat.ControllerState {
		calls++
		if calls == 1 {
			panic("bad tick")
		}
		return flat.ControllerState{}
	}

	done := make(chan error, 1)
	go func() { done <- bot.Run() }()

	bridge.accept()
	bridge.expectFrame(wire.KindConnectionSettings)
	bridge.sendPreconditions(0, []flat.Controllable{{SpawnID: 42, Index: 0}})
	bridge.expectFrame(wire.KindInitComplete)

	// First tick panics: no input goes out, but the loop survives.
	bridge.writeFrame(wire.KindGamePacket, packet(1))
	time.Sleep(100 * time.Millisecond)
	bridge.writeFrame(wire.KindGamePacket, packet(2))
	bridge.expectFrame(wire.KindPlayerInput)

	bridge.writeFrame(wire.KindNone, nil)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("GetOutput calls = %d, want 2", calls)
	}
}

func TestResolveAgentID(t *testing.T) {
	t.Setenv("RLBOT_AGENT_ID", "from-env")
	if got := ResolveAgentID("fallback"); got != "from-env" {
		t.Fatalf("got %q, want env to win", got)
	}
	t.Setenv("RLBOT_AGENT_ID", "")
	if got := ResolveAgentID("fallback"); got != "fallback" {
		t.Fatalf("got %q, want fallback", got)
	}
}
