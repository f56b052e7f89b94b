// Package flat holds the versioned payload schema exchanged with the RLBot
// bridge. The transport layers treat payloads as opaque byte vectors; only
// this package knows their shape.
package flat

// SchemaVersion is the payload schema revision this build speaks.
const SchemaVersion = "5.0"

// Vector3 is a position or direction in field coordinates.
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Rotator is an orientation as Euler angles in radians.
type Rotator struct {
	Pitch float32 `json:"pitch"`
	Yaw   float32 `json:"yaw"`
	Roll  float32 `json:"roll"`
}

type Physics struct {
	Location        Vector3 `json:"location"`
	Rotation        Rotator `json:"rotation"`
	Velocity        Vector3 `json:"velocity"`
	AngularVelocity Vector3 `json:"angular_velocity"`
}

// MatchPhase tracks where the match is in its lifecycle.
type MatchPhase uint8

const (
	PhaseInactive MatchPhase = iota
	PhaseCountdown
	PhaseKickoff
	PhaseActive
	PhaseGoalScored
	PhaseReplay
	PhasePaused
	PhaseEnded
)

type MatchInfo struct {
	SecondsElapsed      float32    `json:"seconds_elapsed"`
	GameTimeRemaining   float32    `json:"game_time_remaining"`
	MatchPhase          MatchPhase `json:"match_phase"`
	WorldGravityZ       float32    `json:"world_gravity_z"`
	GameSpeed           float32    `json:"game_speed"`
	FrameNum            uint32     `json:"frame_num"`
	IsUnlimitedTime     bool       `json:"is_unlimited_time"`
	IsStateSettingAllowed bool     `json:"is_state_setting_allowed"`
}

type BallInfo struct {
	Physics Physics `json:"physics"`
}

type PlayerInfo struct {
	Physics   Physics `json:"physics"`
	SpawnID   int32   `json:"spawn_id"`
	Name      string  `json:"name"`
	Team      uint32  `json:"team"`
	Boost     float32 `json:"boost"`
	IsBot     bool    `json:"is_bot"`
	IsDemoed  bool    `json:"is_demoed"`
	HasWheelContact bool `json:"has_wheel_contact"`
	IsSupersonic    bool `json:"is_supersonic"`
}

// GamePacket is the per-tick world snapshot.
type GamePacket struct {
	Balls     []BallInfo   `json:"balls"`
	Players   []PlayerInfo `json:"players"`
	MatchInfo MatchInfo    `json:"match_info"`
}

type BoostPad struct {
	Location    Vector3 `json:"location"`
	IsFullBoost bool    `json:"is_full_boost"`
}

type GoalInfo struct {
	TeamNum int32   `json:"team_num"`
	Location Vector3 `json:"location"`
	Direction Vector3 `json:"direction"`
}

// FieldInfo describes static map geometry. Sent once per match.
type FieldInfo struct {
	BoostPads []BoostPad `json:"boost_pads"`
	Goals     []GoalInfo `json:"goals"`
}

type LoadoutPaint struct {
	CarPaintID           uint32 `json:"car_paint_id"`
	DecalPaintID         uint32 `json:"decal_paint_id"`
	WheelsPaintID        uint32 `json:"wheels_paint_id"`
	BoostPaintID         uint32 `json:"boost_paint_id"`
	AntennaPaintID       uint32 `json:"antenna_paint_id"`
	HatPaintID           uint32 `json:"hat_paint_id"`
	TrailsPaintID        uint32 `json:"trails_paint_id"`
	GoalExplosionPaintID uint32 `json:"goal_explosion_paint_id"`
}

type PlayerLoadout struct {
	TeamColorID     uint32        `json:"team_color_id"`
	CustomColorID   uint32        `json:"custom_color_id"`
	CarID           uint32        `json:"car_id"`
	DecalID         uint32        `json:"decal_id"`
	WheelsID        uint32        `json:"wheels_id"`
	BoostID         uint32        `json:"boost_id"`
	AntennaID       uint32        `json:"antenna_id"`
	HatID           uint32        `json:"hat_id"`
	PaintFinishID   uint32        `json:"paint_finish_id"`
	CustomFinishID  uint32        `json:"custom_finish_id"`
	EngineAudioID   uint32        `json:"engine_audio_id"`
	TrailsID        uint32        `json:"trails_id"`
	GoalExplosionID uint32        `json:"goal_explosion_id"`
	LoadoutPaint    *LoadoutPaint `json:"loadout_paint,omitempty"`
}

type PlayerConfiguration struct {
	AgentID    string         `json:"agent_id"`
	Name       string         `json:"name"`
	Team       uint32         `json:"team"`
	SpawnID    int32          `json:"spawn_id"`
	RootDir    string         `json:"root_dir"`
	RunCommand string         `json:"run_command"`
	Loadout    *PlayerLoadout `json:"loadout,omitempty"`
	Hivemind   bool           `json:"hivemind"`
}

type ScriptConfiguration struct {
	AgentID    string `json:"agent_id"`
	Name       string `json:"name"`
	RootDir    string `json:"root_dir"`
	RunCommand string `json:"run_command"`
}

// MatchConfiguration describes the match being played: map, participants,
// mutators and permissions.
type MatchConfiguration struct {
	GameMapUpk           string                `json:"game_map_upk"`
	PlayerConfigurations []PlayerConfiguration `json:"player_configurations"`
	ScriptConfigurations []ScriptConfiguration `json:"script_configurations"`
	EnableStateSetting   bool                  `json:"enable_state_setting"`
	EnableRendering      bool                  `json:"enable_rendering"`
	AutoStartAgents      bool                  `json:"auto_start_agents"`
	InstantStart         bool                  `json:"instant_start"`
}

// ControllerState is one tick of controller input for a single car.
type ControllerState struct {
	Throttle  float32 `json:"throttle"`
	Steer     float32 `json:"steer"`
	Pitch     float32 `json:"pitch"`
	Yaw       float32 `json:"yaw"`
	Roll      float32 `json:"roll"`
	Jump      bool    `json:"jump"`
	Boost     bool    `json:"boost"`
	Handbrake bool    `json:"handbrake"`
	UseItem   bool    `json:"use_item"`
}

type PlayerInput struct {
	Index           uint32          `json:"index"`
	ControllerState ControllerState `json:"controller_state"`
}

// MatchComm is an inter-agent communication. Team 2 identifies scripts.
type MatchComm struct {
	Index    uint32 `json:"index"`
	Team     uint32 `json:"team"`
	TeamOnly bool   `json:"team_only"`
	Display  string `json:"display,omitempty"`
	Content  []byte `json:"content"`
}

type PredictionSlice struct {
	GameSeconds float32 `json:"game_seconds"`
	Physics     Physics `json:"physics"`
}

type BallPrediction struct {
	Slices []PredictionSlice `json:"slices"`
}

// ConnectionSettings opens a session: it names the agent and declares which
// optional message streams the bridge should feed it.
type ConnectionSettings struct {
	AgentID             string `json:"agent_id"`
	WantsBallPredictions bool  `json:"wants_ball_predictions"`
	WantsComms          bool   `json:"wants_comms"`
	CloseBetweenMatches bool   `json:"close_between_matches"`
}

// Controllable is one car assigned to this process.
type Controllable struct {
	SpawnID int32  `json:"spawn_id"`
	Index   uint32 `json:"index"`
}

// ControllableTeamInfo assigns a team and set of cars to an agent process.
type ControllableTeamInfo struct {
	Team          uint32         `json:"team"`
	Controllables []Controllable `json:"controllables"`
}

type StartCommand struct {
	ConfigPath string `json:"config_path"`
}

type StopCommand struct {
	ShutdownServer bool `json:"shutdown_server"`
}

type SetLoadout struct {
	SpawnID int32         `json:"spawn_id"`
	Loadout PlayerLoadout `json:"loadout"`
}

// DesiredPhysics is a sparse physics override; nil fields are untouched.
type DesiredPhysics struct {
	Location        *Vector3 `json:"location,omitempty"`
	Rotation        *Rotator `json:"rotation,omitempty"`
	Velocity        *Vector3 `json:"velocity,omitempty"`
	AngularVelocity *Vector3 `json:"angular_velocity,omitempty"`
}

type DesiredBallState struct {
	Physics *DesiredPhysics `json:"physics,omitempty"`
}

type DesiredCarState struct {
	Physics     *DesiredPhysics `json:"physics,omitempty"`
	BoostAmount *float32        `json:"boost_amount,omitempty"`
}

type DesiredMatchInfo struct {
	WorldGravityZ *float32 `json:"world_gravity_z,omitempty"`
	GameSpeed     *float32 `json:"game_speed,omitempty"`
}

type ConsoleCommand struct {
	Command string `json:"command"`
}

// DesiredGameState is a sparse overlay applied to the running match.
// Ball and car lists are dense up to the highest overridden index; gap
// entries are no-ops.
type DesiredGameState struct {
	BallStates      []DesiredBallState `json:"ball_states,omitempty"`
	CarStates       []DesiredCarState  `json:"car_states,omitempty"`
	MatchInfo       *DesiredMatchInfo  `json:"match_info,omitempty"`
	ConsoleCommands []ConsoleCommand   `json:"console_commands,omitempty"`
}

// RenderMessage is a single primitive inside a render group. The drawing DSL
// lives with the consumer; the payload stays schemaless here.
type RenderMessage struct {
	Kind    string `json:"kind"`
	Payload []byte `json:"payload,omitempty"`
}

type RenderGroup struct {
	ID       int32           `json:"id"`
	Messages []RenderMessage `json:"messages,omitempty"`
}

type RemoveRenderGroup struct {
	ID int32 `json:"id"`
}
