package match

import (
	"testing"

	"github.com/rlbot/go-interface/flat"
)

func TestFillDesiredGameStateDensifies(t *testing.T) {
	boost := float32(100)
	gs := FillDesiredGameState(
		map[int]flat.DesiredBallState{2: {Physics: &flat.DesiredPhysics{}}},
		map[int]flat.DesiredCarState{1: {BoostAmount: &boost}},
		nil,
		[]string{"freeze", "unfreeze"},
	)
	if len(gs.BallStates) != 3 {
		t.Fatalf("ball states len = %d, want max index + 1 = 3", len(gs.BallStates))
	}
	if gs.BallStates[0].Physics != nil || gs.BallStates[1].Physics != nil {
		t.Fatalf("gap ball entries must be no-ops")
	}
	if gs.BallStates[2].Physics == nil {
		t.Fatalf("override at index 2 lost")
	}
	if len(gs.CarStates) != 2 {
		t.Fatalf("car states len = %d, want 2", len(gs.CarStates))
	}
	if gs.CarStates[0].BoostAmount != nil {
		t.Fatalf("gap car entry must be a no-op")
	}
	if gs.CarStates[1].BoostAmount == nil || *gs.CarStates[1].BoostAmount != 100 {
		t.Fatalf("car override lost")
	}
	if len(gs.ConsoleCommands) != 2 || gs.ConsoleCommands[0].Command != "freeze" {
		t.Fatalf("commands = %+v", gs.ConsoleCommands)
	}
	if gs.MatchInfo != nil {
		t.Fatalf("match info must stay nil when not overridden")
	}
}

func TestFillDesiredGameStateEmpty(t *testing.T) {
	speed := float32(2)
	info := &flat.DesiredMatchInfo{GameSpeed: &speed}
	gs := FillDesiredGameState(nil, nil, info, nil)
	if gs.BallStates != nil || gs.CarStates != nil || gs.ConsoleCommands != nil {
		t.Fatalf("empty inputs must yield empty overlays: %+v", gs)
	}
	if gs.MatchInfo != info {
		t.Fatalf("match info passthrough lost")
	}
}
