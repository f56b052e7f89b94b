package match

import "github.com/rlbot/go-interface/flat"

// FillDesiredGameState densifies sparse ball and car overrides into the
// record the server expects: lists sized to the highest overridden index,
// with no-op entries filling the gaps.
func FillDesiredGameState(
	balls map[int]flat.DesiredBallState,
	cars map[int]flat.DesiredCarState,
	matchInfo *flat.DesiredMatchInfo,
	commands []string,
) *flat.DesiredGameState {
	gs := &flat.DesiredGameState{MatchInfo: matchInfo}
	for _, c := range commands {
		gs.ConsoleCommands = append(gs.ConsoleCommands, flat.ConsoleCommand{Command: c})
	}
	if len(balls) > 0 {
		maxIdx := 0
		for i := range balls {
			if i > maxIdx {
				maxIdx = i
			}
		}
		gs.BallStates = make([]flat.DesiredBallState, maxIdx+1)
		for i, b := range balls {
			gs.BallStates[i] = b
		}
	}
	if len(cars) > 0 {
		maxIdx := 0
		for i := range cars {
			if i > maxIdx {
				maxIdx = i
			}
		}
		gs.CarStates = make([]flat.DesiredCarState, maxIdx+1)
		for i, c := range cars {
			gs.CarStates[i] = c
		}
	}
	return gs
}
