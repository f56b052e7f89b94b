// Package version pins the interface release and its banner.
package version

import "github.com/rlbot/go-interface/internal/logging"

// Version of the interface. The bridge does not negotiate beyond this
// constant; incompatible servers simply refuse the session.
const Version = "2.0.0"

var releaseNotes = []string{
	`Initial Go release.

	Framed socket relay with typed observers, bot/hivemind/script managers
	with packet coalescing, and a match supervisor that launches and retires
	RLBotServer.`,
}

// PrintCurrentReleaseNotes logs the banner and the latest release notes.
func PrintCurrentReleaseNotes() {
	l := logging.L()
	l.Info("rlbot_interface", "version", Version)
	if len(releaseNotes) > 0 {
		l.Info("release_notes", "notes", releaseNotes[0])
	}
}
