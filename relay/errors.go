package relay

import (
	"errors"

	"github.com/rlbot/go-interface/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrNotConnected   = errors.New("not_connected")
	ErrConnectTimeout = errors.New("connect_timeout")
	ErrConnectRefused = errors.New("connect_refused")
	ErrConnWrite      = errors.New("conn_write")
	ErrConnRead       = errors.New("conn_read")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrWrite
	case errors.Is(err, ErrConnectTimeout), errors.Is(err, ErrConnectRefused):
		return metrics.ErrConnect
	default:
		return "other"
	}
}
