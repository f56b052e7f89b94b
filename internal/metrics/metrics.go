package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rlbot/go-interface/internal/logging"
)

// Prometheus counters
var (
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlbot_rx_frames_total",
		Help: "Total frames received from the bridge.",
	})
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlbot_tx_frames_total",
		Help: "Total frames sent to the bridge.",
	})
	RxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlbot_rx_bytes_total",
		Help: "Total payload bytes received from the bridge.",
	})
	TxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlbot_tx_bytes_total",
		Help: "Total payload bytes sent to the bridge.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlbot_malformed_frames_total",
		Help: "Total rejected malformed frames (truncated mid-frame).",
	})
	OversizeSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlbot_oversize_sends_total",
		Help: "Total outbound messages rejected for exceeding the body cap.",
	})
	HandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlbot_handler_errors_total",
		Help: "Observer callback failures by message kind.",
	}, []string{"kind"})
	PacketsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlbot_packets_superseded_total",
		Help: "Game packets dropped because a fresher packet arrived before processing.",
	})
	PacketsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlbot_packets_processed_total",
		Help: "Game packets delivered to user code.",
	})
	ConnectRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlbot_connect_retries_total",
		Help: "Connection attempts retried while the bridge was refusing.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rlbot_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlbot_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrRead       = "read"
	ErrWrite      = "write"
	ErrConnect    = "connect"
	ErrDecode     = "decode"
	ErrHandler    = "handler"
	ErrSupervisor = "supervisor"
)

// SetReadinessFunc installs the predicate served by /ready.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// IsReady reports the installed readiness predicate (false when unset).
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	return fn != nil && fn()
}

// InitBuildInfo publishes build metadata as a constant gauge.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// StartHTTP serves Prometheus metrics at /metrics on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRxFrames   uint64
	localTxFrames   uint64
	localRxBytes    uint64
	localTxBytes    uint64
	localMalformed  uint64
	localOversize   uint64
	localHandlerErr uint64
	localSuperseded uint64
	localProcessed  uint64
	localRetries    uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxFrames      uint64
	TxFrames      uint64
	RxBytes       uint64
	TxBytes       uint64
	Malformed     uint64
	OversizeSends uint64
	HandlerErrors uint64
	Superseded    uint64
	Processed     uint64
	Retries       uint64
	Errors        uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		RxFrames:      atomic.LoadUint64(&localRxFrames),
		TxFrames:      atomic.LoadUint64(&localTxFrames),
		RxBytes:       atomic.LoadUint64(&localRxBytes),
		TxBytes:       atomic.LoadUint64(&localTxBytes),
		Malformed:     atomic.LoadUint64(&localMalformed),
		OversizeSends: atomic.LoadUint64(&localOversize),
		HandlerErrors: atomic.LoadUint64(&localHandlerErr),
		Superseded:    atomic.LoadUint64(&localSuperseded),
		Processed:     atomic.LoadUint64(&localProcessed),
		Retries:       atomic.LoadUint64(&localRetries),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncRx(bodyLen int) {
	RxFrames.Inc()
	RxBytes.Add(float64(bodyLen))
	atomic.AddUint64(&localRxFrames, 1)
	atomic.AddUint64(&localRxBytes, uint64(bodyLen))
}

func IncTx(bodyLen int) {
	TxFrames.Inc()
	TxBytes.Add(float64(bodyLen))
	atomic.AddUint64(&localTxFrames, 1)
	atomic.AddUint64(&localTxBytes, uint64(bodyLen))
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncOversizeSend() {
	OversizeSends.Inc()
	atomic.AddUint64(&localOversize, 1)
}

func IncHandlerError(kind string) {
	HandlerErrors.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localHandlerErr, 1)
}

func IncSuperseded() {
	PacketsSuperseded.Inc()
	atomic.AddUint64(&localSuperseded, 1)
}

func IncProcessed() {
	PacketsProcessed.Inc()
	atomic.AddUint64(&localProcessed, 1)
}

func IncConnectRetry() {
	ConnectRetries.Inc()
	atomic.AddUint64(&localRetries, 1)
}

func IncError(where string) {
	Errors.WithLabelValues(where).Inc()
	atomic.AddUint64(&localErrors, 1)
}
