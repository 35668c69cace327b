package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegisteredClients  = promauto.NewGauge(prometheus.GaugeOpts{Name: "lanrelay_registered_clients", Help: "Clients currently in the registry"})
	ControlConnections = promauto.NewGauge(prometheus.GaugeOpts{Name: "lanrelay_control_connections", Help: "Open TCP control connections"})
	FramesInTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lanrelay_frames_in_total", Help: "Control frames received by kind"}, []string{"kind"})
	FramesOutTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lanrelay_frames_out_total", Help: "Control frames queued to recipients by kind"}, []string{"kind"})
	SendFailuresTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lanrelay_send_failures_total", Help: "Failed deliveries by channel and reason"}, []string{"channel", "reason"})
	DatagramsInTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lanrelay_datagrams_in_total", Help: "Media datagrams received"}, []string{"kind"})
	DatagramsOutTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lanrelay_datagrams_out_total", Help: "Media datagrams forwarded"}, []string{"kind"})
	DatagramsDropped   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lanrelay_datagrams_dropped_total", Help: "Media datagrams dropped as unparseable"}, []string{"kind"})
	FilesCompleted     = promauto.NewCounter(prometheus.CounterOpts{Name: "lanrelay_files_completed_total", Help: "File transfers fully observed by the relay"})
	PendingTransfers   = promauto.NewGauge(prometheus.GaugeOpts{Name: "lanrelay_pending_transfers", Help: "File transfers in flight"})
	ErrorsTotal        = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lanrelay_errors_total", Help: "Errors by type"}, []string{"type"})
	FrameSizeBytes     = promauto.NewHistogram(prometheus.HistogramOpts{Name: "lanrelay_frame_size_bytes", Help: "Control frame body size", Buckets: prometheus.ExponentialBuckets(16, 4, 10)})
)
