package monitor

import (
	"NoteDetClient/logger"
	"context"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Metrics 持有独立的 registry，测试中可以随意创建多个
type Metrics struct {
	registry *prometheus.Registry
	pid      *process.Process

	memUsage prometheus.Gauge
	cpuUsage prometheus.Gauge

	Frames        prometheus.Counter
	Datagrams     prometheus.Counter
	DatagramBytes prometheus.Counter
	Oversized     prometheus.Counter
	Detections    prometheus.Counter
	Failures      *prometheus.CounterVec
	Inference     prometheus.Histogram
	Viewers       prometheus.Gauge
	FeedClients   prometheus.Gauge
	RPCTotal      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	m.cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
	m.Frames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notedet_frames_total",
		Help: "Frames read from the camera",
	})
	m.Datagrams = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notedet_datagrams_sent_total",
		Help: "Detection datagrams sent",
	})
	m.DatagramBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notedet_datagram_bytes_total",
		Help: "Payload bytes sent over UDP",
	})
	m.Oversized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notedet_oversized_payloads_total",
		Help: "Payloads dropped for exceeding the datagram limit",
	})
	m.Detections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notedet_detections_total",
		Help: "Detections produced by the model",
	})
	m.Failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notedet_loop_exits_total",
		Help: "Detection loop exits by outcome",
	}, []string{"outcome"})
	m.Inference = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notedet_inference_seconds",
		Help:    "Time spent in the detector per frame",
		Buckets: []float64{.005, .01, .02, .04, .08, .16, .32, .64, 1.28},
	})
	m.Viewers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notedet_video_viewers",
		Help: "Connected websocket viewers",
	})
	m.FeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notedet_feed_clients",
		Help: "Connected gRPC Watch streams",
	})
	m.RPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})

	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.Frames, m.Datagrams, m.DatagramBytes,
		m.Oversized, m.Detections, m.Failures, m.Inference, m.Viewers, m.FeedClients, m.RPCTotal)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler 以 Prometheus 文本格式输出 registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveFrame() { m.Frames.Inc() }

func (m *Metrics) ObserveInference(d time.Duration, n int) {
	m.Inference.Observe(d.Seconds())
	m.Detections.Add(float64(n))
}

func (m *Metrics) ObserveSent(n int) {
	m.Datagrams.Inc()
	m.DatagramBytes.Add(float64(n))
}

func (m *Metrics) ObserveOversized() { m.Oversized.Inc() }

func (m *Metrics) ObserveExit(outcome string) { m.Failures.WithLabelValues(outcome).Inc() }

// CheckProcessInfo 采样当前进程的内存（RSS）与 CPU 占用
func (m *Metrics) CheckProcessInfo() {
	if m.pid == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			logger.Log().Warn("process lookup failed", zap.Error(err))
			return
		}
		m.pid = p
	}
	if memInfo, err := m.pid.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.pid.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon 每隔 interval 采样一次，直到 ctx 结束
func (m *Metrics) StartMon(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.CheckProcessInfo()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckProcessInfo()
		}
	}
}
