package monitor

import (
	"context"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"DatasetApp/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Monitor owns a private registry so several sessions in one process do not collide.
type Monitor struct {
	registry      *prometheus.Registry
	memUsage      prometheus.Gauge
	cpuUsage      prometheus.Gauge
	HTTPTotal     *prometheus.CounterVec
	ViewerClients prometheus.Gauge
	Samples       prometheus.Gauge
	proc          *process.Process
}

func New() *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		HTTPTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		}, []string{"route", "status"}),
		ViewerClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewer_clients",
			Help: "Number of connected viewer websocket clients",
		}),
		Samples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dataset_samples",
			Help: "Number of samples in the served dataset",
		}),
	}
	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.HTTPTotal, m.ViewerClients, m.Samples)
	return m
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware counts requests by matched route and status code.
func (m *Monitor) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// CheckProcessInfo samples memory and CPU of the current process once.
func (m *Monitor) CheckProcessInfo() {
	if m.proc == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			logger.Log().Warn("Cannot inspect own process", zap.Error(err))
			return
		}
		m.proc = p
	}
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon samples process stats every interval until ctx is done.
func (m *Monitor) StartMon(ctx context.Context, interval time.Duration) {
	m.CheckProcessInfo()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckProcessInfo()
		}
	}
}
