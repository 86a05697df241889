// Package metrics gives every process a small toolbox for registering and
// exposing Prometheus metrics on its own port, mirroring the one-gauge-set
// per OS process pattern the original system used (one HTTP listener per
// worker, all gauges labelled by process name).
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager registers and serves metrics for a single process.
type Manager struct {
	process  string
	registry *prometheus.Registry
	gauges   map[string]*prometheus.GaugeVec
	cpu      prometheus.Gauge
	rss      prometheus.Gauge
}

// NewManager creates a registry and, if addr is non-empty, starts an HTTP
// server exposing it at /metrics on a background goroutine tied to ctx.
func NewManager(ctx context.Context, process, addr string) (*Manager, error) {
	reg := prometheus.NewRegistry()
	m := &Manager{
		process:  process,
		registry: reg,
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
	m.cpu = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name:        "carina_process_cpu_percent",
		Help:        "Approximate CPU time consumed, in percent of one core, over the last sampling interval (derived from GC pause time).",
		ConstLabels: prometheus.Labels{"process": process},
	})
	m.rss = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name:        "carina_process_rss_bytes",
		Help:        "Resident heap bytes as reported by the Go runtime.",
		ConstLabels: prometheus.Labels{"process": process},
	})

	if addr == "" {
		return m, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server for %s exited: %v\n", process, err)
		}
	}()
	return m, nil
}

// Registry exposes the underlying registry for components that register
// their own metrics (e.g. queue depth gauges in internal/transport).
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Gauge returns (creating if necessary) a labelled gauge vector.
func (m *Manager) Gauge(name, help string, labelNames ...string) *prometheus.GaugeVec {
	if g, ok := m.gauges[name]; ok {
		return g
	}
	g := promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labelNames)
	m.gauges[name] = g
	return g
}

// StartProcessMonitor begins a ticker-driven goroutine publishing CPU/RSS
// gauges every interval, mirroring the psutil-backed monitor thread every
// original worker process ran alongside its main loop.
func (m *Manager) StartProcessMonitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var lastCPU time.Duration
		lastSample := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var mem runtime.MemStats
				runtime.ReadMemStats(&mem)
				m.rss.Set(float64(mem.HeapInuse))

				now := time.Now()
				cpu := cpuTimeConsumed()
				elapsed := now.Sub(lastSample)
				if elapsed > 0 {
					m.cpu.Set(100 * float64(cpu-lastCPU) / float64(elapsed))
				}
				lastCPU, lastSample = cpu, now
			}
		}
	}()
}

// cpuTimeConsumed is a process-wide approximation: the cumulative GC
// stop-the-world pause time reported by the runtime. Runtime does not
// expose OS-level CPU time portably, so this stays best-effort diagnostics,
// matching the
// "diagnostics, not SLA" framing the original metrics manager carried.
func cpuTimeConsumed() time.Duration {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return time.Duration(mem.PauseTotalNs)
}
