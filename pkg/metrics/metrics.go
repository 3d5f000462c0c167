package metrics

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/nakabonne/tstorage"
)

// Metric names used across the fleet manager.
const (
	ReconcilePollMs    = "reconcile_poll_ms"
	InstancesConnected = "instances_connected_total"
	PairingTimeouts    = "pairing_timeouts_total"
	TeardownSuccess    = "teardown_success_total"
	TeardownFailed     = "teardown_failed_total"
	OrphansDeleted     = "orphans_deleted_total"
	WebhookHeals       = "webhook_heals_total"
	FleetConnected     = "fleet_connected"
	FleetConnecting    = "fleet_connecting"
	FleetDisconnected  = "fleet_disconnected"
	SystemCpuUse       = "system_cpuuse"
	SystemMemUse       = "system_memuse"
	ProcessCpuUse      = "wafleet_cpuuse"
	ProcessMemUse      = "wafleet_memuse"
)

var (
	mu       sync.Mutex
	storage  tstorage.Storage
	counters = make(map[string]int64)
)

// InitMetrics opens the embedded time-series store under workdir.
func InitMetrics(workdir string) error {
	mu.Lock()
	defer mu.Unlock()
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(filepath.Join(workdir, "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return err
	}
	storage = s
	return nil
}

// SetGauge records an instantaneous value for name.
func SetGauge(name string, value int64) {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return
	}
	_ = storage.InsertRows([]tstorage.Row{
		{
			Metric: name,
			DataPoint: tstorage.DataPoint{
				Timestamp: time.Now().Unix(),
				Value:     float64(value),
			},
		},
	})
}

// IncrCounter adds n to the named monotonic counter and records the total.
func IncrCounter(name string, n int64) {
	mu.Lock()
	total := counters[name] + n
	counters[name] = total
	s := storage
	mu.Unlock()
	if s == nil {
		return
	}
	_ = s.InsertRows([]tstorage.Row{
		{
			Metric: name,
			DataPoint: tstorage.DataPoint{
				Timestamp: time.Now().Unix(),
				Value:     float64(total),
			},
		},
	})
}

// CounterValue returns the in-memory counter total.
func CounterValue(name string) int64 {
	mu.Lock()
	defer mu.Unlock()
	return counters[name]
}

// QueryRange returns raw datapoints for name between start and end.
func QueryRange(name string, start, end time.Time) ([]*tstorage.DataPoint, error) {
	mu.Lock()
	s := storage
	mu.Unlock()
	if s == nil {
		return nil, nil
	}
	points, err := s.Select(name, nil, start.Unix(), end.Unix())
	if err != nil {
		if err == tstorage.ErrNoDataPoints {
			return nil, nil
		}
		return nil, err
	}
	return points, nil
}

// Summary aggregates a metric over the window: mean and 95th percentile.
type SummaryResult struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
}

// Summarize computes a latency-style summary for name over the window.
func Summarize(name string, start, end time.Time) (*SummaryResult, error) {
	points, err := QueryRange(name, start, end)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return &SummaryResult{}, nil
	}
	values := make([]float64, 0, len(points))
	for _, p := range points {
		values = append(values, p.Value)
	}
	mean, _ := stats.Mean(values)
	p95, _ := stats.Percentile(values, 95)
	max, _ := stats.Max(values)
	return &SummaryResult{Count: len(values), Mean: mean, P95: p95, Max: max}, nil
}

// Close flushes and closes the store.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}
