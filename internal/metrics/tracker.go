package metrics

import (
	"sync"
	"time"
)

// ProviderStats aggregates observed behavior of one provider.
type ProviderStats struct {
	Provider         string    `json:"provider"`
	TotalCalls       int64     `json:"total_calls"`
	Successes        int64     `json:"successes"`
	Failures         int64     `json:"failures"`
	SuccessRate      float64   `json:"success_rate"`
	AverageLatencyMs float64   `json:"average_latency_ms"`
	LastUsed         time.Time `json:"last_used"`
}

// Tracker keeps a weighted moving average of call latency per provider.
// Recent calls weigh 20%, history 80%, so the average adapts without
// thrashing on a single slow call.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[string]*ProviderStats)}
}

// Observe records one finished call.
func (t *Tracker) Observe(provider string, latency time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, ok := t.stats[provider]
	if !ok {
		stats = &ProviderStats{Provider: provider}
		t.stats[provider] = stats
	}

	stats.TotalCalls++
	if success {
		stats.Successes++
	} else {
		stats.Failures++
	}
	stats.SuccessRate = float64(stats.Successes) / float64(stats.TotalCalls)
	stats.LastUsed = time.Now()

	latencyMs := float64(latency.Milliseconds())
	if stats.AverageLatencyMs == 0 {
		stats.AverageLatencyMs = latencyMs
	} else {
		stats.AverageLatencyMs = (stats.AverageLatencyMs * 0.8) + (latencyMs * 0.2)
	}
}

// Stats returns a copy of one provider's stats.
func (t *Tracker) Stats(provider string) (ProviderStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats, ok := t.stats[provider]
	if !ok {
		return ProviderStats{}, false
	}
	return *stats, true
}

// AverageLatency returns the tracked average for a provider, zero when the
// provider has not been observed yet.
func (t *Tracker) AverageLatency(provider string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats, ok := t.stats[provider]
	if !ok {
		return 0
	}
	return time.Duration(stats.AverageLatencyMs) * time.Millisecond
}

// All returns a copy of every provider's stats.
func (t *Tracker) All() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]ProviderStats, len(t.stats))
	for name, stats := range t.stats {
		out[name] = *stats
	}
	return out
}
