package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// value returns the counter or gauge value of the series named name whose
// labels include want.
func value(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("series %s%v not found", name, want)
	return 0
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveStage(models.StageParse, 20*time.Millisecond, nil)
	m.ObserveStage(models.StageParse, time.Millisecond, errors.New("boom"))
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.SetQueue(5, 10)
	c := 0.7
	m.DocumentFinished(models.StatusCompleted, &c)

	if got := value(t, reg, "deckflow_stage_attempts_total", map[string]string{"stage": "parse", "status": "failed"}); got != 1 {
		t.Errorf("failed parse attempts = %v, want 1", got)
	}
	if got := value(t, reg, "deckflow_cache_lookups_total", map[string]string{"result": "miss"}); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
	if got := value(t, reg, "deckflow_queue_depth", nil); got != 5 {
		t.Errorf("queue depth = %v, want 5", got)
	}
	if got := value(t, reg, "deckflow_documents_total", map[string]string{"status": "completed"}); got != 1 {
		t.Errorf("completed documents = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStage(models.StageFormat, time.Second, nil)
	m.CacheLookup(true)
	m.SetQueue(1, 1)
	m.AuditFallback()
	m.DocumentFinished(models.StatusFailed, nil)
	m.Export("csv", nil)
}
