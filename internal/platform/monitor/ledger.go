// Package monitor accumulates in-process operational records: per-batch
// ingestion metrics, the correction audit trail, and retrieval latency
// samples. The ledger is append-only; entries are never edited or removed.
package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchMetrics captures the outcome of one ingestion run. Finalized once,
// when the batch is committed to the ledger.
type BatchMetrics struct {
	BatchNumber      int            `json:"batch"`
	Received         int            `json:"received"`
	Added            int            `json:"added"`
	SkippedDuplicate int            `json:"skipped_duplicate"`
	Errored          int            `json:"errored"`
	Flags            map[string]int `json:"flags"`
}

// CorrectionEntry is one immutable audit record: a single correction
// operation and how many records it affected.
type CorrectionEntry struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Action          string    `json:"action"`
	Target          string    `json:"target"`
	Reason          string    `json:"reason"`
	RecordsAffected int       `json:"records_affected"`
}

// SystemStatus is a point-in-time snapshot of everything the ledger knows,
// combined with the caller-supplied store counts.
type SystemStatus struct {
	TotalConditionsLoaded int            `json:"total_conditions_loaded"`
	TotalActive           int            `json:"total_active"`
	TotalRemoved          int            `json:"total_removed"`
	IngestionBatches      []BatchMetrics `json:"ingestion_batches"`
	QualityFlagsTotal     map[string]int `json:"quality_flags_total"`
	CorrectionsApplied    int            `json:"corrections_applied"`
	ConditionsRemoved     int            `json:"conditions_removed"`
	AvgRetrievalLatencyMS float64        `json:"avg_retrieval_latency_ms"`
}

// Ledger is safe for concurrent use; one mutex guards all state.
type Ledger struct {
	mu               sync.Mutex
	batches          []BatchMetrics
	flagTotals       map[string]int
	corrections      []CorrectionEntry
	latencySamplesMS []float64
}

func NewLedger() *Ledger {
	return &Ledger{flagTotals: make(map[string]int)}
}

// RecordBatch commits one finalized batch and folds its flag counts into
// the running totals.
func (l *Ledger) RecordBatch(m BatchMetrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, m)
	for flag, count := range m.Flags {
		l.flagTotals[flag] += count
	}
}

// RecordCorrection appends one audit entry stamped with the current UTC time.
func (l *Ledger) RecordCorrection(action, target, reason string, recordsAffected int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.corrections = append(l.corrections, CorrectionEntry{
		ID:              uuid.New().String(),
		Timestamp:       time.Now().UTC(),
		Action:          action,
		Target:          target,
		Reason:          reason,
		RecordsAffected: recordsAffected,
	})
}

// RecordRetrievalLatency appends one latency sample in milliseconds.
func (l *Ledger) RecordRetrievalLatency(latencyMS float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latencySamplesMS = append(l.latencySamplesMS, latencyMS)
}

// RetrievalSampleCount reports how many latency samples have been recorded.
func (l *Ledger) RetrievalSampleCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.latencySamplesMS)
}

// Corrections returns a snapshot copy of the audit trail.
func (l *Ledger) Corrections() []CorrectionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CorrectionEntry, len(l.corrections))
	copy(out, l.corrections)
	return out
}

// SystemStatus builds a snapshot from the ledger plus the store counts the
// caller passes in (the ledger does not reach into the store).
func (l *Ledger) SystemStatus(storeActive, storeRemoved int) SystemStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	totalLoaded := 0
	batches := make([]BatchMetrics, len(l.batches))
	copy(batches, l.batches)
	for _, b := range l.batches {
		totalLoaded += b.Received
	}

	flagTotals := make(map[string]int, len(l.flagTotals))
	for flag, count := range l.flagTotals {
		flagTotals[flag] = count
	}

	removed := 0
	for _, c := range l.corrections {
		removed += c.RecordsAffected
	}

	avgLatency := 0.0
	if len(l.latencySamplesMS) > 0 {
		sum := 0.0
		for _, s := range l.latencySamplesMS {
			sum += s
		}
		avgLatency = math.Round(sum/float64(len(l.latencySamplesMS))*100) / 100
	}

	return SystemStatus{
		TotalConditionsLoaded: totalLoaded,
		TotalActive:           storeActive,
		TotalRemoved:          storeRemoved,
		IngestionBatches:      batches,
		QualityFlagsTotal:     flagTotals,
		CorrectionsApplied:    len(l.corrections),
		ConditionsRemoved:     removed,
		AvgRetrievalLatencyMS: avgLatency,
	}
}

// Timer records elapsed wall time into the ledger when stopped. Callers
// defer Stop so the sample is recorded on every exit path.
type Timer struct {
	ledger *Ledger
	start  time.Time
}

func (l *Ledger) StartRetrievalTimer() *Timer {
	return &Timer{ledger: l, start: time.Now()}
}

func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	t.ledger.RecordRetrievalLatency(float64(elapsed.Microseconds()) / 1000.0)
}
