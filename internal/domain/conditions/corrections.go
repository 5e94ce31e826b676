package conditions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/conditions/conditions-server/internal/platform/monitor"
)

// RemovalPredicate is a named, versionless bulk-correction rule. A record
// matches when it satisfies any one of the non-empty criteria; values
// within a criterion are also OR-combined.
type RemovalPredicate struct {
	Name         string
	Description  string
	TextPatterns []string
	ICD10Codes   map[string]bool
	SNOMEDCodes  map[string]bool
	QualityFlags []string
}

// predicateRegistry is the fixed set of named predicates available to
// RemoveByPredicate.
var predicateRegistry = map[string]RemovalPredicate{
	"tuberculosis": {
		Name:         "tuberculosis",
		Description:  "All TB-related conditions (latent TB, history of TB)",
		TextPatterns: []string{"tuberculosis", "latent tb", "hx of latent tb"},
		ICD10Codes:   map[string]bool{"Z22.7": true, "Z86.15": true},
		SNOMEDCodes:  map[string]bool{"11999007": true, "428934008": true},
	},
	"admin_codes": {
		Name:         "admin_codes",
		Description:  "Non-clinical administrative entries",
		QualityFlags: []string{FlagAdminCode},
	},
}

func matchesPredicate(record *ConditionRecord, pred RemovalPredicate) bool {
	for _, pattern := range pred.TextPatterns {
		if strings.Contains(record.SearchableText, pattern) {
			return true
		}
	}
	for code := range pred.ICD10Codes {
		if record.ICD10Codes[code] {
			return true
		}
	}
	for code := range pred.SNOMEDCodes {
		if record.SNOMEDCodes[code] {
			return true
		}
	}
	for _, flag := range pred.QualityFlags {
		if record.HasFlag(flag) {
			return true
		}
	}
	return false
}

// RemovalResult is the structured outcome of a correction operation.
// ActiveRemaining is populated on both success and failure so the caller
// can always report current state.
type RemovalResult struct {
	Success           bool     `json:"success"`
	Message           string   `json:"message"`
	RecordsRemoved    int      `json:"records_removed"`
	RemovedConditions []string `json:"removed_conditions,omitempty"`
	ActiveRemaining   int      `json:"active_remaining"`
}

// CorrectionsList is the read-only projection of the audit trail.
type CorrectionsList struct {
	Corrections         []monitor.CorrectionEntry `json:"corrections"`
	TotalCorrections    int                       `json:"total_corrections"`
	TotalRecordsRemoved int                       `json:"total_records_removed"`
}

// Engine applies soft-delete corrections against the store and writes one
// audit entry per operation to the ledger.
type Engine struct {
	store  *Store
	ledger *monitor.Ledger
	logger zerolog.Logger
}

func NewEngine(store *Store, ledger *monitor.Ledger, logger zerolog.Logger) *Engine {
	return &Engine{store: store, ledger: ledger, logger: logger.With().Str("component", "corrections").Logger()}
}

// RemoveByText soft-removes every active record whose searchable text
// contains the case-folded substring.
func (e *Engine) RemoveByText(target, reason string) RemovalResult {
	targetLower := strings.ToLower(target)
	var matched []*ConditionRecord
	for _, record := range e.store.AllActive() {
		if strings.Contains(record.SearchableText, targetLower) {
			matched = append(matched, record)
		}
	}
	return e.applyRemovals(matched, "remove_by_text", target, reason)
}

// RemoveByCode soft-removes every active record whose global code set
// contains the exact code string.
func (e *Engine) RemoveByCode(code, reason string) RemovalResult {
	var matched []*ConditionRecord
	for _, record := range e.store.AllActive() {
		if record.AllCodes[code] {
			matched = append(matched, record)
		}
	}
	return e.applyRemovals(matched, "remove_by_code", code, reason)
}

// RemoveByID soft-removes one record, distinguishing an unknown id from an
// already-removed one.
func (e *Engine) RemoveByID(resourceID, reason string) RemovalResult {
	record, ok := e.store.GetByID(resourceID)
	if !ok {
		return e.noMatch(resourceID)
	}
	if record.IsRemoved {
		return RemovalResult{
			Message:         fmt.Sprintf("Condition %q is already removed.", resourceID),
			ActiveRemaining: e.store.ActiveCount(),
		}
	}
	return e.applyRemovals([]*ConditionRecord{record}, "remove_by_id", resourceID, reason)
}

// RemoveByPredicate soft-removes every active record matching the named
// predicate. An unknown name fails with the list of available predicates.
func (e *Engine) RemoveByPredicate(name, reason string) RemovalResult {
	pred, ok := predicateRegistry[name]
	if !ok {
		names := make([]string, 0, len(predicateRegistry))
		for n := range predicateRegistry {
			names = append(names, n)
		}
		sort.Strings(names)
		return RemovalResult{
			Message:         fmt.Sprintf("Unknown predicate %q. Available: %s", name, strings.Join(names, ", ")),
			ActiveRemaining: e.store.ActiveCount(),
		}
	}

	var matched []*ConditionRecord
	for _, record := range e.store.AllActive() {
		if matchesPredicate(record, pred) {
			matched = append(matched, record)
		}
	}
	return e.applyRemovals(matched, "remove_by_predicate", name, reason)
}

// ListCorrections projects the ledger's audit trail and the store's removed
// count; no mutation.
func (e *Engine) ListCorrections() CorrectionsList {
	corrections := e.ledger.Corrections()
	return CorrectionsList{
		Corrections:         corrections,
		TotalCorrections:    len(corrections),
		TotalRecordsRemoved: e.store.RemovedCount(),
	}
}

// Status snapshots the ledger combined with current store counts.
func (e *Engine) Status() monitor.SystemStatus {
	return e.ledger.SystemStatus(e.store.ActiveCount(), e.store.RemovedCount())
}

// AvailablePredicates returns the registry as name -> description.
func (e *Engine) AvailablePredicates() map[string]string {
	out := make(map[string]string, len(predicateRegistry))
	for name, pred := range predicateRegistry {
		out[name] = pred.Description
	}
	return out
}

func (e *Engine) applyRemovals(matched []*ConditionRecord, action, target, reason string) RemovalResult {
	if len(matched) == 0 {
		return e.noMatch(target)
	}

	var removed []string
	for _, record := range matched {
		if !e.store.SoftRemove(record.ResourceID, reason) {
			continue
		}
		removed = append(removed, fmt.Sprintf("%s (%s)", record.DisplayName, idPrefix(record.ResourceID)))
		e.logger.Info().
			Str("resource_id", record.ResourceID).
			Str("display_name", record.DisplayName).
			Str("reason", reason).
			Msg("condition removed")
	}

	e.ledger.RecordCorrection(action, target, reason, len(removed))

	active := e.store.ActiveCount()
	return RemovalResult{
		Success:           true,
		Message:           fmt.Sprintf("Removed %d condition(s). %d active remaining.", len(removed), active),
		RecordsRemoved:    len(removed),
		RemovedConditions: removed,
		ActiveRemaining:   active,
	}
}

func (e *Engine) noMatch(target string) RemovalResult {
	return RemovalResult{
		Message:         fmt.Sprintf("No active conditions found matching %q.", target),
		ActiveRemaining: e.store.ActiveCount(),
	}
}

func idPrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
