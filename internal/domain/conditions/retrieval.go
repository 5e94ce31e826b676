package conditions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/conditions/conditions-server/internal/platform/monitor"
)

// systemAliases maps case-insensitive filter aliases to a record's
// per-system code set. An unrecognized alias falls back to the union.
var systemAliases = map[string]func(*ConditionRecord) map[string]bool{
	"icd10":  func(r *ConditionRecord) map[string]bool { return r.ICD10Codes },
	"icd-10": func(r *ConditionRecord) map[string]bool { return r.ICD10Codes },
	"snomed": func(r *ConditionRecord) map[string]bool { return r.SNOMEDCodes },
	"icd9":   func(r *ConditionRecord) map[string]bool { return r.ICD9Codes },
	"icd-9":  func(r *ConditionRecord) map[string]bool { return r.ICD9Codes },
	"imo":    func(r *ConditionRecord) map[string]bool { return r.IMOCodes },
}

// RetrieveOptions are the caller's filters. Present filters are applied
// conjunctively.
type RetrieveOptions struct {
	Query      string
	Code       string
	CodeSystem string
	Status     string
	MaxResults int
}

// ConditionGroup clusters records sharing a canonical code. Ephemeral:
// built fresh per retrieval call and discarded after formatting.
type ConditionGroup struct {
	CanonicalCode           string
	CodeSystemLabel         string
	DisplayName             string
	AllCodes                map[string]map[string]bool
	Statuses                map[string]bool
	EncounterCount          int
	EarliestOnset           string
	LatestOnset             string
	QualityFlags            map[string]bool
	HasOverlappingDates     bool
	ConsolidatedRecordCount int
	DerivedFromSourceCount  int
}

// canonicalCode picks the single code that represents a record in grouping,
// by fixed system priority: ICD-10, then SNOMED, then ICD-9, then the
// lower-cased display name as a text fallback. Within a set the lexically
// smallest code is chosen so the canonical code is stable.
func canonicalCode(record *ConditionRecord) (string, string) {
	if code, ok := firstCode(record.ICD10Codes); ok {
		return code, "ICD-10"
	}
	if code, ok := firstCode(record.SNOMEDCodes); ok {
		return code, "SNOMED"
	}
	if code, ok := firstCode(record.ICD9Codes); ok {
		return code, "ICD-9"
	}
	return strings.ToLower(record.DisplayName), "text"
}

func firstCode(set map[string]bool) (string, bool) {
	if len(set) == 0 {
		return "", false
	}
	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes[0], true
}

func codeLabels(record *ConditionRecord) map[string]map[string]bool {
	result := map[string]map[string]bool{}
	if len(record.ICD10Codes) > 0 {
		result["ICD-10"] = copySet(record.ICD10Codes)
	}
	if len(record.SNOMEDCodes) > 0 {
		result["SNOMED"] = copySet(record.SNOMEDCodes)
	}
	if len(record.ICD9Codes) > 0 {
		result["ICD-9"] = copySet(record.ICD9Codes)
	}
	if len(record.IMOCodes) > 0 {
		result["IMO"] = copySet(record.IMOCodes)
	}
	return result
}

func matchesCode(record *ConditionRecord, code, codeSystem string) bool {
	if codeSystem != "" {
		if setOf, ok := systemAliases[strings.ToLower(codeSystem)]; ok {
			return setOf(record)[code]
		}
	}
	return record.AllCodes[code]
}

type onsetPeriod struct {
	start string
	end   string
}

// detectOverlappingOnsetPeriods sorts the (start, end) pairs by start and
// reports whether any start falls strictly before the preceding end.
func detectOverlappingOnsetPeriods(periods []onsetPeriod) bool {
	sorted := append([]onsetPeriod(nil), periods...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].start < sorted[i-1].end {
			return true
		}
	}
	return false
}

// GroupByCanonicalCode clusters records by canonical code and orders the
// groups by descending encounter count; ties keep the insertion order of
// the first-seen canonical code.
func GroupByCanonicalCode(records []*ConditionRecord) []*ConditionGroup {
	groups := map[string]*ConditionGroup{}
	var groupOrder []string
	onsetPeriodsByGroup := map[string][]onsetPeriod{}

	for _, record := range records {
		code, label := canonicalCode(record)

		group, ok := groups[code]
		if !ok {
			group = &ConditionGroup{
				CanonicalCode:   code,
				CodeSystemLabel: label,
				DisplayName:     record.DisplayName,
				AllCodes:        codeLabels(record),
				Statuses:        map[string]bool{},
				QualityFlags:    map[string]bool{},
			}
			groups[code] = group
			groupOrder = append(groupOrder, code)
		}

		group.EncounterCount++
		group.Statuses[record.NormalizedStatus] = true
		for _, flag := range record.QualityFlags {
			group.QualityFlags[flag] = true
		}

		if len(record.DerivedFromIDs) > 0 {
			group.ConsolidatedRecordCount++
			group.DerivedFromSourceCount += len(record.DerivedFromIDs)
		}

		for sysLabel, codes := range codeLabels(record) {
			if group.AllCodes[sysLabel] == nil {
				group.AllCodes[sysLabel] = map[string]bool{}
			}
			for c := range codes {
				group.AllCodes[sysLabel][c] = true
			}
		}

		if record.OnsetStart != nil {
			onset := record.OnsetStart.Format("2006-01-02")
			if group.EarliestOnset == "" || onset < group.EarliestOnset {
				group.EarliestOnset = onset
			}
			if group.LatestOnset == "" || onset > group.LatestOnset {
				group.LatestOnset = onset
			}
		}

		if record.OnsetStart != nil && record.OnsetEnd != nil {
			onsetPeriodsByGroup[code] = append(onsetPeriodsByGroup[code], onsetPeriod{
				start: record.OnsetStart.Format("2006-01-02T15:04:05"),
				end:   record.OnsetEnd.Format("2006-01-02T15:04:05"),
			})
		}
	}

	ordered := make([]*ConditionGroup, 0, len(groupOrder))
	for _, code := range groupOrder {
		group := groups[code]
		periods := onsetPeriodsByGroup[code]
		if len(periods) >= 2 && detectOverlappingOnsetPeriods(periods) {
			group.HasOverlappingDates = true
		}
		ordered = append(ordered, group)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EncounterCount > ordered[j].EncounterCount
	})
	return ordered
}

// FormatGroup renders one group as the human-readable summary block.
// Warnings list descriptions of present high/medium flags only.
func FormatGroup(group *ConditionGroup) string {
	var codeParts []string
	sysLabels := make([]string, 0, len(group.AllCodes))
	for label := range group.AllCodes {
		sysLabels = append(sysLabels, label)
	}
	sort.Strings(sysLabels)
	for _, label := range sysLabels {
		codes := make([]string, 0, len(group.AllCodes[label]))
		for code := range group.AllCodes[label] {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		codeParts = append(codeParts, fmt.Sprintf("%s: %s", label, strings.Join(codes, ", ")))
	}
	codeStr := strings.Join(codeParts, " | ")

	statuses := make([]string, 0, len(group.Statuses))
	for status := range group.Statuses {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	dateRange := ""
	if group.EarliestOnset != "" {
		if group.LatestOnset != "" && group.EarliestOnset != group.LatestOnset {
			dateRange = fmt.Sprintf(" | %s to %s", group.EarliestOnset, group.LatestOnset)
		} else {
			dateRange = fmt.Sprintf(" | %s", group.EarliestOnset)
		}
	}

	lines := []string{
		fmt.Sprintf("%s (%s)", group.DisplayName, codeStr),
		fmt.Sprintf("  Status: %s | %d encounter(s)%s", strings.Join(statuses, ", "), group.EncounterCount, dateRange),
	}

	if group.HasOverlappingDates {
		lines = append(lines, "  Note: overlapping date ranges across encounters")
	}

	if group.ConsolidatedRecordCount > 0 {
		lines = append(lines, fmt.Sprintf(
			"  Note: includes %d consolidated record(s) derived from %d source(s)",
			group.ConsolidatedRecordCount, group.DerivedFromSourceCount))
	}

	var warnings []string
	flags := make([]string, 0, len(group.QualityFlags))
	for flag := range group.QualityFlags {
		flags = append(flags, flag)
	}
	sort.Strings(flags)
	for _, flag := range flags {
		meta, ok := QualityFlagMetadata[flag]
		if ok && (meta.Severity == "high" || meta.Severity == "medium") {
			warnings = append(warnings, meta.Description)
		}
	}
	if len(warnings) > 0 {
		lines = append(lines, fmt.Sprintf("  Warning: %s", strings.Join(warnings, "; ")))
	}

	return strings.Join(lines, "\n")
}

// Retriever serves filtered, grouped, formatted views of active records.
type Retriever struct {
	store  *Store
	ledger *monitor.Ledger
	logger zerolog.Logger
}

func NewRetriever(store *Store, ledger *monitor.Ledger, logger zerolog.Logger) *Retriever {
	return &Retriever{store: store, ledger: ledger, logger: logger.With().Str("component", "retrieval").Logger()}
}

// Retrieve filters active records, groups them by canonical code, and
// renders the summary. Latency is recorded on every exit path.
func (rt *Retriever) Retrieve(opts RetrieveOptions) string {
	defer rt.ledger.StartRetrievalTimer().Stop()

	candidates := rt.store.AllActive()

	if opts.Query != "" {
		query := strings.ToLower(opts.Query)
		candidates = filterRecords(candidates, func(r *ConditionRecord) bool {
			return strings.Contains(r.SearchableText, query)
		})
	}
	if opts.Code != "" {
		candidates = filterRecords(candidates, func(r *ConditionRecord) bool {
			return matchesCode(r, opts.Code, opts.CodeSystem)
		})
	}
	if opts.Status != "" {
		status := strings.ToLower(opts.Status)
		candidates = filterRecords(candidates, func(r *ConditionRecord) bool {
			return r.NormalizedStatus == status
		})
	}

	if len(candidates) == 0 {
		var filters []string
		if opts.Query != "" {
			filters = append(filters, fmt.Sprintf("text=%q", opts.Query))
		}
		if opts.Code != "" {
			filters = append(filters, fmt.Sprintf("code=%s", opts.Code))
		}
		if opts.Status != "" {
			filters = append(filters, fmt.Sprintf("status=%s", opts.Status))
		}
		return fmt.Sprintf("No conditions found matching: %s", strings.Join(filters, ", "))
	}

	grouped := GroupByCanonicalCode(candidates)
	limited := grouped
	if opts.MaxResults > 0 && len(grouped) > opts.MaxResults {
		limited = grouped[:opts.MaxResults]
	}

	sections := make([]string, 0, len(limited))
	for _, group := range limited {
		sections = append(sections, FormatGroup(group))
	}

	header := fmt.Sprintf("Found %d record(s) across %d condition(s)", len(candidates), len(grouped))
	if len(grouped) > len(limited) {
		header += fmt.Sprintf(" (showing top %d)", len(limited))
	}
	header += fmt.Sprintf(" - %d active conditions total", rt.store.ActiveCount())

	rt.logger.Info().
		Str("query", opts.Query).
		Str("code", opts.Code).
		Str("status", opts.Status).
		Int("records", len(candidates)).
		Int("groups", len(grouped)).
		Msg("retrieval")

	return header + "\n\n" + strings.Join(sections, "\n\n")
}

func filterRecords(records []*ConditionRecord, keep func(*ConditionRecord) bool) []*ConditionRecord {
	out := records[:0:0]
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
