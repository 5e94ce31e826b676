package conditions

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/conditions/conditions-server/internal/platform/fhir"
	"github.com/conditions/conditions-server/internal/platform/monitor"
)

// MalformedInputError marks an input resource that cannot be converted to
// the normalized record shape. It fails one record, never a whole batch.
type MalformedInputError struct {
	ResourceID string
	Reason     string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed condition %q: %s", e.ResourceID, e.Reason)
}

// Synonym table for clinical status normalization. Unmapped non-empty text
// passes through verbatim as its own status value.
var statusSynonyms = map[string]string{
	"active":                   "active",
	"active (qualifier value)": "active",
	"resolved":                 "resolved",
}

// Administrative-entry phrases; any hit flags the record as admin_code.
var adminCodeIndicators = []string{"admin code", "*new member", "prompt authorization"}

// Non-diagnostic encounter phrases; any hit flags the record as vague_entry.
var vagueEntryKeywords = []string{"encounter for", "elective procedure", "initial encounter"}

// DerivedFromExtensionURL identifies the extension carrying provenance
// links to the conditions a record was consolidated from.
const DerivedFromExtensionURL = "http://hl7.org/fhir/StructureDefinition/artifact-relatedArtifact"

// BuildRecord converts one validated input resource into a ConditionRecord.
// It is a pure function of its input and fails only when the mandatory
// identity is missing.
func BuildRecord(cond *fhir.Condition, batchNumber int) (*ConditionRecord, error) {
	if cond == nil {
		return nil, &MalformedInputError{Reason: "nil condition"}
	}
	if err := cond.Validate(); err != nil {
		return nil, &MalformedInputError{ResourceID: cond.ID, Reason: err.Error()}
	}

	codeSets, allCodes := extractCodesBySystem(cond)
	onsetStart, onsetEnd := parseOnsetDates(cond)
	status := normalizeClinicalStatus(cond)

	record := &ConditionRecord{
		ResourceID:       cond.ID,
		ICD10Codes:       codeSets[ICD10System],
		SNOMEDCodes:      codeSets[SNOMEDSystem],
		ICD9Codes:        codeSets[ICD9System],
		IMOCodes:         codeSets[IMOSystem],
		AllCodes:         allCodes,
		NormalizedStatus: status,
		SearchableText:   buildSearchableText(cond),
		DisplayName:      pickDisplayName(cond),
		OnsetStart:       onsetStart,
		OnsetEnd:         onsetEnd,
		DerivedFromIDs:   extractDerivedFromIDs(cond),
		IngestionBatch:   batchNumber,
	}
	record.QualityFlags = detectQualityFlags(cond, record)
	return record, nil
}

// extractCodesBySystem buckets coding entries by system URI. Codes under
// unknown systems still land in the all-codes union but are dropped
// afterwards; only the four known systems are carried on the record.
func extractCodesBySystem(cond *fhir.Condition) (map[string]map[string]bool, map[string]bool) {
	codeSets := map[string]map[string]bool{
		ICD10System:  {},
		SNOMEDSystem: {},
		ICD9System:   {},
		IMOSystem:    {},
	}
	allCodes := map[string]bool{}
	if cond.Code == nil {
		return codeSets, allCodes
	}
	for _, coding := range cond.Code.Coding {
		if coding.Code == "" || coding.System == "" {
			continue
		}
		set, ok := codeSets[coding.System]
		if !ok {
			set = map[string]bool{}
			codeSets[coding.System] = set
		}
		set[coding.Code] = true
		allCodes[coding.Code] = true
	}
	return codeSets, allCodes
}

func normalizeClinicalStatus(cond *fhir.Condition) string {
	if cond.ClinicalStatus == nil {
		return "unknown"
	}
	raw := strings.ToLower(strings.TrimSpace(cond.ClinicalStatus.Text))
	if mapped, ok := statusSynonyms[raw]; ok {
		return mapped
	}
	if raw == "" {
		return "unknown"
	}
	return raw
}

// buildSearchableText concatenates the coded text, each coding's display,
// and each coding's raw code, lower-cased and space-separated, in that
// fixed order. Used only as a substring-match corpus.
func buildSearchableText(cond *fhir.Condition) string {
	var parts []string
	if cond.Code != nil {
		if cond.Code.Text != "" {
			parts = append(parts, cond.Code.Text)
		}
		for _, coding := range cond.Code.Coding {
			if coding.Display != "" {
				parts = append(parts, coding.Display)
			}
			if coding.Code != "" {
				parts = append(parts, coding.Code)
			}
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func pickDisplayName(cond *fhir.Condition) string {
	if cond.Code != nil {
		if cond.Code.Text != "" {
			return cond.Code.Text
		}
		for _, coding := range cond.Code.Coding {
			if coding.Display != "" {
				return coding.Display
			}
		}
	}
	return "Unknown condition"
}

// onsetLayouts are tried in order; source data mixes full timestamps with
// bare dates and not all timestamps carry a zone.
var onsetLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseOnsetDates parses the onset interval. A malformed timestamp string
// is dropped without failing the record.
func parseOnsetDates(cond *fhir.Condition) (*time.Time, *time.Time) {
	if cond.OnsetPeriod == nil {
		return nil, nil
	}
	return parseTimestamp(cond.OnsetPeriod.Start), parseTimestamp(cond.OnsetPeriod.End)
}

func parseTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range onsetLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts
		}
	}
	return nil
}

// detectQualityFlags runs the independent heuristic checks. Each flag is
// appended at most once; any subset may fire on the same record.
func detectQualityFlags(cond *fhir.Condition, record *ConditionRecord) []string {
	var flags []string

	if cond.ClinicalStatus == nil {
		flags = append(flags, FlagMissingClinicalStatus)
	}

	hasEndDate := record.OnsetEnd != nil
	if record.NormalizedStatus == "active" && hasEndDate {
		flags = append(flags, FlagInconsistentStatus)
	} else if record.NormalizedStatus == "resolved" && !hasEndDate {
		flags = append(flags, FlagInconsistentStatus)
	}

	for _, indicator := range adminCodeIndicators {
		if strings.Contains(record.SearchableText, indicator) {
			flags = append(flags, FlagAdminCode)
			break
		}
	}
	for _, keyword := range vagueEntryKeywords {
		if strings.Contains(record.SearchableText, keyword) {
			flags = append(flags, FlagVagueEntry)
			break
		}
	}

	if record.OnsetStart != nil && record.OnsetEnd != nil {
		duration := record.OnsetEnd.Sub(*record.OnsetStart)
		if duration > 0 && duration < 24*time.Hour {
			flags = append(flags, FlagShortDuration)
		}
	}

	if len(record.ICD10Codes) == 0 {
		flags = append(flags, FlagMissingICD10)
	}

	return flags
}

// extractDerivedFromIDs scans the extension list for derived-from
// provenance links of the form Condition/<id>. Non-matching or malformed
// extensions are silently skipped.
func extractDerivedFromIDs(cond *fhir.Condition) []string {
	var ids []string
	for _, ext := range cond.Extension {
		if ext.URL != DerivedFromExtensionURL {
			continue
		}
		artifact := ext.ValueRelatedArtifact
		if artifact == nil || artifact.Type != "derived-from" || artifact.Display == "" {
			continue
		}
		if id, ok := strings.CutPrefix(artifact.Display, "Condition/"); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// IngestBatch builds and stores a record per input. A build failure counts
// as errored and the batch continues; a duplicate resource id counts as
// skipped. The batch's aggregate metrics are committed to the ledger
// exactly once, after the loop.
func IngestBatch(inputs []*fhir.Condition, batchNumber int, store *Store, ledger *monitor.Ledger, logger zerolog.Logger) monitor.BatchMetrics {
	metrics := monitor.BatchMetrics{
		BatchNumber: batchNumber,
		Received:    len(inputs),
		Flags:       map[string]int{},
	}

	for _, input := range inputs {
		record, err := BuildRecord(input, batchNumber)
		if err != nil {
			id := "?"
			if input != nil && input.ID != "" {
				id = input.ID
			}
			logger.Error().Err(err).Str("resource_id", id).Msg("failed to build condition record")
			metrics.Errored++
			continue
		}

		if !store.Add(record) {
			logger.Warn().Str("resource_id", record.ResourceID).Msg("duplicate resource id skipped")
			metrics.SkippedDuplicate++
			continue
		}

		metrics.Added++
		for _, flag := range record.QualityFlags {
			metrics.Flags[flag]++
			logger.Info().
				Str("flag", flag).
				Str("resource_id", record.ResourceID).
				Str("display_name", record.DisplayName).
				Msg("quality flag detected")
		}
	}

	ledger.RecordBatch(metrics)

	logger.Info().
		Int("batch", batchNumber).
		Int("received", metrics.Received).
		Int("added", metrics.Added).
		Int("skipped_duplicate", metrics.SkippedDuplicate).
		Int("errored", metrics.Errored).
		Interface("flags", metrics.Flags).
		Msg("batch complete")

	return metrics
}

// SplitIntoBatches shuffles the inputs deterministically and splits them
// into two batches, the first taking the extra element on odd counts.
func SplitIntoBatches(inputs []*fhir.Condition, seed int64) ([]*fhir.Condition, []*fhir.Condition) {
	shuffled := append([]*fhir.Condition(nil), inputs...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	mid := len(shuffled)/2 + len(shuffled)%2
	return shuffled[:mid], shuffled[mid:]
}
