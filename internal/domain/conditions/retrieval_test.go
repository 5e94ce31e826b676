package conditions

import (
	"strings"
	"testing"

	"github.com/conditions/conditions-server/internal/platform/fhir"
	"github.com/conditions/conditions-server/internal/platform/monitor"
)

func newTestRetriever(t *testing.T, inputs ...*fhir.Condition) (*Retriever, *monitor.Ledger) {
	t.Helper()
	store := NewStore()
	ledger := monitor.NewLedger()
	for _, input := range inputs {
		record, err := BuildRecord(input, 1)
		if err != nil {
			t.Fatalf("fixture build failed: %v", err)
		}
		store.Add(record)
	}
	return NewRetriever(store, ledger, testLogger()), ledger
}

func withOnset(cond *fhir.Condition, start, end string) *fhir.Condition {
	cond.OnsetPeriod = &fhir.Period{Start: start, End: end}
	return cond
}

func TestGroupByCanonicalCodeMergesEncounters(t *testing.T) {
	first, _ := BuildRecord(withOnset(asthmaCondition("e1"), "2020-01-01", "2020-06-01"), 1)
	second, _ := BuildRecord(withOnset(asthmaCondition("e2"), "2021-03-01", "2021-04-01"), 1)
	gout, _ := BuildRecord(namedCondition("g1", "Gout", fhir.Coding{System: ICD10System, Code: "M10.9"}), 1)

	groups := GroupByCanonicalCode([]*ConditionRecord{first, second, gout})
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}

	// Descending encounter count puts asthma first.
	asthma := groups[0]
	if asthma.CanonicalCode != "J45.909" || asthma.CodeSystemLabel != "ICD-10" {
		t.Errorf("canonical = %s (%s), want J45.909 (ICD-10)", asthma.CanonicalCode, asthma.CodeSystemLabel)
	}
	if asthma.EncounterCount != 2 {
		t.Errorf("EncounterCount = %d, want 2", asthma.EncounterCount)
	}
	if asthma.EarliestOnset != "2020-01-01" || asthma.LatestOnset != "2021-03-01" {
		t.Errorf("onset range = %s..%s, want 2020-01-01..2021-03-01", asthma.EarliestOnset, asthma.LatestOnset)
	}
	if asthma.HasOverlappingDates {
		t.Error("HasOverlappingDates = true for disjoint periods")
	}
	if !asthma.AllCodes["SNOMED"]["195967001"] {
		t.Errorf("AllCodes missing merged SNOMED code: %v", asthma.AllCodes)
	}
}

func TestGroupDetectsOverlappingDates(t *testing.T) {
	first, _ := BuildRecord(withOnset(asthmaCondition("e1"), "2020-01-01", "2020-06-01"), 1)
	second, _ := BuildRecord(withOnset(asthmaCondition("e2"), "2020-03-01", "2020-09-01"), 1)

	groups := GroupByCanonicalCode([]*ConditionRecord{first, second})
	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}
	if !groups[0].HasOverlappingDates {
		t.Error("HasOverlappingDates = false for 2020-01-01..06-01 vs 2020-03-01..09-01")
	}
}

func TestCanonicalCodePriority(t *testing.T) {
	tests := []struct {
		name      string
		codings   []fhir.Coding
		wantCode  string
		wantLabel string
	}{
		{
			name: "icd10 wins over snomed",
			codings: []fhir.Coding{
				{System: SNOMEDSystem, Code: "195967001"},
				{System: ICD10System, Code: "J45.909"},
			},
			wantCode:  "J45.909",
			wantLabel: "ICD-10",
		},
		{
			name:      "snomed wins over icd9",
			codings:   []fhir.Coding{{System: ICD9System, Code: "493.90"}, {System: SNOMEDSystem, Code: "195967001"}},
			wantCode:  "195967001",
			wantLabel: "SNOMED",
		},
		{
			name:      "lexically smallest within a system",
			codings:   []fhir.Coding{{System: ICD10System, Code: "J45.909"}, {System: ICD10System, Code: "J45.20"}},
			wantCode:  "J45.20",
			wantLabel: "ICD-10",
		},
		{
			name:      "text fallback",
			wantCode:  "asthma",
			wantLabel: "text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := BuildRecord(namedCondition("c1", "Asthma", tt.codings...), 1)
			if err != nil {
				t.Fatal(err)
			}
			code, label := canonicalCode(record)
			if code != tt.wantCode || label != tt.wantLabel {
				t.Errorf("canonicalCode() = %s (%s), want %s (%s)", code, label, tt.wantCode, tt.wantLabel)
			}
		})
	}
}

func TestRetrieveFilters(t *testing.T) {
	rt, _ := newTestRetriever(t,
		asthmaCondition("a1"),
		namedCondition("g1", "Gout", fhir.Coding{System: ICD10System, Code: "M10.9"}),
		func() *fhir.Condition {
			c := namedCondition("r1", "Hypertension", fhir.Coding{System: ICD10System, Code: "I10"})
			c.ClinicalStatus = &fhir.CodeableConcept{Text: "Resolved"}
			return c
		}(),
	)

	summary := rt.Retrieve(RetrieveOptions{Query: "asthma"})
	if !strings.Contains(summary, "Found 1 record(s) across 1 condition(s)") {
		t.Errorf("query filter summary = %q", summary)
	}
	if !strings.Contains(summary, "Asthma") || strings.Contains(summary, "Gout") {
		t.Errorf("query filter leaked other groups: %q", summary)
	}

	summary = rt.Retrieve(RetrieveOptions{Code: "M10.9"})
	if !strings.Contains(summary, "Gout") {
		t.Errorf("code filter summary = %q", summary)
	}

	// System-scoped code filter: J45.909 exists only under ICD-10.
	summary = rt.Retrieve(RetrieveOptions{Code: "J45.909", CodeSystem: "snomed"})
	if !strings.Contains(summary, "No conditions found") {
		t.Errorf("system-scoped filter summary = %q", summary)
	}

	summary = rt.Retrieve(RetrieveOptions{Status: "resolved"})
	if !strings.Contains(summary, "Hypertension") || strings.Contains(summary, "Asthma") {
		t.Errorf("status filter summary = %q", summary)
	}

	// Filters combine conjunctively.
	summary = rt.Retrieve(RetrieveOptions{Query: "gout", Status: "resolved"})
	if !strings.Contains(summary, "No conditions found matching") {
		t.Errorf("conjunctive filter summary = %q", summary)
	}
	if !strings.Contains(summary, `text="gout"`) || !strings.Contains(summary, "status=resolved") {
		t.Errorf("empty-result message missing filters: %q", summary)
	}
}

func TestRetrieveMaxResults(t *testing.T) {
	rt, _ := newTestRetriever(t,
		asthmaCondition("a1"),
		asthmaCondition("a2"),
		namedCondition("g1", "Gout", fhir.Coding{System: ICD10System, Code: "M10.9"}),
		namedCondition("h1", "Hypertension", fhir.Coding{System: ICD10System, Code: "I10"}),
	)

	summary := rt.Retrieve(RetrieveOptions{MaxResults: 1})
	if !strings.Contains(summary, "Found 4 record(s) across 3 condition(s) (showing top 1)") {
		t.Errorf("header = %q", summary)
	}
	// The top group by encounter count is asthma; the rest are cut.
	if !strings.Contains(summary, "Asthma") || strings.Contains(summary, "Gout") {
		t.Errorf("truncation kept wrong groups: %q", summary)
	}
}

func TestRetrieveRecordsLatency(t *testing.T) {
	rt, ledger := newTestRetriever(t, asthmaCondition("a1"))

	rt.Retrieve(RetrieveOptions{})
	rt.Retrieve(RetrieveOptions{Query: "no such thing"})

	status := ledger.SystemStatus(1, 0)
	if status.AvgRetrievalLatencyMS < 0 {
		t.Errorf("AvgRetrievalLatencyMS = %f, want >= 0", status.AvgRetrievalLatencyMS)
	}
	// Both calls, including the empty-result path, record a sample.
	if got := ledger.RetrievalSampleCount(); got != 2 {
		t.Errorf("latency samples = %d, want 2", got)
	}
}

func TestFormatGroupWarningsAndNotes(t *testing.T) {
	cond := namedCondition("c1", "Encounter for admin code *NEW MEMBER")
	cond.ClinicalStatus = nil
	cond.Extension = []fhir.Extension{
		{
			URL: DerivedFromExtensionURL,
			ValueRelatedArtifact: &fhir.RelatedArtifact{
				Type:    "derived-from",
				Display: "Condition/src-1",
			},
		},
	}
	record, err := BuildRecord(cond, 1)
	if err != nil {
		t.Fatal(err)
	}

	groups := GroupByCanonicalCode([]*ConditionRecord{record})
	text := FormatGroup(groups[0])

	if !strings.Contains(text, "Note: includes 1 consolidated record(s) derived from 1 source(s)") {
		t.Errorf("missing consolidation note:\n%s", text)
	}
	if !strings.Contains(text, "Warning: ") {
		t.Errorf("missing warnings line:\n%s", text)
	}
	// High and medium severity flags surface as warnings.
	if !strings.Contains(text, QualityFlagMetadata[FlagAdminCode].Description) {
		t.Errorf("admin code warning missing:\n%s", text)
	}
	if !strings.Contains(text, QualityFlagMetadata[FlagMissingClinicalStatus].Description) {
		t.Errorf("missing status warning missing:\n%s", text)
	}
	// Low severity flags stay out of the warnings line.
	if strings.Contains(text, QualityFlagMetadata[FlagMissingICD10].Description) {
		t.Errorf("low severity flag leaked into warnings:\n%s", text)
	}
}

func TestFormatGroupDateRange(t *testing.T) {
	first, _ := BuildRecord(withOnset(asthmaCondition("e1"), "2020-01-01", ""), 1)
	second, _ := BuildRecord(withOnset(asthmaCondition("e2"), "2021-03-01", ""), 1)

	groups := GroupByCanonicalCode([]*ConditionRecord{first, second})
	text := FormatGroup(groups[0])
	if !strings.Contains(text, "2020-01-01 to 2021-03-01") {
		t.Errorf("date range missing:\n%s", text)
	}
	if !strings.Contains(text, "2 encounter(s)") {
		t.Errorf("encounter count missing:\n%s", text)
	}
}

func TestDetectOverlappingOnsetPeriods(t *testing.T) {
	disjoint := []onsetPeriod{
		{start: "2020-01-01T00:00:00", end: "2020-02-01T00:00:00"},
		{start: "2020-03-01T00:00:00", end: "2020-04-01T00:00:00"},
	}
	if detectOverlappingOnsetPeriods(disjoint) {
		t.Error("disjoint periods reported as overlapping")
	}

	overlapping := []onsetPeriod{
		{start: "2020-03-01T00:00:00", end: "2020-09-01T00:00:00"},
		{start: "2020-01-01T00:00:00", end: "2020-06-01T00:00:00"},
	}
	if !detectOverlappingOnsetPeriods(overlapping) {
		t.Error("overlapping periods not detected")
	}

	// Touching endpoints do not overlap.
	adjacent := []onsetPeriod{
		{start: "2020-01-01T00:00:00", end: "2020-02-01T00:00:00"},
		{start: "2020-02-01T00:00:00", end: "2020-03-01T00:00:00"},
	}
	if detectOverlappingOnsetPeriods(adjacent) {
		t.Error("adjacent periods reported as overlapping")
	}
}
