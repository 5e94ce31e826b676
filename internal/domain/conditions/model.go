package conditions

import (
	"time"
)

// Coding system URIs recognized during code extraction. Codings under any
// other system are dropped after the all-codes union is built.
const (
	ICD10System  = "http://hl7.org/fhir/sid/icd-10-cm"
	SNOMEDSystem = "http://snomed.info/sct"
	ICD9System   = "http://terminology.hl7.org/CodeSystem/ICD-9CM-diagnosiscodes"
	IMOSystem    = "http://terminology.hl7.org/CodeSystem-IMO.html"
)

// Quality flag identifiers, detected once at ingestion.
const (
	FlagAdminCode             = "admin_code"
	FlagVagueEntry            = "vague_entry"
	FlagMissingClinicalStatus = "missing_clinical_status"
	FlagInconsistentStatus    = "inconsistent_status"
	FlagShortDuration         = "short_duration"
	FlagMissingICD10          = "missing_icd10"
)

// FlagMetadata describes a quality flag for display purposes only; it is
// never consulted during detection.
type FlagMetadata struct {
	Severity    string
	Description string
}

// QualityFlagMetadata maps each flag to its severity tier and human
// description. Low-severity flags are tracked but never surfaced in
// retrieval summaries.
var QualityFlagMetadata = map[string]FlagMetadata{
	FlagAdminCode:             {Severity: "high", Description: "Non-clinical admin entry"},
	FlagVagueEntry:            {Severity: "high", Description: "Encounter/procedure code, not a condition"},
	FlagMissingClinicalStatus: {Severity: "medium", Description: "No active/resolved status provided"},
	FlagInconsistentStatus:    {Severity: "medium", Description: "End date vs. clinical status mismatch"},
	FlagShortDuration:         {Severity: "low", Description: "Condition duration under 24 hours"},
	FlagMissingICD10:          {Severity: "low", Description: "No ICD-10 code, SNOMED only"},
}

// ConditionRecord is one normalized condition. Immutable after creation
// except for the soft-delete fields, which transition exactly once.
type ConditionRecord struct {
	ResourceID string

	ICD10Codes  map[string]bool
	SNOMEDCodes map[string]bool
	ICD9Codes   map[string]bool
	IMOCodes    map[string]bool
	AllCodes    map[string]bool

	NormalizedStatus string
	SearchableText   string
	DisplayName      string

	OnsetStart *time.Time
	OnsetEnd   *time.Time

	QualityFlags []string

	DerivedFromIDs []string

	IsRemoved        bool
	RemovalReason    string
	RemovalTimestamp *time.Time

	IngestionBatch int
}

// HasFlag reports whether the record carries the given quality flag.
func (r *ConditionRecord) HasFlag(flag string) bool {
	for _, f := range r.QualityFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// clone returns a copy of the record so callers of store snapshots cannot
// mutate stored state. Code sets and slices are copied, not shared.
func (r *ConditionRecord) clone() *ConditionRecord {
	out := *r
	out.ICD10Codes = copySet(r.ICD10Codes)
	out.SNOMEDCodes = copySet(r.SNOMEDCodes)
	out.ICD9Codes = copySet(r.ICD9Codes)
	out.IMOCodes = copySet(r.IMOCodes)
	out.AllCodes = copySet(r.AllCodes)
	out.QualityFlags = append([]string(nil), r.QualityFlags...)
	out.DerivedFromIDs = append([]string(nil), r.DerivedFromIDs...)
	if r.OnsetStart != nil {
		start := *r.OnsetStart
		out.OnsetStart = &start
	}
	if r.OnsetEnd != nil {
		end := *r.OnsetEnd
		out.OnsetEnd = &end
	}
	if r.RemovalTimestamp != nil {
		ts := *r.RemovalTimestamp
		out.RemovalTimestamp = &ts
	}
	return &out
}

func copySet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}
