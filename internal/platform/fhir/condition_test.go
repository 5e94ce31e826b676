package fhir

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestConditionValidate(t *testing.T) {
	c := &Condition{ResourceType: "Condition", ID: "abc"}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() error on valid condition: %v", err)
	}

	c = &Condition{ResourceType: "Condition"}
	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil with missing id, want error")
	}

	c = &Condition{ResourceType: "Patient", ID: "abc"}
	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil with wrong resourceType, want error")
	}
}

func TestConditionDecode(t *testing.T) {
	raw := `{
		"resourceType": "Condition",
		"id": "cond-1",
		"clinicalStatus": {"text": "Active (Qualifier value)"},
		"code": {
			"text": "Asthma",
			"coding": [
				{"system": "http://hl7.org/fhir/sid/icd-10-cm", "code": "J45.909", "display": "Unspecified asthma"},
				{"system": "http://snomed.info/sct", "code": "195967001"}
			]
		},
		"onsetPeriod": {"start": "2020-01-01", "end": "2020-06-01"},
		"extension": [
			{
				"url": "http://hl7.org/fhir/StructureDefinition/artifact-relatedArtifact",
				"valueRelatedArtifact": {"type": "derived-from", "display": "Condition/src-1"}
			}
		]
	}`

	var c Condition
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.ID != "cond-1" {
		t.Errorf("ID = %q, want cond-1", c.ID)
	}
	if c.ClinicalStatus == nil || c.ClinicalStatus.Text != "Active (Qualifier value)" {
		t.Errorf("ClinicalStatus = %+v, want text Active (Qualifier value)", c.ClinicalStatus)
	}
	if len(c.Code.Coding) != 2 {
		t.Fatalf("len(Code.Coding) = %d, want 2", len(c.Code.Coding))
	}
	if c.Code.Coding[0].Code != "J45.909" {
		t.Errorf("first coding = %q, want J45.909", c.Code.Coding[0].Code)
	}
	if c.OnsetPeriod.Start != "2020-01-01" || c.OnsetPeriod.End != "2020-06-01" {
		t.Errorf("OnsetPeriod = %+v", c.OnsetPeriod)
	}
	if len(c.Extension) != 1 || c.Extension[0].ValueRelatedArtifact.Display != "Condition/src-1" {
		t.Errorf("Extension = %+v", c.Extension)
	}
}

func TestLoadConditions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conditions.json")
	content := `[
		{"resourceType": "Condition", "id": "a"},
		{"resourceType": "Condition", "id": "b"}
	]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	conditions, err := LoadConditions(path)
	if err != nil {
		t.Fatalf("LoadConditions() error: %v", err)
	}
	if len(conditions) != 2 {
		t.Fatalf("len = %d, want 2", len(conditions))
	}
	if conditions[1].ID != "b" {
		t.Errorf("second id = %q, want b", conditions[1].ID)
	}

	if _, err := LoadConditions(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadConditions() = nil for missing file, want error")
	}
}
