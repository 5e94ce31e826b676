// Package fhir holds the wire types for the validated Condition resources
// this service ingests. Onset dates stay as raw strings here; lenient
// parsing is an ingestion concern, not a decoding concern.
package fhir

import (
	"encoding/json"
	"fmt"
	"os"
)

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

type RelatedArtifact struct {
	Type    string `json:"type,omitempty"`
	Display string `json:"display,omitempty"`
}

type Extension struct {
	URL                  string           `json:"url"`
	ValueRelatedArtifact *RelatedArtifact `json:"valueRelatedArtifact,omitempty"`
}

// Condition is the validated input resource handed to the ingestion
// pipeline (FHIR Condition).
type Condition struct {
	ResourceType   string            `json:"resourceType"`
	ID             string            `json:"id"`
	Identifier     []Identifier      `json:"identifier,omitempty"`
	ClinicalStatus *CodeableConcept  `json:"clinicalStatus,omitempty"`
	Code           *CodeableConcept  `json:"code,omitempty"`
	OnsetPeriod    *Period           `json:"onsetPeriod,omitempty"`
	Category       []CodeableConcept `json:"category,omitempty"`
	Subject        *Reference        `json:"subject,omitempty"`
	Recorder       *Reference        `json:"recorder,omitempty"`
	Extension      []Extension       `json:"extension,omitempty"`
}

// Validate enforces the mandatory identity of the resource. Everything else
// on a Condition is optional.
func (c *Condition) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("condition is missing id")
	}
	if c.ResourceType != "" && c.ResourceType != "Condition" {
		return fmt.Errorf("unexpected resourceType %q", c.ResourceType)
	}
	return nil
}

// LoadConditions decodes a JSON array of Condition resources from a file.
func LoadConditions(path string) ([]*Condition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conditions file: %w", err)
	}
	var conditions []*Condition
	if err := json.Unmarshal(data, &conditions); err != nil {
		return nil, fmt.Errorf("decode conditions file: %w", err)
	}
	return conditions, nil
}
