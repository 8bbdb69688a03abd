package domain

import "time"

// Demographics summarizes the subject identity fields used by synthesis.
type Demographics struct {
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	BirthDate time.Time `json:"birth_date,omitempty"`
}

// Condition is an active problem-list entry.
type Condition struct {
	Code        string    `json:"code,omitempty"`
	Display     string    `json:"display"`
	ClinicalSts string    `json:"clinical_status,omitempty"`
	RecordedAt  time.Time `json:"recorded_at,omitempty"`
}

// Observation is a recent measurement or lab result.
type Observation struct {
	Code        string    `json:"code,omitempty"`
	Display     string    `json:"display"`
	Value       string    `json:"value,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	EffectiveAt time.Time `json:"effective_at,omitempty"`
}

// Medication is an active medication order.
type Medication struct {
	Code    string `json:"code,omitempty"`
	Display string `json:"display"`
	Dosage  string `json:"dosage,omitempty"`
}

// ClinicalSnapshot is the ephemeral aggregate fetched fresh per job. It is
// never cached, persisted, or chained.
type ClinicalSnapshot struct {
	SubjectID    string       `json:"subject_id"`
	Demographics Demographics `json:"demographics"`
	Conditions   []Condition  `json:"conditions"`
	Observations []Observation `json:"observations"`
	Medications  []Medication `json:"medications"`
}

// Perspective is one independent analytical angle generated per request and
// discarded after use.
type Perspective struct {
	Label       string `json:"label"`
	Instruction string `json:"instruction"`
}

// PerspectiveFinding is the free-text analysis produced for one perspective.
type PerspectiveFinding struct {
	Perspective Perspective `json:"perspective"`
	Analysis    string      `json:"analysis"`
}
