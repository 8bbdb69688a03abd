package domain

// Defaults substituted for permissible omissions in a synthesized summary.
const (
	DefaultConfidence = 0.8
	DefaultPriority   = "routine"
)

// PatientOverview restates the subject context the synthesis was grounded on.
type PatientOverview struct {
	Age               int      `json:"age"`
	Gender            string   `json:"gender"`
	ChronicConditions []string `json:"chronic_conditions"`
}

// Recommendations groups the synthesized guidance by care dimension.
type Recommendations struct {
	PatientEngagement            []string `json:"patient_engagement"`
	InterdisciplinaryCoordination []string `json:"interdisciplinary_coordination"`
	PreventiveHealthFocus        []string `json:"preventive_health_focus"`
	SpecialistReferrals          []string `json:"specialist_referrals"`
}

// SynthesizedSummary is the structured output of one GENESIS cycle.
type SynthesizedSummary struct {
	PatientOverview PatientOverview `json:"patient_overview"`
	CareApproach    string          `json:"care_approach"`
	Recommendations Recommendations `json:"recommendations"`
	RiskFactors     []string        `json:"risk_factors"`
	Confidence      float64         `json:"confidence"`
	Priority        string          `json:"priority"`
}

// Normalize substitutes documented defaults for permissible omissions and
// ensures slice fields are non-nil. Malformed fields are defaulted, never
// silently dropped without a fallback value.
func (s *SynthesizedSummary) Normalize() {
	if s.Confidence <= 0 || s.Confidence > 1 {
		s.Confidence = DefaultConfidence
	}
	if s.Priority == "" {
		s.Priority = DefaultPriority
	}
	if s.PatientOverview.ChronicConditions == nil {
		s.PatientOverview.ChronicConditions = []string{}
	}
	if s.RiskFactors == nil {
		s.RiskFactors = []string{}
	}
	r := &s.Recommendations
	if r.PatientEngagement == nil {
		r.PatientEngagement = []string{}
	}
	if r.InterdisciplinaryCoordination == nil {
		r.InterdisciplinaryCoordination = []string{}
	}
	if r.PreventiveHealthFocus == nil {
		r.PreventiveHealthFocus = []string{}
	}
	if r.SpecialistReferrals == nil {
		r.SpecialistReferrals = []string{}
	}
}

// Validate reports a structural error when required fields are absent or
// ill-typed beyond what Normalize may default.
func (s *SynthesizedSummary) Validate() error {
	if s.CareApproach == "" {
		return Structuralf("summary missing care_approach")
	}
	return nil
}
