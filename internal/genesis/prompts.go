package genesis

import (
	"encoding/json"
	"fmt"

	"carechain/pkg/domain"
)

const perspectiveSystemPrompt = `You are a clinical decision support planner.
Given a patient snapshot and up to two prior analysis summaries, produce
exactly four distinct analytical perspectives for reviewing this patient.
Respond with a JSON object of the form
{"perspectives":[{"label":"...","instruction":"..."}]} containing exactly
four entries. Labels are short titles; instructions tell an analyst what to
examine. Do not include any other keys.`

const analysisSystemPrompt = `You are a clinical analyst. Apply the given
perspective instruction to the patient snapshot and report your findings as
free text. Respond with a JSON object {"analysis":"..."} and no other keys.`

const synthesisSystemPrompt = `You are a clinical decision support
synthesizer. Combine the four perspective findings into one structured
recommendation summary. Respond with a JSON object matching exactly this
shape:
{"patient_overview":{"age":0,"gender":"","chronic_conditions":[]},
"care_approach":"",
"recommendations":{"patient_engagement":[],"interdisciplinary_coordination":[],
"preventive_health_focus":[],"specialist_referrals":[]},
"risk_factors":[],"confidence":0.0,"priority":""}
Priority is one of "routine", "urgent", or "emergent".`

func perspectiveUserPayload(recent []domain.ProvenanceRecord, snapshot domain.ClinicalSnapshot) (string, error) {
	payload := struct {
		Snapshot domain.ClinicalSnapshot   `json:"snapshot"`
		History  []domain.ProvenanceRecord `json:"prior_analyses,omitempty"`
	}{Snapshot: snapshot, History: recent}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode perspective payload: %w", err)
	}
	return string(data), nil
}

func analysisUserPayload(p domain.Perspective, snapshot domain.ClinicalSnapshot) (string, error) {
	payload := struct {
		Perspective domain.Perspective      `json:"perspective"`
		Snapshot    domain.ClinicalSnapshot `json:"snapshot"`
	}{Perspective: p, Snapshot: snapshot}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode analysis payload: %w", err)
	}
	return string(data), nil
}

func synthesisUserPayload(recent []domain.ProvenanceRecord, snapshot domain.ClinicalSnapshot, findings []domain.PerspectiveFinding) (string, error) {
	payload := struct {
		Snapshot domain.ClinicalSnapshot     `json:"snapshot"`
		History  []domain.ProvenanceRecord   `json:"prior_analyses,omitempty"`
		Findings []domain.PerspectiveFinding `json:"findings"`
	}{Snapshot: snapshot, History: recent, Findings: findings}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode synthesis payload: %w", err)
	}
	return string(data), nil
}
