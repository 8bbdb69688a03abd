package clinical

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"carechain/internal/config"
	"carechain/pkg/domain"
)

// FHIRSource reads Patient, Condition, Observation, and MedicationRequest
// resources from a FHIR R4 server. Parsing is deliberately narrow: only the
// fields synthesis consumes are extracted, everything else is ignored.
type FHIRSource struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewFHIRSource constructs a source against cfg.BaseURL.
func NewFHIRSource(cfg config.Clinical, logger *slog.Logger) *FHIRSource {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FHIRSource{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Narrow FHIR resource projections. Only the consumed fields are declared.
type fhirCoding struct {
	Code    string `json:"code"`
	Display string `json:"display"`
}

type fhirCodeable struct {
	Coding []fhirCoding `json:"coding"`
	Text   string       `json:"text"`
}

func (c fhirCodeable) code() string {
	if len(c.Coding) > 0 {
		return c.Coding[0].Code
	}
	return ""
}

func (c fhirCodeable) display() string {
	if c.Text != "" {
		return c.Text
	}
	if len(c.Coding) > 0 {
		return c.Coding[0].Display
	}
	return ""
}

type fhirPatient struct {
	Gender    string `json:"gender"`
	BirthDate string `json:"birthDate"`
}

type fhirCondition struct {
	Code           fhirCodeable `json:"code"`
	ClinicalStatus fhirCodeable `json:"clinicalStatus"`
	RecordedDate   string       `json:"recordedDate"`
}

type fhirQuantity struct {
	Value json.Number `json:"value"`
	Unit  string      `json:"unit"`
}

type fhirObservation struct {
	Code              fhirCodeable `json:"code"`
	ValueQuantity     fhirQuantity `json:"valueQuantity"`
	ValueString       string       `json:"valueString"`
	EffectiveDateTime string       `json:"effectiveDateTime"`
}

type fhirDosage struct {
	Text string `json:"text"`
}

type fhirMedicationRequest struct {
	MedicationCodeableConcept fhirCodeable `json:"medicationCodeableConcept"`
	DosageInstruction         []fhirDosage `json:"dosageInstruction"`
}

type fhirBundle struct {
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// FetchSnapshot assembles the ephemeral aggregate for one subject.
func (s *FHIRSource) FetchSnapshot(ctx context.Context, subjectID string) (domain.ClinicalSnapshot, error) {
	snapshot := domain.ClinicalSnapshot{SubjectID: subjectID}

	var patient fhirPatient
	status, err := s.getJSON(ctx, fmt.Sprintf("Patient/%s", url.PathEscape(subjectID)), &patient)
	if err != nil {
		return domain.ClinicalSnapshot{}, err
	}
	if status == http.StatusNotFound {
		return domain.ClinicalSnapshot{}, domain.ErrNotFound{Entity: "patient", ID: subjectID}
	}
	snapshot.Demographics = demographicsFrom(patient)

	var conditions fhirBundle
	if _, err := s.getJSON(ctx, "Condition?clinical-status=active&patient="+url.QueryEscape(subjectID), &conditions); err != nil {
		return domain.ClinicalSnapshot{}, err
	}
	for _, entry := range conditions.Entry {
		var c fhirCondition
		if err := json.Unmarshal(entry.Resource, &c); err != nil {
			s.logger.Warn("skipping unparseable condition", "subject_id", subjectID, "error", err)
			continue
		}
		recorded, _ := time.Parse("2006-01-02", c.RecordedDate)
		snapshot.Conditions = append(snapshot.Conditions, domain.Condition{
			Code:        c.Code.code(),
			Display:     c.Code.display(),
			ClinicalSts: c.ClinicalStatus.code(),
			RecordedAt:  recorded,
		})
	}

	var observations fhirBundle
	if _, err := s.getJSON(ctx, "Observation?_sort=-date&_count=20&patient="+url.QueryEscape(subjectID), &observations); err != nil {
		return domain.ClinicalSnapshot{}, err
	}
	for _, entry := range observations.Entry {
		var o fhirObservation
		if err := json.Unmarshal(entry.Resource, &o); err != nil {
			s.logger.Warn("skipping unparseable observation", "subject_id", subjectID, "error", err)
			continue
		}
		value := o.ValueString
		if value == "" {
			value = o.ValueQuantity.Value.String()
		}
		effective, _ := time.Parse(time.RFC3339, o.EffectiveDateTime)
		snapshot.Observations = append(snapshot.Observations, domain.Observation{
			Code:        o.Code.code(),
			Display:     o.Code.display(),
			Value:       value,
			Unit:        o.ValueQuantity.Unit,
			EffectiveAt: effective,
		})
	}

	var medications fhirBundle
	if _, err := s.getJSON(ctx, "MedicationRequest?status=active&patient="+url.QueryEscape(subjectID), &medications); err != nil {
		return domain.ClinicalSnapshot{}, err
	}
	for _, entry := range medications.Entry {
		var m fhirMedicationRequest
		if err := json.Unmarshal(entry.Resource, &m); err != nil {
			s.logger.Warn("skipping unparseable medication request", "subject_id", subjectID, "error", err)
			continue
		}
		dosage := ""
		if len(m.DosageInstruction) > 0 {
			dosage = m.DosageInstruction[0].Text
		}
		snapshot.Medications = append(snapshot.Medications, domain.Medication{
			Code:    m.MedicationCodeableConcept.code(),
			Display: m.MedicationCodeableConcept.display(),
			Dosage:  dosage,
		})
	}

	return snapshot, nil
}

func demographicsFrom(p fhirPatient) domain.Demographics {
	d := domain.Demographics{Gender: p.Gender}
	if birth, err := time.Parse("2006-01-02", p.BirthDate); err == nil {
		d.BirthDate = birth
		d.Age = ageAt(birth, time.Now().UTC())
	}
	return d
}

func ageAt(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.YearDay() < birth.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// getJSON performs a GET against the FHIR base, decoding into out. A 404 is
// reported through the status return so callers can distinguish absence
// from transport failure.
func (s *FHIRSource) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/fhir+json")
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, domain.Transientf("fhir get %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, domain.Transientf("fhir get %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, domain.Structuralf("fhir decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}
