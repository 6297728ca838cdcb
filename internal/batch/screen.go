package batch

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/normalize"
)

// Plan is a screening plan file: the per-clinic roster of patients due for
// screening on a date, with the recommendations the workflow surfaced for
// each. It is the hand-off format between the screening workflow (external
// to this system) and the batch engine.
type Plan struct {
	ClinicID int64         `yaml:"clinic_id"`
	Patients []PlanPatient `yaml:"patients"`
}

// PlanPatient is one patient's screening output. PatientID is the dog id.
type PlanPatient struct {
	PatientID       int64                `yaml:"patient_id"`
	AppointmentID   int64                `yaml:"appointment_id"`
	Recommendations []PlanRecommendation `yaml:"recommendations"`
}

// PlanRecommendation is one surfaced recommendation.
type PlanRecommendation struct {
	Name            string   `yaml:"name"`
	Category        string   `yaml:"category"`
	Subcategory     *string  `yaml:"subcategory"`
	ServiceCode     *string  `yaml:"service_code"`
	EstimatedAmount *float64 `yaml:"estimated_amount"`
	Selected        bool     `yaml:"selected"`
	ComplianceState string   `yaml:"compliance_state"`
}

// LoadPlan reads and validates a screening plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if p.ClinicID == 0 {
		return nil, fmt.Errorf("plan %s: clinic_id is required", path)
	}
	seen := make(map[int64]bool, len(p.Patients))
	for _, pt := range p.Patients {
		if pt.PatientID == 0 {
			return nil, fmt.Errorf("plan %s: patient with zero patient_id", path)
		}
		if seen[pt.PatientID] {
			return nil, fmt.Errorf("plan %s: duplicate patient_id %d", path, pt.PatientID)
		}
		seen[pt.PatientID] = true
		if pt.AppointmentID == 0 && len(pt.Recommendations) > 0 {
			return nil, fmt.Errorf("plan %s: patient %d has recommendations but no appointment_id", path, pt.PatientID)
		}
	}
	return &p, nil
}

// PatientIDs returns the roster in file order.
func (p *Plan) PatientIDs() []int64 {
	ids := make([]int64, len(p.Patients))
	for i, pt := range p.Patients {
		ids[i] = pt.PatientID
	}
	return ids
}

// PlanScreener is a Screener backed by a loaded Plan. Patients absent from
// the plan get ErrNoEligibleWorkflow, so running a broader roster against a
// narrow plan records skips rather than failures.
type PlanScreener struct {
	plan     *Plan
	byID     map[int64]*PlanPatient
	clinicID int64
}

func NewPlanScreener(p *Plan) *PlanScreener {
	byID := make(map[int64]*PlanPatient, len(p.Patients))
	for i := range p.Patients {
		byID[p.Patients[i].PatientID] = &p.Patients[i]
	}
	return &PlanScreener{plan: p, byID: byID, clinicID: p.ClinicID}
}

// Screen materializes the plan's recommendations for one patient as
// intervention facts dated to the batch's clinic-local date.
func (s *PlanScreener) Screen(ctx context.Context, patientID int64, date time.Time) ([]model.InterventionFact, error) {
	pt, ok := s.byID[patientID]
	if !ok || len(pt.Recommendations) == 0 {
		return nil, ErrNoEligibleWorkflow
	}

	facts := make([]model.InterventionFact, 0, len(pt.Recommendations))
	for _, rec := range pt.Recommendations {
		state := model.ComplianceState(rec.ComplianceState)
		if state == "" {
			if rec.Selected {
				state = model.ComplianceSelected
			} else {
				state = model.ComplianceNotSelected
			}
		}
		facts = append(facts, model.InterventionFact{
			AppointmentID:   pt.AppointmentID,
			DogID:           pt.PatientID,
			VetID:           s.clinicID,
			Name:            rec.Name,
			Category:        rec.Category,
			Subcategory:     rec.Subcategory,
			ServiceCode:     rec.ServiceCode,
			EstimatedCents:  normalize.DollarsToCents(rec.EstimatedAmount),
			Selected:        rec.Selected,
			ComplianceState: state,
			AppointmentDate: date,
		})
	}
	return facts, nil
}

var _ Screener = (*PlanScreener)(nil)
