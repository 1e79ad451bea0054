package reimbursement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Insurance types a policy can be matched on.
const (
	InsuranceUrbanEmployee = "urban_employee"
	InsuranceUrbanResident = "urban_resident"
	InsuranceNewRural      = "new_rural"
	InsuranceMedicalAid    = "medical_aid"
	InsuranceCommercial    = "commercial"
)

// Hospital tiers a policy can be matched on.
const (
	HospitalLevelOne    = "level_1"
	HospitalLevelTwo    = "level_2"
	HospitalLevelThree  = "level_3"
	HospitalSpecialized = "specialized"
	HospitalCommunity   = "community"
	HospitalClinic      = "clinic"
)

const (
	PolicyDisabled = 0
	PolicyEnabled  = 1
)

// Policy maps to the reimbursement_level table. It supplies the deductible and
// rates for one (insurance type, hospital level) combination. Every rate,
// the reimbursement ratio included, is a fraction in [0, 1].
type Policy struct {
	ID                 int64               `db:"id" json:"id"`
	LevelCode          string              `db:"level_code" json:"level_code"`
	LevelName          string              `db:"level_name" json:"level_name"`
	InsuranceType      string              `db:"insurance_type" json:"insurance_type"`
	HospitalLevel      string              `db:"hospital_level" json:"hospital_level"`
	MinAmount          decimal.NullDecimal `db:"min_amount" json:"min_amount"`
	MaxAmount          decimal.NullDecimal `db:"max_amount" json:"max_amount"`
	Deductible         decimal.Decimal     `db:"deductible" json:"deductible"`
	ReimbursementRatio decimal.Decimal     `db:"reimbursement_ratio" json:"reimbursement_ratio"`
	MaxReimbursement   decimal.NullDecimal `db:"max_reimbursement" json:"max_reimbursement"`
	CategoryARate      decimal.NullDecimal `db:"category_a_rate" json:"category_a_rate"`
	CategoryBRate      decimal.NullDecimal `db:"category_b_rate" json:"category_b_rate"`
	CategoryCRate      decimal.NullDecimal `db:"category_c_rate" json:"category_c_rate"`
	TreatmentRate      decimal.NullDecimal `db:"treatment_rate" json:"treatment_rate"`
	ServiceRate        decimal.NullDecimal `db:"service_rate" json:"service_rate"`
	Status             int                 `db:"status" json:"status"`
	EffectiveTime      *time.Time          `db:"effective_time" json:"effective_time,omitempty"`
	ExpireTime         *time.Time          `db:"expire_time" json:"expire_time,omitempty"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

// EffectiveAt reports whether the policy is enabled and inside its validity window.
func (p *Policy) EffectiveAt(t time.Time) bool {
	if p.Status != PolicyEnabled {
		return false
	}
	if p.EffectiveTime != nil && t.Before(*p.EffectiveTime) {
		return false
	}
	if p.ExpireTime != nil && !t.Before(*p.ExpireTime) {
		return false
	}
	return true
}

// DefaultPolicy returns the catch-all policy used when no configured level matches.
func DefaultPolicy(deductible, ratio decimal.Decimal) *Policy {
	return &Policy{
		LevelCode:          "DEFAULT",
		LevelName:          "Default",
		Deductible:         deductible,
		ReimbursementRatio: ratio,
		MaxReimbursement:   decimal.NewNullDecimal(decimal.NewFromInt(50000)),
		CategoryARate:      decimal.NewNullDecimal(decimal.NewFromInt(1)),
		CategoryBRate:      decimal.NewNullDecimal(decimal.RequireFromString("0.8")),
		CategoryCRate:      decimal.NewNullDecimal(decimal.Zero),
		TreatmentRate:      decimal.NewNullDecimal(decimal.RequireFromString("0.9")),
		ServiceRate:        decimal.NewNullDecimal(decimal.RequireFromString("0.85")),
		Status:             PolicyEnabled,
	}
}
