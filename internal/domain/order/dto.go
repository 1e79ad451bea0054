package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	OrderType       OrderType           `json:"order_type" validate:"required,oneof=outpatient inpatient emergency"`
	PatientID       *int64              `json:"patient_id" validate:"omitempty,gt=0"`
	PatientName     string              `json:"patient_name" validate:"required,max=64"`
	DepartmentName  string              `json:"department_name" validate:"required,max=64"`
	DoctorName      string              `json:"doctor_name" validate:"required,max=64"`
	Diagnosis       string              `json:"diagnosis" validate:"required,max=500"`
	HospitalName    string              `json:"hospital_name" validate:"max=128"`
	InsuranceType   string              `json:"insurance_type" validate:"max=32"`
	HospitalLevel   string              `json:"hospital_level" validate:"max=32"`
	VisitTime       *time.Time          `json:"visit_time"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	DrugAmount      decimal.Decimal     `json:"drug_amount"`
	TreatmentAmount decimal.Decimal     `json:"treatment_amount"`
	ServiceAmount   decimal.Decimal     `json:"service_amount"`
	OtherAmount     decimal.Decimal     `json:"other_amount"`
	CategoryAAmount decimal.NullDecimal `json:"category_a_amount"`
	CategoryBAmount decimal.NullDecimal `json:"category_b_amount"`
	CategoryCAmount decimal.NullDecimal `json:"category_c_amount"`
	Remark          string              `json:"remark" validate:"max=500"`
}

func (r *CreateOrderRequest) toOrder() *Order {
	return &Order{
		OrderType:       r.OrderType,
		PatientID:       r.PatientID,
		PatientName:     r.PatientName,
		DepartmentName:  r.DepartmentName,
		DoctorName:      r.DoctorName,
		Diagnosis:       r.Diagnosis,
		HospitalName:    r.HospitalName,
		InsuranceType:   r.InsuranceType,
		HospitalLevel:   r.HospitalLevel,
		VisitTime:       r.VisitTime,
		TotalAmount:     r.TotalAmount,
		DrugAmount:      r.DrugAmount,
		TreatmentAmount: r.TreatmentAmount,
		ServiceAmount:   r.ServiceAmount,
		OtherAmount:     r.OtherAmount,
		CategoryAAmount: r.CategoryAAmount,
		CategoryBAmount: r.CategoryBAmount,
		CategoryCAmount: r.CategoryCAmount,
		Remark:          r.Remark,
	}
}

type ApproveRequest struct {
	ApprovalResult string `json:"approval_result" validate:"required,max=50"`
	ApprovalRemark string `json:"approval_remark" validate:"max=500"`
}

type ReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type BatchRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=500,dive,gt=0"`
}

type BatchApproveRequest struct {
	IDs            []int64 `json:"ids" validate:"required,min=1,max=500,dive,gt=0"`
	ApprovalResult string  `json:"approval_result" validate:"required,max=50"`
	ApprovalRemark string  `json:"approval_remark" validate:"max=500"`
}

type ReportRequest struct {
	Status     string `json:"status"`
	OrderType  string `json:"order_type" validate:"omitempty,oneof=outpatient inpatient emergency"`
	Department string `json:"department"`
	From       string `json:"from"`
	To         string `json:"to"`
}

type BatchCalculateResponse struct {
	Results []*SettlementResult `json:"results"`
	Missing int                 `json:"missing"`
}
