package order

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medclaims/claims/internal/domain/reimbursement"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingApproval Status = "pending_approval"
	StatusSettled         Status = "settled"
	StatusPaid            Status = "paid"
	StatusRejected        Status = "rejected"
	StatusCancelled       Status = "cancelled"
)

// legacy numeric codes and display labels, still accepted on input
var statusCodes = map[Status]int{
	StatusCancelled:       0,
	StatusPending:         1,
	StatusSettled:         2,
	StatusPaid:            3,
	StatusPendingApproval: 4,
	StatusRejected:        5,
}

var statusLabels = map[Status]string{
	StatusCancelled:       "已取消",
	StatusPending:         "待结算",
	StatusSettled:         "已结算",
	StatusPaid:            "已支付",
	StatusPendingApproval: "待审核",
	StatusRejected:        "已拒绝",
}

func (s Status) Valid() bool {
	_, ok := statusCodes[s]
	return ok
}

// Code returns the legacy numeric code, or -1 for an unknown status.
func (s Status) Code() int {
	if c, ok := statusCodes[s]; ok {
		return c
	}
	return -1
}

func (s Status) Label() string { return statusLabels[s] }

// ParseStatus accepts a canonical name (any case, "-" or "_"), a legacy
// numeric code or a legacy display label.
func ParseStatus(v string) (Status, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("status is required")
	}

	norm := Status(strings.ReplaceAll(strings.ToLower(v), "-", "_"))
	if norm.Valid() {
		return norm, nil
	}
	if norm == "pendingapproval" {
		return StatusPendingApproval, nil
	}
	if code, err := strconv.Atoi(v); err == nil {
		for st, c := range statusCodes {
			if c == code {
				return st, nil
			}
		}
	}
	for st, label := range statusLabels {
		if label == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status: %s", v)
}

type OrderType string

const (
	OrderTypeOutpatient OrderType = "outpatient"
	OrderTypeInpatient  OrderType = "inpatient"
	OrderTypeEmergency  OrderType = "emergency"
)

var validOrderTypes = map[OrderType]bool{
	OrderTypeOutpatient: true, OrderTypeInpatient: true, OrderTypeEmergency: true,
}

// Operation names a workflow transition.
type Operation string

const (
	OpSubmit   Operation = "submit"
	OpApprove  Operation = "approve"
	OpReject   Operation = "reject"
	OpComplete Operation = "complete"
	OpCancel   Operation = "cancel"
)

type transition struct {
	from []Status
	to   Status
}

var transitions = map[Operation]transition{
	OpSubmit:   {from: []Status{StatusPending, StatusPendingApproval}, to: StatusPendingApproval},
	OpApprove:  {from: []Status{StatusPendingApproval}, to: StatusSettled},
	OpReject:   {from: []Status{StatusPendingApproval}, to: StatusRejected},
	OpComplete: {from: []Status{StatusSettled}, to: StatusPaid},
	OpCancel:   {from: []Status{StatusPending, StatusPendingApproval}, to: StatusCancelled},
}

// Allowed reports whether op may run on an order in status from.
func (op Operation) Allowed(from Status) bool {
	t, ok := transitions[op]
	if !ok {
		return false
	}
	for _, s := range t.from {
		if s == from {
			return true
		}
	}
	return false
}

func (op Operation) Target() Status { return transitions[op].to }

// Order maps to the medical_order table.
type Order struct {
	ID             int64      `db:"id" json:"id"`
	OrderNo        string     `db:"order_no" json:"order_no"`
	OrderType      OrderType  `db:"order_type" json:"order_type"`
	PatientID      *int64     `db:"patient_id" json:"patient_id,omitempty"`
	PatientName    string     `db:"patient_name" json:"patient_name"`
	DepartmentName string     `db:"department_name" json:"department_name"`
	DoctorName     string     `db:"doctor_name" json:"doctor_name"`
	Diagnosis      string     `db:"diagnosis" json:"diagnosis"`
	HospitalName   string     `db:"hospital_name" json:"hospital_name,omitempty"`
	InsuranceType  string     `db:"insurance_type" json:"insurance_type,omitempty"`
	HospitalLevel  string     `db:"hospital_level" json:"hospital_level,omitempty"`
	VisitTime      *time.Time `db:"visit_time" json:"visit_time,omitempty"`

	TotalAmount     decimal.Decimal     `db:"total_amount" json:"total_amount"`
	DrugAmount      decimal.Decimal     `db:"drug_amount" json:"drug_amount"`
	TreatmentAmount decimal.Decimal     `db:"treatment_amount" json:"treatment_amount"`
	ServiceAmount   decimal.Decimal     `db:"service_amount" json:"service_amount"`
	OtherAmount     decimal.Decimal     `db:"other_amount" json:"other_amount"`
	CategoryAAmount decimal.NullDecimal `db:"category_a_amount" json:"category_a_amount"`
	CategoryBAmount decimal.NullDecimal `db:"category_b_amount" json:"category_b_amount"`
	CategoryCAmount decimal.NullDecimal `db:"category_c_amount" json:"category_c_amount"`

	Deductible          decimal.NullDecimal `db:"deductible" json:"deductible"`
	ReimbursementRatio  decimal.NullDecimal `db:"reimbursement_ratio" json:"reimbursement_ratio"`
	ReimbursableAmount  decimal.NullDecimal `db:"reimbursable_amount" json:"reimbursable_amount"`
	ActualReimbursement decimal.NullDecimal `db:"actual_reimbursement" json:"actual_reimbursement"`
	SelfPayAmount       decimal.NullDecimal `db:"self_pay_amount" json:"self_pay_amount"`
	SettlementNo        *string             `db:"settlement_no" json:"settlement_no,omitempty"`
	SettlementTime      *time.Time          `db:"settlement_time" json:"settlement_time,omitempty"`
	ApprovalResult      string              `db:"approval_result" json:"approval_result,omitempty"`
	ApprovalRemark      string              `db:"approval_remark" json:"approval_remark,omitempty"`
	RejectReason        string              `db:"reject_reason" json:"reject_reason,omitempty"`
	Remark              string              `db:"remark" json:"remark,omitempty"`

	Status    Status    `db:"status" json:"status"`
	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Computed reports whether settlement amounts have been persisted for the order.
func (o *Order) Computed() bool {
	return o.ActualReimbursement.Valid && o.SelfPayAmount.Valid
}

func (o *Order) applyComputation(c reimbursement.Computation) {
	o.Deductible = decimal.NewNullDecimal(c.Deductible)
	o.ReimbursementRatio = decimal.NewNullDecimal(c.ReimbursementRatio)
	o.ReimbursableAmount = decimal.NewNullDecimal(c.ReimbursableAmount)
	o.ActualReimbursement = decimal.NewNullDecimal(c.ActualReimbursement)
	o.SelfPayAmount = decimal.NewNullDecimal(c.SelfPayAmount)
	o.CategoryAAmount = decimal.NewNullDecimal(c.CategoryAAmount)
	o.CategoryBAmount = decimal.NewNullDecimal(c.CategoryBAmount)
	o.CategoryCAmount = decimal.NewNullDecimal(c.CategoryCAmount)
}

func (o *Order) settlementNo() string {
	if o.SettlementNo == nil {
		return ""
	}
	return *o.SettlementNo
}

// SettlementResult is the read-only settlement view of an order. It is never persisted.
type SettlementResult struct {
	OrderID        int64     `json:"order_id"`
	OrderNo        string    `json:"order_no"`
	OrderType      OrderType `json:"order_type"`
	PatientName    string    `json:"patient_name"`
	DepartmentName string    `json:"department_name"`
	DoctorName     string    `json:"doctor_name"`
	Diagnosis      string    `json:"diagnosis"`
	InsuranceType  string    `json:"insurance_type,omitempty"`
	HospitalLevel  string    `json:"hospital_level,omitempty"`

	TotalAmount     decimal.Decimal `json:"total_amount"`
	DrugAmount      decimal.Decimal `json:"drug_amount"`
	TreatmentAmount decimal.Decimal `json:"treatment_amount"`
	ServiceAmount   decimal.Decimal `json:"service_amount"`
	OtherAmount     decimal.Decimal `json:"other_amount"`
	CategoryAAmount decimal.Decimal `json:"category_a_amount"`
	CategoryBAmount decimal.Decimal `json:"category_b_amount"`
	CategoryCAmount decimal.Decimal `json:"category_c_amount"`

	Deductible              decimal.Decimal `json:"deductible"`
	ReimbursementRatio      decimal.Decimal `json:"reimbursement_ratio"`
	ReimbursableAmount      decimal.Decimal `json:"reimbursable_amount"`
	ActualReimbursement     decimal.Decimal `json:"actual_reimbursement"`
	SelfPayAmount           decimal.Decimal `json:"self_pay_amount"`
	ReimbursementPercentage decimal.Decimal `json:"reimbursement_percentage"`
	SelfPayPercentage       decimal.Decimal `json:"self_pay_percentage"`

	OverDeductible       bool            `json:"over_deductible"`
	DeductiblePortion    decimal.Decimal `json:"deductible_portion"`
	OverDeductibleAmount decimal.Decimal `json:"over_deductible_amount"`

	// PolicyCapExceeded flags an actual reimbursement above the policy
	// maximum. Amounts are never capped.
	PolicyCode        string `json:"policy_code,omitempty"`
	PolicyCapExceeded bool   `json:"policy_cap_exceeded"`

	Status         Status     `json:"status"`
	SettlementNo   string     `json:"settlement_no,omitempty"`
	SettlementTime *time.Time `json:"settlement_time,omitempty"`
	ApprovalResult string     `json:"approval_result,omitempty"`
	ApprovalRemark string     `json:"approval_remark,omitempty"`
	Persisted      bool       `json:"persisted"`
}

func newSettlementResult(o *Order, c reimbursement.Computation, p *reimbursement.Policy, persisted bool) *SettlementResult {
	total := o.TotalAmount
	r := &SettlementResult{
		OrderID:        o.ID,
		OrderNo:        o.OrderNo,
		OrderType:      o.OrderType,
		PatientName:    o.PatientName,
		DepartmentName: o.DepartmentName,
		DoctorName:     o.DoctorName,
		Diagnosis:      o.Diagnosis,
		InsuranceType:  o.InsuranceType,
		HospitalLevel:  o.HospitalLevel,

		TotalAmount:     total,
		DrugAmount:      o.DrugAmount,
		TreatmentAmount: o.TreatmentAmount,
		ServiceAmount:   o.ServiceAmount,
		OtherAmount:     o.OtherAmount,
		CategoryAAmount: c.CategoryAAmount,
		CategoryBAmount: c.CategoryBAmount,
		CategoryCAmount: c.CategoryCAmount,

		Deductible:          c.Deductible,
		ReimbursementRatio:  c.ReimbursementRatio,
		ReimbursableAmount:  c.ReimbursableAmount,
		ActualReimbursement: c.ActualReimbursement,
		SelfPayAmount:       c.SelfPayAmount,

		Status:         o.Status,
		SettlementNo:   o.settlementNo(),
		SettlementTime: o.SettlementTime,
		ApprovalResult: o.ApprovalResult,
		ApprovalRemark: o.ApprovalRemark,
		Persisted:      persisted,
	}

	nt := decimal.NewNullDecimal(total)
	r.ReimbursementPercentage = reimbursement.Percentage(decimal.NewNullDecimal(c.ActualReimbursement), nt)
	r.SelfPayPercentage = reimbursement.Percentage(decimal.NewNullDecimal(c.SelfPayAmount), nt)

	r.OverDeductible = total.GreaterThan(c.Deductible)
	r.DeductiblePortion = decimal.Min(total, c.Deductible)
	r.OverDeductibleAmount = decimal.Max(decimal.Zero, total.Sub(c.Deductible))

	if p != nil {
		r.PolicyCode = p.LevelCode
		r.PolicyCapExceeded = reimbursement.ExceedsCap(c.ActualReimbursement, p)
	}
	return r
}

// StatusTotals aggregates orders sharing one status.
type StatusTotals struct {
	Status             Status          `json:"status"`
	Count              int             `json:"count"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalReimbursement decimal.Decimal `json:"total_reimbursement"`
	TotalSelfPay       decimal.Decimal `json:"total_self_pay"`
}

type Statistics struct {
	From               *time.Time      `json:"from,omitempty"`
	To                 *time.Time      `json:"to,omitempty"`
	OrderCount         int             `json:"order_count"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalReimbursement decimal.Decimal `json:"total_reimbursement"`
	TotalSelfPay       decimal.Decimal `json:"total_self_pay"`
	ByStatus           []StatusTotals  `json:"by_status"`
}
