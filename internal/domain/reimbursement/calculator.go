package reimbursement

import "github.com/shopspring/decimal"

const (
	// MoneyScale is the number of fractional digits kept on computed amounts.
	MoneyScale int32 = 2
	// RatioScale is the scale of amount/total before it is turned into a percentage.
	RatioScale int32 = 4
)

var hundred = decimal.NewFromInt(100)

// Input is what the calculator needs from an order and its policy.
type Input struct {
	TotalAmount        decimal.Decimal
	Deductible         decimal.Decimal
	ReimbursementRatio decimal.Decimal

	// Category sub-amounts come from expense-detail processing. They are
	// passed through untouched and default to zero.
	CategoryAAmount decimal.NullDecimal
	CategoryBAmount decimal.NullDecimal
	CategoryCAmount decimal.NullDecimal
}

// Computation is the reimbursement split for one order.
type Computation struct {
	Deductible          decimal.Decimal `json:"deductible"`
	ReimbursementRatio  decimal.Decimal `json:"reimbursement_ratio"`
	ReimbursableBase    decimal.Decimal `json:"reimbursable_base"`
	ReimbursableAmount  decimal.Decimal `json:"reimbursable_amount"`
	ActualReimbursement decimal.Decimal `json:"actual_reimbursement"`
	SelfPayAmount       decimal.Decimal `json:"self_pay_amount"`
	CategoryAAmount     decimal.Decimal `json:"category_a_amount"`
	CategoryBAmount     decimal.Decimal `json:"category_b_amount"`
	CategoryCAmount     decimal.Decimal `json:"category_c_amount"`
}

// Calculate applies the deductible and the reimbursement ratio:
//
//	base         = max(0, total - deductible)
//	reimbursable = base * ratio
//	actual       = reimbursable
//	self pay     = total - actual
//
// Only the deductible subtraction is clamped. Negative inputs are the
// caller's problem. The policy maximum is deliberately not applied here.
func Calculate(in Input) Computation {
	base := in.TotalAmount.Sub(in.Deductible)
	if base.IsNegative() {
		base = decimal.Zero
	}

	// Round is half away from zero, i.e. half-up for non-negative amounts.
	reimbursable := base.Mul(in.ReimbursementRatio).Round(MoneyScale)
	actual := reimbursable

	return Computation{
		Deductible:          in.Deductible,
		ReimbursementRatio:  in.ReimbursementRatio,
		ReimbursableBase:    base,
		ReimbursableAmount:  reimbursable,
		ActualReimbursement: actual,
		SelfPayAmount:       in.TotalAmount.Sub(actual),
		CategoryAAmount:     orZero(in.CategoryAAmount),
		CategoryBAmount:     orZero(in.CategoryBAmount),
		CategoryCAmount:     orZero(in.CategoryCAmount),
	}
}

// CalculateWithPolicy is Calculate with the deductible and ratio taken from p.
func CalculateWithPolicy(total decimal.Decimal, p *Policy, a, b, c decimal.NullDecimal) Computation {
	return Calculate(Input{
		TotalAmount:        total,
		Deductible:         p.Deductible,
		ReimbursementRatio: p.ReimbursementRatio,
		CategoryAAmount:    a,
		CategoryBAmount:    b,
		CategoryCAmount:    c,
	})
}

// Percentage returns amount/total as a percentage, computed at RatioScale
// with half-up rounding. A zero or absent total, or an absent amount, yields 0.
func Percentage(amount, total decimal.NullDecimal) decimal.Decimal {
	if !total.Valid || !amount.Valid || !total.Decimal.IsPositive() {
		return decimal.Zero
	}
	return amount.Decimal.DivRound(total.Decimal, RatioScale).Mul(hundred)
}

// ExceedsCap reports whether actual is above the policy's maximum
// reimbursement. It is advisory only: no cap is applied to any amount.
func ExceedsCap(actual decimal.Decimal, p *Policy) bool {
	if p == nil || !p.MaxReimbursement.Valid {
		return false
	}
	return actual.GreaterThan(p.MaxReimbursement.Decimal)
}

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
