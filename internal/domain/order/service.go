package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medclaims/claims/internal/domain/reimbursement"
	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/blobstore"
	"github.com/medclaims/claims/internal/platform/events"
	"github.com/medclaims/claims/internal/platform/middleware"
)

const defaultBatchWorkers = 4

// Service runs the settlement workflow. Every mutation is a locked
// read-check-write against the Repository, guarded by the transition table.
type Service struct {
	orders        Repository
	policies      reimbursement.PolicyLookup
	logger        zerolog.Logger
	locker        Locker
	publisher     events.Publisher
	reports       blobstore.Store
	orderNos      *NumberGenerator
	settlementNos *NumberGenerator
	batchWorkers  int
	now           func() time.Time
}

func NewService(orders Repository, policies reimbursement.PolicyLookup, logger zerolog.Logger) *Service {
	return &Service{
		orders:        orders,
		policies:      policies,
		logger:        logger,
		locker:        NewKeyedMutex(),
		publisher:     events.NopPublisher{},
		orderNos:      NewNumberGenerator(OrderNoPrefix),
		settlementNos: NewNumberGenerator(SettlementNoPrefix),
		batchWorkers:  defaultBatchWorkers,
		now:           time.Now,
	}
}

// SetLocker replaces the in-process lock, e.g. with a Redis lock shared by
// several instances.
func (s *Service) SetLocker(l Locker) {
	if l != nil {
		s.locker = l
	}
}

func (s *Service) SetPublisher(p events.Publisher) {
	if p != nil {
		s.publisher = p
	}
}

func (s *Service) SetBatchWorkers(n int) {
	if n > 0 {
		s.batchWorkers = n
	}
}

// SetClock overrides the time source for settlement stamps and generated numbers.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.orderNos.now = now
	s.settlementNos.now = now
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

// -- Orders --

func (s *Service) CreateOrder(ctx context.Context, o *Order) error {
	o.PatientName = strings.TrimSpace(o.PatientName)
	o.DepartmentName = strings.TrimSpace(o.DepartmentName)
	o.DoctorName = strings.TrimSpace(o.DoctorName)
	o.Diagnosis = strings.TrimSpace(o.Diagnosis)

	switch {
	case o.PatientName == "":
		return required("patient_name")
	case o.OrderType == "":
		return required("order_type")
	case !validOrderTypes[o.OrderType]:
		return &ValidationError{Field: "order_type", Message: "must be one of outpatient, inpatient, emergency"}
	case o.DepartmentName == "":
		return required("department_name")
	case o.DoctorName == "":
		return required("doctor_name")
	case o.Diagnosis == "":
		return required("diagnosis")
	}
	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"total_amount", o.TotalAmount},
		{"drug_amount", o.DrugAmount},
		{"treatment_amount", o.TreatmentAmount},
		{"service_amount", o.ServiceAmount},
		{"other_amount", o.OtherAmount},
		{"category_a_amount", o.CategoryAAmount.Decimal},
		{"category_b_amount", o.CategoryBAmount.Decimal},
		{"category_c_amount", o.CategoryCAmount.Decimal},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return &ValidationError{Field: a.field, Message: "must not be negative"}
		}
	}

	if o.TotalAmount.IsZero() {
		o.TotalAmount = o.DrugAmount.Add(o.TreatmentAmount).Add(o.ServiceAmount).Add(o.OtherAmount)
	}

	no, err := s.orderNos.Next(ctx, s.orders.OrderNoExists)
	if err != nil {
		return fmt.Errorf("generate order number: %w", err)
	}
	o.OrderNo = no
	o.Status = StatusPending
	o.Version = 1
	o.Deductible = decimal.NullDecimal{}
	o.ReimbursementRatio = decimal.NullDecimal{}
	o.ReimbursableAmount = decimal.NullDecimal{}
	o.ActualReimbursement = decimal.NullDecimal{}
	o.SelfPayAmount = decimal.NullDecimal{}
	o.SettlementNo = nil
	o.SettlementTime = nil
	o.ApprovalResult, o.ApprovalRemark, o.RejectReason = "", "", ""

	if err := s.orders.Create(ctx, o); err != nil {
		s.log(ctx).Error().Err(err).Str("order_no", o.OrderNo).Msg("create order failed")
		return &PersistenceError{Err: err}
	}
	s.log(ctx).Info().Int64("order_id", o.ID).Str("order_no", o.OrderNo).Msg("order created")
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, &ValidationError{Field: "status", Message: "unknown status " + string(f.Status)}
	}
	return s.orders.List(ctx, f, limit, offset)
}

// GenerateOrderNo returns an unused order number without reserving it.
func (s *Service) GenerateOrderNo(ctx context.Context) (string, error) {
	return s.orderNos.Next(ctx, s.orders.OrderNoExists)
}

// GenerateSettlementNo returns an unused settlement number without reserving it.
func (s *Service) GenerateSettlementNo(ctx context.Context) (string, error) {
	return s.settlementNos.Next(ctx, s.orders.SettlementNoExists)
}

// -- Settlement --

// compute resolves the policy for o and runs the calculator.
func (s *Service) compute(ctx context.Context, o *Order) (reimbursement.Computation, *reimbursement.Policy, error) {
	p, err := s.policies.Match(ctx, o.InsuranceType, o.HospitalLevel)
	if err != nil {
		return reimbursement.Computation{}, nil, fmt.Errorf("resolve reimbursement policy: %w", err)
	}
	c := reimbursement.CalculateWithPolicy(o.TotalAmount, p, o.CategoryAAmount, o.CategoryBAmount, o.CategoryCAmount)
	if reimbursement.ExceedsCap(c.ActualReimbursement, p) {
		s.log(ctx).Warn().
			Int64("order_id", o.ID).
			Str("policy", p.LevelCode).
			Str("actual_reimbursement", c.ActualReimbursement.StringFixed(reimbursement.MoneyScale)).
			Msg("reimbursement exceeds policy maximum")
	}
	return c, p, nil
}

// CalculateSettlement is read-only. Orders that were already submitted are
// projected from their stored amounts, others are computed on the fly.
func (s *Service) CalculateSettlement(ctx context.Context, id int64) (*SettlementResult, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log(ctx).Debug().Int64("order_id", id).Msg("order not found")
		}
		return nil, err
	}
	return s.settlementView(ctx, o)
}

func (s *Service) settlementView(ctx context.Context, o *Order) (*SettlementResult, error) {
	if o.Computed() {
		c := reimbursement.Computation{
			Deductible:          o.Deductible.Decimal,
			ReimbursementRatio:  o.ReimbursementRatio.Decimal,
			ReimbursableAmount:  o.ReimbursableAmount.Decimal,
			ActualReimbursement: o.ActualReimbursement.Decimal,
			SelfPayAmount:       o.SelfPayAmount.Decimal,
			CategoryAAmount:     o.CategoryAAmount.Decimal,
			CategoryBAmount:     o.CategoryBAmount.Decimal,
			CategoryCAmount:     o.CategoryCAmount.Decimal,
		}
		c.ReimbursableBase = decimal.Max(decimal.Zero, o.TotalAmount.Sub(c.Deductible))
		// amounts stay as stored; the policy only feeds the code and cap flag
		p, err := s.policies.Match(ctx, o.InsuranceType, o.HospitalLevel)
		if err != nil {
			return nil, fmt.Errorf("resolve reimbursement policy: %w", err)
		}
		return newSettlementResult(o, c, p, true), nil
	}
	c, p, err := s.compute(ctx, o)
	if err != nil {
		return nil, err
	}
	return newSettlementResult(o, c, p, false), nil
}

func (s *Service) SubmitSettlement(ctx context.Context, id int64) (*Order, error) {
	return s.transition(ctx, id, OpSubmit, func(ctx context.Context, o *Order) error {
		c, _, err := s.compute(ctx, o)
		if err != nil {
			return err
		}
		no, err := s.settlementNos.Next(ctx, s.orders.SettlementNoExists)
		if err != nil {
			return fmt.Errorf("generate settlement number: %w", err)
		}
		now := s.now()
		o.applyComputation(c)
		o.SettlementNo = &no
		o.SettlementTime = &now
		return nil
	})
}

func (s *Service) ApproveSettlement(ctx context.Context, id int64, result, remark string) (*Order, error) {
	if strings.TrimSpace(result) == "" {
		return nil, required("approval_result")
	}
	return s.transition(ctx, id, OpApprove, func(_ context.Context, o *Order) error {
		o.ApprovalResult = result
		o.ApprovalRemark = remark
		return nil
	})
}

func (s *Service) RejectSettlement(ctx context.Context, id int64, reason string) (*Order, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, required("reason")
	}
	return s.transition(ctx, id, OpReject, func(_ context.Context, o *Order) error {
		o.RejectReason = reason
		return nil
	})
}

func (s *Service) CompleteSettlement(ctx context.Context, id int64) (*Order, error) {
	return s.transition(ctx, id, OpComplete, func(context.Context, *Order) error { return nil })
}

func (s *Service) CancelOrder(ctx context.Context, id int64, reason string) (*Order, error) {
	return s.transition(ctx, id, OpCancel, func(_ context.Context, o *Order) error {
		o.Remark = "cancel reason: " + reason
		return nil
	})
}

// transition holds the per-order lock for the whole read-check-write, so a
// second caller on the same id sees the first caller's result. The
// conditional update still catches writers that bypass the lock.
func (s *Service) transition(ctx context.Context, id int64, op Operation, mutate func(context.Context, *Order) error) (*Order, error) {
	log := s.log(ctx).With().Int64("order_id", id).Str("transition", string(op)).Logger()

	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock order %d: %w", id, err)
	}
	defer unlock()

	cur, err := s.orders.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		log.Debug().Msg("order not found")
		return nil, err
	}
	if err != nil {
		log.Error().Err(err).Msg("load order failed")
		return nil, &PersistenceError{OrderID: id, Transition: op, Err: err}
	}

	if !op.Allowed(cur.Status) {
		log.Debug().Str("status", string(cur.Status)).Msg("transition not allowed")
		return nil, &StateConflictError{OrderID: id, Operation: op, Current: cur.Status}
	}

	next := *cur
	if err := mutate(ctx, &next); err != nil {
		log.Error().Err(err).Msg("prepare transition failed")
		return nil, &PersistenceError{OrderID: id, Transition: op, Err: err}
	}
	next.Status = op.Target()

	if err := s.orders.Update(ctx, &next, cur.Status, cur.Version); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			log.Warn().Int("version", cur.Version).Msg("order changed underneath transition")
			return nil, err
		}
		log.Error().Err(err).Msg("persist transition failed")
		return nil, &PersistenceError{OrderID: id, Transition: op, Err: err}
	}

	log.Info().
		Str("from", string(cur.Status)).
		Str("to", string(next.Status)).
		Str("settlement_no", next.settlementNo()).
		Msg("order transitioned")

	s.publish(ctx, op, cur, &next)
	return &next, nil
}

func (s *Service) publish(ctx context.Context, op Operation, before, after *Order) {
	e := events.TransitionEvent{
		ID:         uuid.NewString(),
		OrderID:    after.ID,
		OrderNo:    after.OrderNo,
		Operation:  string(op),
		From:       string(before.Status),
		To:         string(after.Status),
		Version:    after.Version,
		Actor:      auth.UserIDFromContext(ctx),
		RequestID:  middleware.RequestIDFromContext(ctx),
		OccurredAt: s.now().UTC(),
	}
	e.SettlementNo = after.settlementNo()
	if op == OpSubmit && before.settlementNo() != after.settlementNo() {
		e.PreviousSettlementNo = before.settlementNo()
	}
	if after.ActualReimbursement.Valid {
		e.ActualReimbursement = after.ActualReimbursement.Decimal.StringFixed(reimbursement.MoneyScale)
	}

	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log(ctx).Warn().Err(err).
			Int64("order_id", after.ID).
			Str("routing_key", e.RoutingKey()).
			Msg("publish transition event failed")
	}
}

// -- Statistics --

func (s *Service) SettlementStatistics(ctx context.Context, from, to *time.Time) (*Statistics, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, &ValidationError{Field: "to", Message: "must not be before from"}
	}
	rows, err := s.orders.Statistics(ctx, from, to)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}
	st := &Statistics{
		From:               from,
		To:                 to,
		TotalAmount:        decimal.Zero,
		TotalReimbursement: decimal.Zero,
		TotalSelfPay:       decimal.Zero,
		ByStatus:           rows,
	}
	for _, r := range rows {
		st.OrderCount += r.Count
		st.TotalAmount = st.TotalAmount.Add(r.TotalAmount)
		st.TotalReimbursement = st.TotalReimbursement.Add(r.TotalReimbursement)
		st.TotalSelfPay = st.TotalSelfPay.Add(r.TotalSelfPay)
	}
	if st.ByStatus == nil {
		st.ByStatus = []StatusTotals{}
	}
	return st, nil
}
