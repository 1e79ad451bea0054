package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medclaims/claims/internal/platform/db"
)

const pgUniqueViolation = "23505"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) Repository { return &orderRepoPG{pool: pool} }

func (r *orderRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const orderCols = `id, order_no, order_type, patient_id, patient_name, department_name, doctor_name,
	diagnosis, hospital_name, insurance_type, hospital_level, visit_time,
	total_amount, drug_amount, treatment_amount, service_amount, other_amount,
	category_a_amount, category_b_amount, category_c_amount,
	deductible, reimbursement_ratio, reimbursable_amount, actual_reimbursement, self_pay_amount,
	settlement_no, settlement_time, approval_result, approval_remark, reject_reason, remark,
	status, version, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNo, &o.OrderType, &o.PatientID, &o.PatientName, &o.DepartmentName, &o.DoctorName,
		&o.Diagnosis, &o.HospitalName, &o.InsuranceType, &o.HospitalLevel, &o.VisitTime,
		&o.TotalAmount, &o.DrugAmount, &o.TreatmentAmount, &o.ServiceAmount, &o.OtherAmount,
		&o.CategoryAAmount, &o.CategoryBAmount, &o.CategoryCAmount,
		&o.Deductible, &o.ReimbursementRatio, &o.ReimbursableAmount, &o.ActualReimbursement, &o.SelfPayAmount,
		&o.SettlementNo, &o.SettlementTime, &o.ApprovalResult, &o.ApprovalRemark, &o.RejectReason, &o.Remark,
		&o.Status, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateNumber, pgErr.ConstraintName)
	}
	return err
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_order (order_no, order_type, patient_id, patient_name, department_name, doctor_name,
			diagnosis, hospital_name, insurance_type, hospital_level, visit_time,
			total_amount, drug_amount, treatment_amount, service_amount, other_amount,
			category_a_amount, category_b_amount, category_c_amount, remark, status, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		RETURNING id, created_at, updated_at`,
		o.OrderNo, o.OrderType, o.PatientID, o.PatientName, o.DepartmentName, o.DoctorName,
		o.Diagnosis, o.HospitalName, o.InsuranceType, o.HospitalLevel, o.VisitTime,
		o.TotalAmount, o.DrugAmount, o.TreatmentAmount, o.ServiceAmount, o.OtherAmount,
		o.CategoryAAmount, o.CategoryBAmount, o.CategoryCAmount, o.Remark, o.Status, o.Version,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	return mapWriteErr(err)
}

func (r *orderRepoPG) GetByID(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM medical_order WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Update is a compare-and-set on (status, version). The WHERE clause is the
// only thing standing between two racing transitions on one order.
func (r *orderRepoPG) Update(ctx context.Context, o *Order, expectedStatus Status, expectedVersion int) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medical_order SET
			category_a_amount=$4, category_b_amount=$5, category_c_amount=$6,
			deductible=$7, reimbursement_ratio=$8, reimbursable_amount=$9,
			actual_reimbursement=$10, self_pay_amount=$11,
			settlement_no=$12, settlement_time=$13,
			approval_result=$14, approval_remark=$15, reject_reason=$16, remark=$17,
			status=$18, version=version+1, updated_at=NOW()
		WHERE id = $1 AND status = $2 AND version = $3
		RETURNING version, updated_at`,
		o.ID, expectedStatus, expectedVersion,
		o.CategoryAAmount, o.CategoryBAmount, o.CategoryCAmount,
		o.Deductible, o.ReimbursementRatio, o.ReimbursableAmount,
		o.ActualReimbursement, o.SelfPayAmount,
		o.SettlementNo, o.SettlementTime,
		o.ApprovalResult, o.ApprovalRemark, o.RejectReason, o.Remark,
		o.Status,
	).Scan(&o.Version, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConcurrentUpdate
	}
	return mapWriteErr(err)
}

// filterWhere builds the WHERE clause for f, numbering placeholders from 1.
func filterWhere(f ListFilter, col string) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.OrderType != "" {
		args = append(args, f.OrderType)
		conds = append(conds, fmt.Sprintf("order_type = $%d", len(args)))
	}
	if f.Department != "" {
		args = append(args, f.Department)
		conds = append(conds, fmt.Sprintf("department_name = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("%s >= $%d", col, len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("%s < $%d", col, len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *orderRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error) {
	where, args := filterWhere(f, "created_at")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_order`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM medical_order%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderCols, where, len(args)-1, len(args))
	items, err := r.collect(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListAll filters on settlement_time so exports cover what was settled in the window.
func (r *orderRepoPG) ListAll(ctx context.Context, f ListFilter) ([]*Order, error) {
	where, args := filterWhere(f, "settlement_time")
	return r.collect(ctx, `SELECT `+orderCols+` FROM medical_order`+where+` ORDER BY created_at, id`, args...)
}

func (r *orderRepoPG) collect(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *orderRepoPG) OrderNoExists(ctx context.Context, orderNo string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM medical_order WHERE order_no = $1)`, orderNo).Scan(&exists)
	return exists, err
}

func (r *orderRepoPG) SettlementNoExists(ctx context.Context, settlementNo string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM medical_order WHERE settlement_no = $1)`, settlementNo).Scan(&exists)
	return exists, err
}

func (r *orderRepoPG) Statistics(ctx context.Context, from, to *time.Time) ([]StatusTotals, error) {
	where, args := filterWhere(ListFilter{From: from, To: to}, "settlement_time")
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*),
			COALESCE(SUM(total_amount), 0),
			COALESCE(SUM(actual_reimbursement), 0),
			COALESCE(SUM(self_pay_amount), 0)
		FROM medical_order`+where+`
		GROUP BY status ORDER BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusTotals
	for rows.Next() {
		var st StatusTotals
		var total, reimb, self decimal.Decimal
		if err := rows.Scan(&st.Status, &st.Count, &total, &reimb, &self); err != nil {
			return nil, err
		}
		st.TotalAmount, st.TotalReimbursement, st.TotalSelfPay = total, reimb, self
		out = append(out, st)
	}
	return out, rows.Err()
}
