package reimbursement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medclaims/claims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PolicyRepoPG reads reimbursement_level rows.
type PolicyRepoPG struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPolicyRepoPG(pool *pgxpool.Pool) *PolicyRepoPG {
	return &PolicyRepoPG{pool: pool, now: time.Now}
}

func (r *PolicyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const policyCols = `id, level_code, level_name, insurance_type, hospital_level,
	min_amount, max_amount, deductible, reimbursement_ratio, max_reimbursement,
	category_a_rate, category_b_rate, category_c_rate, treatment_rate, service_rate,
	status, effective_time, expire_time, created_at, updated_at`

func scanPolicy(row pgx.Row) (*Policy, error) {
	var p Policy
	err := row.Scan(&p.ID, &p.LevelCode, &p.LevelName, &p.InsuranceType, &p.HospitalLevel,
		&p.MinAmount, &p.MaxAmount, &p.Deductible, &p.ReimbursementRatio, &p.MaxReimbursement,
		&p.CategoryARate, &p.CategoryBRate, &p.CategoryCRate, &p.TreatmentRate, &p.ServiceRate,
		&p.Status, &p.EffectiveTime, &p.ExpireTime, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

// Match picks the enabled, currently effective level for the pair. An empty
// insurance_type or hospital_level column matches anything, and exact
// matches win over wildcards.
func (r *PolicyRepoPG) Match(ctx context.Context, insuranceType, hospitalLevel string) (*Policy, error) {
	p, err := scanPolicy(r.conn(ctx).QueryRow(ctx, `
		SELECT `+policyCols+` FROM reimbursement_level
		WHERE status = $1
		  AND (insurance_type = $2 OR insurance_type = '')
		  AND (hospital_level = $3 OR hospital_level = '')
		  AND (effective_time IS NULL OR effective_time <= $4)
		  AND (expire_time IS NULL OR expire_time > $4)
		ORDER BY (insurance_type = $2) DESC, (hospital_level = $3) DESC, updated_at DESC
		LIMIT 1`,
		PolicyEnabled, insuranceType, hospitalLevel, r.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPolicy
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
