package reimbursement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNoPolicy is returned by a PolicyLookup when nothing matches.
var ErrNoPolicy = errors.New("no reimbursement policy matches")

// PolicyLookup resolves the policy for an order's insurance type and hospital level.
type PolicyLookup interface {
	Match(ctx context.Context, insuranceType, hospitalLevel string) (*Policy, error)
}

// FallbackLookup consults Primary and falls back to Default when Primary has
// no match. Any other Primary error is returned. A nil Primary always yields Default.
type FallbackLookup struct {
	Primary PolicyLookup
	Default *Policy
	Logger  zerolog.Logger
}

func NewFallbackLookup(primary PolicyLookup, deductible, ratio decimal.Decimal, logger zerolog.Logger) *FallbackLookup {
	return &FallbackLookup{
		Primary: primary,
		Default: DefaultPolicy(deductible, ratio),
		Logger:  logger,
	}
}

func (f *FallbackLookup) Match(ctx context.Context, insuranceType, hospitalLevel string) (*Policy, error) {
	if f.Primary == nil {
		return f.Default, nil
	}
	p, err := f.Primary.Match(ctx, insuranceType, hospitalLevel)
	switch {
	case err == nil && p != nil:
		return p, nil
	case err == nil, errors.Is(err, ErrNoPolicy):
		f.Logger.Debug().
			Str("insurance_type", insuranceType).
			Str("hospital_level", hospitalLevel).
			Msg("no reimbursement policy configured, using default")
		return f.Default, nil
	default:
		return nil, fmt.Errorf("match reimbursement policy %s/%s: %w", insuranceType, hospitalLevel, err)
	}
}

// StaticLookup is an in-memory PolicyLookup keyed by insurance type and
// hospital level. An empty key component acts as a wildcard.
type StaticLookup struct {
	Policies []*Policy
}

func (s *StaticLookup) Match(_ context.Context, insuranceType, hospitalLevel string) (*Policy, error) {
	now := time.Now()
	var best *Policy
	bestScore := -1
	for _, p := range s.Policies {
		if !p.EffectiveAt(now) {
			continue
		}
		score, ok := matchScore(p, insuranceType, hospitalLevel)
		if ok && score > bestScore {
			best, bestScore = p, score
		}
	}
	if best == nil {
		return nil, ErrNoPolicy
	}
	return best, nil
}

// matchScore ranks exact matches on both keys above single-key and wildcard policies.
func matchScore(p *Policy, insuranceType, hospitalLevel string) (int, bool) {
	score := 0
	switch p.InsuranceType {
	case insuranceType:
		score += 2
	case "":
	default:
		return 0, false
	}
	switch p.HospitalLevel {
	case hospitalLevel:
		score++
	case "":
	default:
		return 0, false
	}
	return score, true
}
