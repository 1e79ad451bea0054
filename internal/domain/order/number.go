package order

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	OrderNoPrefix      = "MO"
	SettlementNoPrefix = "ST"

	numberTimeLayout  = "20060102150405"
	numberSuffixSpace = 10000
	maxNumberAttempts = 10
)

// NumberGenerator builds identifiers of the form prefix + yyyyMMddHHmmss +
// four random digits. The scheme alone does not guarantee uniqueness, so
// every candidate is checked with exists before it is returned.
type NumberGenerator struct {
	prefix      string
	now         func() time.Time
	suffix      func() int
	maxAttempts int
}

func NewNumberGenerator(prefix string) *NumberGenerator {
	return &NumberGenerator{
		prefix:      prefix,
		now:         time.Now,
		suffix:      func() int { return rand.Intn(numberSuffixSpace) },
		maxAttempts: maxNumberAttempts,
	}
}

func (g *NumberGenerator) Prefix() string { return g.prefix }

func (g *NumberGenerator) format(t time.Time, suffix int) string {
	return fmt.Sprintf("%s%s%04d", g.prefix, t.Format(numberTimeLayout), suffix)
}

// Next returns a number that exists reports as unused. After maxAttempts
// collisions it gives up with ErrNumberExhausted.
func (g *NumberGenerator) Next(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error) {
	for i := 0; i < g.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := g.format(g.now(), g.suffix())
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check %s number: %w", g.prefix, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrNumberExhausted
}
