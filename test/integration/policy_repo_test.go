//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/medclaims/claims/internal/domain/reimbursement"
)

func TestPolicyRepo_MatchSeededLevels(t *testing.T) {
	repo := reimbursement.NewPolicyRepoPG(globalPool)
	ctx := context.Background()

	tests := []struct {
		name          string
		insuranceType string
		hospitalLevel string
		wantCode      string
		wantDeduct    string
	}{
		{"exact tertiary", "urban_employee", "level_3", "UE_L3", "1300"},
		{"exact primary", "urban_employee", "level_1", "UE_L1", "300"},
		{"resident wildcard level", "urban_resident", "level_2", "UR_ANY", "1000"},
		{"rural wildcard level", "new_rural", "community", "NR_ANY", "500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := repo.Match(ctx, tt.insuranceType, tt.hospitalLevel)
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if p.LevelCode != tt.wantCode {
				t.Errorf("expected %s, got %s", tt.wantCode, p.LevelCode)
			}
			if !p.Deductible.Equal(dec(tt.wantDeduct)) {
				t.Errorf("expected deductible %s, got %s", tt.wantDeduct, p.Deductible)
			}
		})
	}
}

func TestPolicyRepo_SeedRatesMatchDefaultUnits(t *testing.T) {
	p, err := reimbursement.NewPolicyRepoPG(globalPool).Match(context.Background(), "urban_employee", "level_3")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	def := reimbursement.DefaultPolicy(dec("1000"), dec("0.8"))
	if !p.CategoryARate.Decimal.Equal(def.CategoryARate.Decimal) {
		t.Errorf("expected seeded category A rate %s to use the default's unit %s",
			p.CategoryARate.Decimal, def.CategoryARate.Decimal)
	}
	if !p.CategoryBRate.Decimal.Equal(def.CategoryBRate.Decimal) {
		t.Errorf("expected seeded category B rate %s, got %s", def.CategoryBRate.Decimal, p.CategoryBRate.Decimal)
	}
}

func TestPolicyRepo_NoMatch(t *testing.T) {
	repo := reimbursement.NewPolicyRepoPG(globalPool)

	_, err := repo.Match(context.Background(), "commercial", "level_3")
	if !errors.Is(err, reimbursement.ErrNoPolicy) {
		t.Errorf("expected ErrNoPolicy, got %v", err)
	}
}
