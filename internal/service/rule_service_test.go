package service

import (
	"context"
	"errors"
	"testing"

	"receivables/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuleService(repo *fakeRuleRepo) (RuleService, *fakeAuditRepo) {
	audit := &fakeAuditRepo{}
	return NewRuleService(repo, audit, fakeTxManager{}), audit
}

func twoTierDTO(approvers ...uuid.UUID) CreateRuleDTO {
	ids := make([]string, len(approvers))
	for i, id := range approvers {
		ids[i] = id.String()
	}
	upper := "1000"
	return CreateRuleDTO{
		Tiers: []TierDTO{
			{Lower: "0", Upper: &upper, Slots: []TierSlotDTO{{Eligible: ids[:1]}}},
			{Lower: "1000", Slots: []TierSlotDTO{{Eligible: ids}, {Eligible: ids}}},
		},
	}
}

func TestCreateVersionSupersedesPrevious(t *testing.T) {
	repo := &fakeRuleRepo{}
	svc, audit := newRuleService(repo)
	payorID := uuid.New()
	a, b := uuid.New(), uuid.New()

	v1, err := svc.CreateVersion(context.Background(), payorID, twoTierDTO(a, b), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.True(t, v1.Active)

	v2, err := svc.CreateVersion(context.Background(), payorID, twoTierDTO(a, b), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	active, err := svc.GetActive(context.Background(), payorID)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	// The superseded version stays queryable for chains pinned to it.
	old, err := svc.GetVersion(context.Background(), payorID, 1)
	require.NoError(t, err)
	assert.False(t, old.Active)

	assert.Len(t, audit.byAction(model.ActionCreateRuleVersion), 2)
}

func TestCreateVersionRejectsInvalidTierTable(t *testing.T) {
	repo := &fakeRuleRepo{}
	svc, _ := newRuleService(repo)
	a := uuid.New()

	upper := "1000"
	req := CreateRuleDTO{
		Tiers: []TierDTO{
			{Lower: "0", Upper: &upper, Slots: []TierSlotDTO{{Eligible: []string{a.String()}}}},
			{Lower: "2000", Slots: []TierSlotDTO{{Eligible: []string{a.String()}}}},
		},
	}

	_, err := svc.CreateVersion(context.Background(), uuid.New(), req, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rule configuration")
	assert.Empty(t, repo.rules)
}

func TestResolveIsDeterministic(t *testing.T) {
	repo := &fakeRuleRepo{}
	svc, _ := newRuleService(repo)
	payorID := uuid.New()
	a, b := uuid.New(), uuid.New()

	_, err := svc.CreateVersion(context.Background(), payorID, twoTierDTO(a, b), nil)
	require.NoError(t, err)

	amount := decimal.NewFromInt(5000)
	chain1, version1, err := svc.Resolve(context.Background(), payorID, amount, 0)
	require.NoError(t, err)
	chain2, version2, err := svc.Resolve(context.Background(), payorID, amount, 0)
	require.NoError(t, err)

	assert.Equal(t, version1, version2)
	assert.Equal(t, chain1, chain2)
	assert.Len(t, chain1, 2)
}

func TestResolvePinnedVersionSurvivesRuleEdit(t *testing.T) {
	repo := &fakeRuleRepo{}
	svc, _ := newRuleService(repo)
	payorID := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	_, err := svc.CreateVersion(context.Background(), payorID, twoTierDTO(a, b), nil)
	require.NoError(t, err)
	_, err = svc.CreateVersion(context.Background(), payorID, twoTierDTO(a, b, c), nil)
	require.NoError(t, err)

	chain, version, err := svc.Resolve(context.Background(), payorID, decimal.NewFromInt(5000), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Len(t, chain[0].Eligible, 2)

	chain, version, err = svc.Resolve(context.Background(), payorID, decimal.NewFromInt(5000), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Len(t, chain[0].Eligible, 3)
}

func TestResolveWithoutRuleIsAnError(t *testing.T) {
	svc, _ := newRuleService(&fakeRuleRepo{})

	_, _, err := svc.Resolve(context.Background(), uuid.New(), decimal.NewFromInt(100), 0)
	var notFound *model.RuleNotFoundError
	require.True(t, errors.As(err, &notFound))
}
