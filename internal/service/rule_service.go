package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"receivables/internal/model"
	"receivables/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- DTOs ---

type TierSlotDTO struct {
	Eligible []string `json:"eligible" binding:"required,min=1"`
}

type TierDTO struct {
	Lower string        `json:"lower" binding:"required"`
	Upper *string       `json:"upper"` // nil = unbounded, last tier only
	Slots []TierSlotDTO `json:"slots" binding:"required,min=1"`
}

type CreateRuleDTO struct {
	Tiers []TierDTO `json:"tiers" binding:"required,min=1"`
}

type RuleResponse struct {
	ID        string    `json:"id"`
	PayorID   string    `json:"payor_id"`
	Version   int       `json:"version"`
	Active    bool      `json:"active"`
	Tiers     []TierDTO `json:"tiers"`
	CreatedAt string    `json:"created_at"`
}

// --- Interface ---

// RuleService owns the payor approval-rule configuration and resolves the
// chain shape for a given amount. Rules are fed by Payor Management and are
// read-only to the workflow itself; every edit appends a new version so that
// in-flight chains, bound to their snapshot, are immune to it.
type RuleService interface {
	CreateVersion(ctx context.Context, payorID uuid.UUID, req CreateRuleDTO, actorID *uuid.UUID) (RuleResponse, error)
	GetActive(ctx context.Context, payorID uuid.UUID) (RuleResponse, error)
	GetVersion(ctx context.Context, payorID uuid.UUID, version int) (RuleResponse, error)
	// Resolve returns the ordered approver-slot snapshot for the tier
	// covering amount, plus the rule version it came from. ruleVersion 0
	// means "the active version". Deterministic: the same inputs always
	// yield an identical chain definition.
	Resolve(ctx context.Context, payorID uuid.UUID, amount decimal.Decimal, ruleVersion int) (model.SlotList, int, error)
}

type ruleService struct {
	ruleRepo  repository.RuleRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
}

func NewRuleService(ruleRepo repository.RuleRepository, auditRepo repository.AuditRepository, txManager repository.TransactionManager) RuleService {
	return &ruleService{ruleRepo: ruleRepo, auditRepo: auditRepo, txManager: txManager}
}

// --- Implementation ---

func (s *ruleService) CreateVersion(ctx context.Context, payorID uuid.UUID, req CreateRuleDTO, actorID *uuid.UUID) (RuleResponse, error) {
	tiers, err := tiersFromDTO(req.Tiers)
	if err != nil {
		return RuleResponse{}, err
	}

	rule := model.ApprovalRule{
		PayorID: payorID,
		Active:  true,
		Tiers:   tiers,
	}
	if err := rule.Validate(); err != nil {
		return RuleResponse{}, fmt.Errorf("invalid rule configuration: %w", err)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		version, verErr := s.ruleRepo.NextVersion(txCtx, payorID)
		if verErr != nil {
			return fmt.Errorf("failed to allocate rule version: %w", verErr)
		}
		rule.Version = version

		if deactErr := s.ruleRepo.DeactivateActive(txCtx, payorID); deactErr != nil {
			return fmt.Errorf("failed to deactivate previous rule version: %w", deactErr)
		}
		if createErr := s.ruleRepo.Create(txCtx, &rule); createErr != nil {
			return fmt.Errorf("failed to create rule version: %w", createErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"payor_id": payorID.String(),
			"version":  rule.Version,
			"tiers":    len(rule.Tiers),
		})
		audit := model.AuditLog{
			ActorID:  actorID,
			Action:   model.ActionCreateRuleVersion,
			EntityID: rule.ID.String(),
			Details:  string(details),
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
	if err != nil {
		return RuleResponse{}, err
	}

	return toRuleResponse(rule), nil
}

func (s *ruleService) GetActive(ctx context.Context, payorID uuid.UUID) (RuleResponse, error) {
	rule, err := s.ruleRepo.FindActive(ctx, payorID)
	if err != nil {
		return RuleResponse{}, err
	}
	return toRuleResponse(*rule), nil
}

func (s *ruleService) GetVersion(ctx context.Context, payorID uuid.UUID, version int) (RuleResponse, error) {
	rule, err := s.ruleRepo.FindByVersion(ctx, payorID, version)
	if err != nil {
		return RuleResponse{}, err
	}
	return toRuleResponse(*rule), nil
}

func (s *ruleService) Resolve(ctx context.Context, payorID uuid.UUID, amount decimal.Decimal, ruleVersion int) (model.SlotList, int, error) {
	var rule *model.ApprovalRule
	var err error
	if ruleVersion == 0 {
		rule, err = s.ruleRepo.FindActive(ctx, payorID)
	} else {
		rule, err = s.ruleRepo.FindByVersion(ctx, payorID, ruleVersion)
	}
	if err != nil {
		return nil, 0, err
	}

	tier, err := rule.ResolveTier(amount)
	if err != nil {
		return nil, 0, err
	}

	chain := make(model.SlotList, 0, len(tier.Slots))
	for _, slot := range tier.Slots {
		eligible := make([]uuid.UUID, len(slot.Eligible))
		copy(eligible, slot.Eligible)
		chain = append(chain, model.ApproverSlot{Eligible: eligible})
	}
	return chain, rule.Version, nil
}

// --- Helpers ---

func tiersFromDTO(dtos []TierDTO) (model.TierList, error) {
	tiers := make(model.TierList, 0, len(dtos))
	for i, dto := range dtos {
		lower, err := decimal.NewFromString(dto.Lower)
		if err != nil {
			return nil, fmt.Errorf("tier %d: invalid lower bound %q: %w", i, dto.Lower, err)
		}
		tier := model.Tier{Lower: lower}
		if dto.Upper != nil {
			upper, upperErr := decimal.NewFromString(*dto.Upper)
			if upperErr != nil {
				return nil, fmt.Errorf("tier %d: invalid upper bound %q: %w", i, *dto.Upper, upperErr)
			}
			tier.Upper = &upper
		}
		for j, slotDTO := range dto.Slots {
			slot := model.TierSlot{Eligible: make([]uuid.UUID, 0, len(slotDTO.Eligible))}
			for _, raw := range slotDTO.Eligible {
				id, idErr := uuid.Parse(raw)
				if idErr != nil {
					return nil, fmt.Errorf("tier %d slot %d: invalid approver id %q: %w", i, j, raw, idErr)
				}
				slot.Eligible = append(slot.Eligible, id)
			}
			tier.Slots = append(tier.Slots, slot)
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

func toRuleResponse(rule model.ApprovalRule) RuleResponse {
	tiers := make([]TierDTO, 0, len(rule.Tiers))
	for _, tier := range rule.Tiers {
		dto := TierDTO{Lower: tier.Lower.String()}
		if tier.Upper != nil {
			s := tier.Upper.String()
			dto.Upper = &s
		}
		for _, slot := range tier.Slots {
			slotDTO := TierSlotDTO{Eligible: make([]string, 0, len(slot.Eligible))}
			for _, id := range slot.Eligible {
				slotDTO.Eligible = append(slotDTO.Eligible, id.String())
			}
			dto.Slots = append(dto.Slots, slotDTO)
		}
		tiers = append(tiers, dto)
	}

	return RuleResponse{
		ID:        rule.ID.String(),
		PayorID:   rule.PayorID.String(),
		Version:   rule.Version,
		Active:    rule.Active,
		Tiers:     tiers,
		CreatedAt: rule.CreatedAt.Format(time.RFC3339),
	}
}
