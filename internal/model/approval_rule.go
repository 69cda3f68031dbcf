package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TierSlot is one required approver position inside a tier: any approver from
// the eligible set may fill it, subject to chain-wide distinctness.
type TierSlot struct {
	Eligible []uuid.UUID `json:"eligible"`
}

// Tier is one contiguous amount range of an approval rule. Bounds are
// half-open [Lower, Upper); a nil Upper means unbounded. The boundary value
// itself belongs to the tier whose Lower it is.
type Tier struct {
	Lower decimal.Decimal  `json:"lower"`
	Upper *decimal.Decimal `json:"upper,omitempty"`
	Slots []TierSlot       `json:"slots"`
}

// Contains reports whether amount falls inside the tier's [Lower, Upper) range.
func (t Tier) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.Lower) {
		return false
	}
	return t.Upper == nil || amount.LessThan(*t.Upper)
}

// TierList is stored as a jsonb column.
type TierList []Tier

func (l TierList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *TierList) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported tier list column type %T", value)
	}
}

// ApprovalRule is the versioned, payor-owned tier configuration. Rules are
// append-only: an edit creates the next version and deactivates the previous
// one. In-flight approval chains keep the snapshot taken at submission time,
// so later versions never touch them.
type ApprovalRule struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PayorID   uuid.UUID `gorm:"type:uuid;not null;index:idx_rule_payor_version,unique" json:"payor_id"`
	Version   int       `gorm:"not null;index:idx_rule_payor_version,unique" json:"version"`
	Active    bool      `gorm:"not null;default:true;index" json:"active"`
	Tiers     TierList  `gorm:"type:jsonb;not null" json:"tiers"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate enforces the tier invariants: boundaries partition [0, inf) with
// no gap or overlap, and every multi-slot tier can be filled by pairwise
// distinct approvers.
func (r *ApprovalRule) Validate() error {
	if len(r.Tiers) == 0 {
		return fmt.Errorf("rule must define at least one tier")
	}

	for i, tier := range r.Tiers {
		if tier.Lower.IsNegative() {
			return fmt.Errorf("tier %d: lower bound must be non-negative", i)
		}
		if tier.Upper != nil && !tier.Upper.GreaterThan(tier.Lower) {
			return fmt.Errorf("tier %d: upper bound %s must exceed lower bound %s", i, tier.Upper, tier.Lower)
		}
		if len(tier.Slots) == 0 {
			return fmt.Errorf("tier %d: at least one approver slot is required", i)
		}
		for j, slot := range tier.Slots {
			if len(slot.Eligible) == 0 {
				return fmt.Errorf("tier %d slot %d: eligible approver set is empty", i, j)
			}
		}
		if n := tier.distinctApprovers(); n < len(tier.Slots) {
			return fmt.Errorf("tier %d: %d slots but only %d distinct eligible approvers", i, len(tier.Slots), n)
		}
	}

	// Partition check: first tier starts at 0, each upper bound equals the
	// next lower bound, last tier is unbounded.
	if !r.Tiers[0].Lower.IsZero() {
		return fmt.Errorf("first tier must start at 0, got %s", r.Tiers[0].Lower)
	}
	for i := 0; i < len(r.Tiers)-1; i++ {
		if r.Tiers[i].Upper == nil {
			return fmt.Errorf("tier %d: only the last tier may be unbounded", i)
		}
		if !r.Tiers[i].Upper.Equal(r.Tiers[i+1].Lower) {
			return fmt.Errorf("tier %d upper bound %s does not meet tier %d lower bound %s",
				i, r.Tiers[i].Upper, i+1, r.Tiers[i+1].Lower)
		}
	}
	if last := r.Tiers[len(r.Tiers)-1]; last.Upper != nil {
		return fmt.Errorf("last tier must be unbounded, got upper bound %s", last.Upper)
	}

	return nil
}

// ResolveTier locates the tier covering amount. A miss means the tier table
// has a gap for this amount: a configuration defect surfaced to the caller,
// never silently defaulted.
func (r *ApprovalRule) ResolveTier(amount decimal.Decimal) (Tier, error) {
	if amount.IsNegative() {
		return Tier{}, fmt.Errorf("amount must be non-negative, got %s", amount)
	}
	for _, tier := range r.Tiers {
		if tier.Contains(amount) {
			return tier, nil
		}
	}
	return Tier{}, &RuleNotFoundError{
		PayorID: r.PayorID,
		Version: r.Version,
		Reason:  fmt.Sprintf("no tier covers amount %s", amount),
	}
}

func (t Tier) distinctApprovers() int {
	seen := make(map[uuid.UUID]struct{})
	for _, slot := range t.Slots {
		for _, id := range slot.Eligible {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}
