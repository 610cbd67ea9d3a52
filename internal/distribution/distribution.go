// Package distribution holds the stakeholder split rules for booking payments.
//
// A registered rule set is immutable: every registration creates a new
// version, and callers that settle money work on a deep copy (a snapshot)
// taken at the moment the funds were locked. Compute turns a snapshot and a
// total into per-stakeholder shares whose sum equals the total exactly.
package distribution

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/staysettle/internal/money"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRules        = errors.New("invalid distribution rules")
	ErrNoRules             = errors.New("no distribution rules registered")
	ErrVersionNotFound     = errors.New("distribution rule version not found")
	ErrVersionConflict     = errors.New("distribution rule version already exists")
	ErrInvalidAmount       = errors.New("invalid distribution amount")
	ErrUnsatisfiableBounds = errors.New("distribution bounds cannot be satisfied for this amount")
)

var hundred = decimal.NewFromInt(100)

// Rule assigns a percentage of each payment to one stakeholder.
type Rule struct {
	StakeholderID   string          `json:"stakeholderId"`
	Role            string          `json:"role"` // host, guide, community, platform...
	Percentage      decimal.Decimal `json:"percentage"`
	WalletReference string          `json:"walletReference"`
	MinimumAmount   decimal.Decimal `json:"minimumAmount"`
	MaximumAmount   decimal.Decimal `json:"maximumAmount"` // zero means uncapped
	Default         bool            `json:"default,omitempty"`
}

func (r Rule) capped() bool { return r.MaximumAmount.IsPositive() }

// Share is one stakeholder's computed cut of a payment.
type Share struct {
	StakeholderID   string          `json:"stakeholderId"`
	Role            string          `json:"role"`
	WalletReference string          `json:"walletReference"`
	Amount          decimal.Decimal `json:"amount"`
}

// RuleSet is one registered version of the distribution rules.
type RuleSet struct {
	Version              int       `json:"version"`
	Rules                []Rule    `json:"rules"`
	RemainderStakeholder string    `json:"remainderStakeholder"`
	PenaltyStakeholder   string    `json:"penaltyStakeholder"`
	CreatedAt            time.Time `json:"createdAt"`
}

// RegisterRequest is the payload for registering a new rule set.
type RegisterRequest struct {
	Rules                  []Rule `json:"rules" binding:"required"`
	RemainderStakeholderID string `json:"remainderStakeholderId"`
	PenaltyStakeholderID   string `json:"penaltyStakeholderId"`
}

// RuleError reports why a rule batch was rejected.
type RuleError struct {
	Index         int // -1 when the problem is with the batch as a whole
	StakeholderID string
	Reason        string
}

func (e *RuleError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", ErrInvalidRules, e.Reason)
	}
	if e.StakeholderID != "" {
		return fmt.Sprintf("%s: rule %d (%s): %s", ErrInvalidRules, e.Index, e.StakeholderID, e.Reason)
	}
	return fmt.Sprintf("%s: rule %d: %s", ErrInvalidRules, e.Index, e.Reason)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRules }

func batchError(format string, args ...any) error {
	return &RuleError{Index: -1, Reason: fmt.Sprintf(format, args...)}
}

// Clone returns a deep copy.
func (rs *RuleSet) Clone() *RuleSet {
	if rs == nil {
		return nil
	}
	cp := *rs
	cp.Rules = make([]Rule, len(rs.Rules))
	copy(cp.Rules, rs.Rules)
	return &cp
}

// Validate checks a batch of rules as a whole. The batch either passes
// entirely or is rejected.
func Validate(req RegisterRequest) error {
	if len(req.Rules) == 0 {
		return batchError("at least one rule is required")
	}

	seen := make(map[string]bool, len(req.Rules))
	total := decimal.Zero
	defaults := 0

	for i, r := range req.Rules {
		fail := func(reason string) error {
			return &RuleError{Index: i, StakeholderID: r.StakeholderID, Reason: reason}
		}
		id := strings.TrimSpace(r.StakeholderID)
		if id == "" {
			return fail("stakeholderId is required")
		}
		if seen[id] {
			return fail("duplicate stakeholderId")
		}
		seen[id] = true

		if !money.ValidPercentage(r.Percentage) {
			return fail("percentage must be between 0 and 100")
		}
		if r.MinimumAmount.IsNegative() || r.MaximumAmount.IsNegative() {
			return fail("bounds must not be negative")
		}
		if r.capped() && r.MinimumAmount.GreaterThan(r.MaximumAmount) {
			return fail("minimumAmount exceeds maximumAmount")
		}
		if err := validateWallet(r.WalletReference); err != nil {
			return fail(err.Error())
		}
		if r.Default {
			defaults++
		}
		total = total.Add(r.Percentage)
	}

	if !total.Equal(hundred) {
		return batchError("percentages sum to %s, must be exactly 100", total.String())
	}
	if defaults > 1 {
		return batchError("at most one rule may be marked default")
	}
	if req.RemainderStakeholderID != "" && !seen[req.RemainderStakeholderID] {
		return batchError("remainder stakeholder %q has no rule", req.RemainderStakeholderID)
	}
	if req.PenaltyStakeholderID != "" && !seen[req.PenaltyStakeholderID] {
		return batchError("penalty stakeholder %q has no rule", req.PenaltyStakeholderID)
	}
	return nil
}

// validateWallet accepts any non-empty reference; 0x references must be
// well-formed EVM addresses.
func validateWallet(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return errors.New("walletReference is required")
	}
	if strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X") {
		if !common.IsHexAddress(ref) {
			return errors.New("walletReference is not a valid address")
		}
	}
	return nil
}

// newRuleSet builds a validated rule set, resolving which stakeholder
// absorbs rounding remainders and which receives cancellation penalties.
func newRuleSet(req RegisterRequest, version int, now time.Time) *RuleSet {
	rules := make([]Rule, len(req.Rules))
	for i, r := range req.Rules {
		r.StakeholderID = strings.TrimSpace(r.StakeholderID)
		r.WalletReference = strings.TrimSpace(r.WalletReference)
		rules[i] = r
	}

	remainder := req.RemainderStakeholderID
	if remainder == "" {
		for _, r := range rules {
			if r.Default {
				remainder = r.StakeholderID
				break
			}
		}
	}
	if remainder == "" {
		best := 0
		for i, r := range rules {
			if r.Percentage.GreaterThan(rules[best].Percentage) {
				best = i
			}
		}
		remainder = rules[best].StakeholderID
	}

	penalty := req.PenaltyStakeholderID
	if penalty == "" {
		penalty = remainder
	}

	return &RuleSet{
		Version:              version,
		Rules:                rules,
		RemainderStakeholder: remainder,
		PenaltyStakeholder:   penalty,
		CreatedAt:            now,
	}
}

func (rs *RuleSet) indexOf(stakeholderID string) int {
	for i, r := range rs.Rules {
		if r.StakeholderID == stakeholderID {
			return i
		}
	}
	return -1
}

// Compute splits total across the rule set.
//
// Each share is floor(total * pct / 100) at currency scale, clamped into the
// rule's [min, max]. The difference between total and the clamped sum is
// settled deterministically: the remainder stakeholder absorbs it first,
// then the other rules in registration order, each only as far as its own
// bounds allow. If the difference cannot be absorbed the bounds are
// unsatisfiable for this total.
func (rs *RuleSet) Compute(total decimal.Decimal) ([]Share, error) {
	if total.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if len(rs.Rules) == 0 {
		return nil, ErrNoRules
	}

	shares := make([]Share, len(rs.Rules))
	allocated := decimal.Zero
	for i, r := range rs.Rules {
		amt := money.Percent(total, r.Percentage)
		if amt.LessThan(r.MinimumAmount) {
			amt = r.MinimumAmount
		}
		if r.capped() && amt.GreaterThan(r.MaximumAmount) {
			amt = r.MaximumAmount
		}
		shares[i] = Share{
			StakeholderID:   r.StakeholderID,
			Role:            r.Role,
			WalletReference: r.WalletReference,
			Amount:          amt,
		}
		allocated = allocated.Add(amt)
	}

	delta := total.Sub(allocated)
	if delta.IsZero() {
		return shares, nil
	}

	for _, i := range rs.absorbOrder() {
		if delta.IsZero() {
			break
		}
		r := rs.Rules[i]
		cur := shares[i].Amount
		var room decimal.Decimal
		if delta.IsPositive() {
			if !r.capped() {
				room = delta
			} else {
				room = decimal.Min(delta, r.MaximumAmount.Sub(cur))
			}
		} else {
			room = decimal.Max(delta, r.MinimumAmount.Sub(cur))
		}
		if room.IsZero() {
			continue
		}
		shares[i].Amount = cur.Add(room)
		delta = delta.Sub(room)
	}

	if !delta.IsZero() {
		return nil, fmt.Errorf("%w: total %s", ErrUnsatisfiableBounds, money.Format(total))
	}
	return shares, nil
}

func (rs *RuleSet) absorbOrder() []int {
	order := make([]int, 0, len(rs.Rules))
	first := rs.indexOf(rs.RemainderStakeholder)
	if first >= 0 {
		order = append(order, first)
	}
	for i := range rs.Rules {
		if i != first {
			order = append(order, i)
		}
	}
	return order
}

// PenaltyRecipient returns the rule that receives cancellation penalties.
func (rs *RuleSet) PenaltyRecipient() Rule {
	if i := rs.indexOf(rs.PenaltyStakeholder); i >= 0 {
		return rs.Rules[i]
	}
	if i := rs.indexOf(rs.RemainderStakeholder); i >= 0 {
		return rs.Rules[i]
	}
	return rs.Rules[0]
}
