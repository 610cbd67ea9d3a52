package distribution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/staysettle/internal/clock"
	"github.com/mbd888/staysettle/internal/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rule(id, pct string) Rule {
	return Rule{StakeholderID: id, Role: id, Percentage: d(pct), WalletReference: id + "@upi"}
}

func sumShares(shares []Share) decimal.Decimal {
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	return total
}

func amounts(shares []Share) map[string]string {
	out := make(map[string]string, len(shares))
	for _, s := range shares {
		out[s.StakeholderID] = money.Format(s.Amount)
	}
	return out
}

func newTestLedger() *Ledger {
	return NewLedger(NewMemoryStore()).WithClock(clock.NewFixed(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"empty", RegisterRequest{}},
		{"sum below 100", RegisterRequest{Rules: []Rule{rule("host", "70"), rule("community", "20")}}},
		{"sum above 100", RegisterRequest{Rules: []Rule{rule("host", "70"), rule("community", "40")}}},
		{"negative pct", RegisterRequest{Rules: []Rule{rule("host", "110"), rule("community", "-10")}}},
		{"duplicate id", RegisterRequest{Rules: []Rule{rule("host", "50"), rule("host", "50")}}},
		{"missing id", RegisterRequest{Rules: []Rule{rule("", "100")}}},
		{"min above max", RegisterRequest{Rules: []Rule{func() Rule {
			r := rule("host", "100")
			r.MinimumAmount = d("10")
			r.MaximumAmount = d("5")
			return r
		}()}}},
		{"negative min", RegisterRequest{Rules: []Rule{func() Rule {
			r := rule("host", "100")
			r.MinimumAmount = d("-1")
			return r
		}()}}},
		{"bad evm wallet", RegisterRequest{Rules: []Rule{func() Rule {
			r := rule("host", "100")
			r.WalletReference = "0x1234"
			return r
		}()}}},
		{"missing wallet", RegisterRequest{Rules: []Rule{{StakeholderID: "host", Percentage: d("100")}}}},
		{"two defaults", RegisterRequest{Rules: []Rule{
			{StakeholderID: "a", Percentage: d("50"), WalletReference: "a", Default: true},
			{StakeholderID: "b", Percentage: d("50"), WalletReference: "b", Default: true},
		}}},
		{"unknown penalty", RegisterRequest{Rules: []Rule{rule("host", "100")}, PenaltyStakeholderID: "ghost"}},
		{"unknown remainder", RegisterRequest{Rules: []Rule{rule("host", "100")}, RemainderStakeholderID: "ghost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRules))
			var ruleErr *RuleError
			assert.True(t, errors.As(err, &ruleErr))
		})
	}
}

func TestValidate_AcceptsFractionalPercentages(t *testing.T) {
	err := Validate(RegisterRequest{Rules: []Rule{
		rule("a", "33.33"), rule("b", "33.33"), rule("c", "33.34"),
	}})
	assert.NoError(t, err)
}

func TestValidate_AcceptsEVMWallet(t *testing.T) {
	r := rule("host", "100")
	r.WalletReference = "0x1234567890123456789012345678901234567890"
	assert.NoError(t, Validate(RegisterRequest{Rules: []Rule{r}}))
}

func TestRegisterRules_RejectsWholeBatch(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.RegisterRules(ctx, RegisterRequest{Rules: []Rule{rule("host", "60"), rule("guide", "30")}})
	require.Error(t, err)

	_, err = l.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestCompute_BasicSplit(t *testing.T) {
	l := newTestLedger()
	rs, err := l.RegisterRules(context.Background(), RegisterRequest{Rules: []Rule{
		rule("host", "70"), rule("community", "20"), rule("platform", "10"),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Version)
	assert.Equal(t, "host", rs.RemainderStakeholder)

	shares, err := rs.Compute(d("10000"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"host": "7000.00", "community": "2000.00", "platform": "1000.00",
	}, amounts(shares))
}

func TestCompute_RoundingRemainderToDesignatedStakeholder(t *testing.T) {
	rs := newRuleSet(RegisterRequest{Rules: []Rule{
		rule("a", "33.33"), rule("b", "33.33"), rule("c", "33.34"),
	}}, 1, time.Now())

	shares, err := rs.Compute(d("100.01"))
	require.NoError(t, err)

	assert.True(t, sumShares(shares).Equal(d("100.01")))
	assert.Equal(t, map[string]string{"a": "33.33", "b": "33.33", "c": "33.35"}, amounts(shares))
}

func TestCompute_ExplicitRemainderAndDefaultFlag(t *testing.T) {
	rs := newRuleSet(RegisterRequest{
		Rules:                  []Rule{rule("a", "33.33"), rule("b", "33.33"), rule("c", "33.34")},
		RemainderStakeholderID: "a",
	}, 1, time.Now())
	shares, err := rs.Compute(d("100.01"))
	require.NoError(t, err)
	assert.Equal(t, "33.34", amounts(shares)["a"])

	b := rule("b", "33.33")
	b.Default = true
	rs = newRuleSet(RegisterRequest{Rules: []Rule{rule("a", "33.33"), b, rule("c", "33.34")}}, 1, time.Now())
	assert.Equal(t, "b", rs.RemainderStakeholder)
	assert.Equal(t, "b", rs.PenaltyRecipient().StakeholderID)
}

func TestCompute_MinimumClamp(t *testing.T) {
	community := rule("community", "5")
	community.MinimumAmount = d("500")
	rs := newRuleSet(RegisterRequest{Rules: []Rule{rule("host", "95"), community}}, 1, time.Now())

	shares, err := rs.Compute(d("2000"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"host": "1500.00", "community": "500.00"}, amounts(shares))
}

func TestCompute_MaximumClamp(t *testing.T) {
	platform := rule("platform", "10")
	platform.MaximumAmount = d("50")
	rs := newRuleSet(RegisterRequest{Rules: []Rule{rule("host", "90"), platform}}, 1, time.Now())

	shares, err := rs.Compute(d("1000"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"host": "950.00", "platform": "50.00"}, amounts(shares))
}

func TestCompute_OverflowSpillsPastCappedRemainder(t *testing.T) {
	host := rule("host", "60")
	host.MaximumAmount = d("100")
	rs := newRuleSet(RegisterRequest{Rules: []Rule{host, rule("guide", "40")}}, 1, time.Now())

	shares, err := rs.Compute(d("1000"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"host": "100.00", "guide": "900.00"}, amounts(shares))
}

func TestCompute_UnsatisfiableBounds(t *testing.T) {
	a := rule("a", "50")
	a.MinimumAmount = d("600")
	b := rule("b", "50")
	b.MinimumAmount = d("600")
	rs := newRuleSet(RegisterRequest{Rules: []Rule{a, b}}, 1, time.Now())

	_, err := rs.Compute(d("1000"))
	assert.ErrorIs(t, err, ErrUnsatisfiableBounds)

	_, err = rs.Compute(d("1200"))
	assert.NoError(t, err)
}

func TestCompute_AllCappedCannotAbsorb(t *testing.T) {
	a := rule("a", "50")
	a.MaximumAmount = d("10")
	b := rule("b", "50")
	b.MaximumAmount = d("10")
	rs := newRuleSet(RegisterRequest{Rules: []Rule{a, b}}, 1, time.Now())

	_, err := rs.Compute(d("100"))
	assert.ErrorIs(t, err, ErrUnsatisfiableBounds)
}

func TestCompute_NegativeTotal(t *testing.T) {
	rs := newRuleSet(RegisterRequest{Rules: []Rule{rule("host", "100")}}, 1, time.Now())
	_, err := rs.Compute(d("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSnapshot_FrozenAgainstLaterRegistration(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.RegisterRules(ctx, RegisterRequest{Rules: []Rule{rule("host", "80"), rule("platform", "20")}})
	require.NoError(t, err)

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)

	_, err = l.RegisterRules(ctx, RegisterRequest{Rules: []Rule{rule("host", "50"), rule("platform", "50")}})
	require.NoError(t, err)

	shares, err := snap.Compute(d("1000"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"host": "800.00", "platform": "200.00"}, amounts(shares))

	// Mutating a snapshot must not leak into the ledger.
	snap.Rules[0].Percentage = d("1")
	cur, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Version)
	assert.True(t, cur.Rules[0].Percentage.Equal(d("50")))

	old, err := l.Version(ctx, 1)
	require.NoError(t, err)
	assert.True(t, old.Rules[0].Percentage.Equal(d("80")))
}

func TestLedger_LoadsLatestFromStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := NewLedger(store).RegisterRules(ctx, RegisterRequest{Rules: []Rule{rule("host", "100")}})
	require.NoError(t, err)

	// A fresh ledger over the same store continues the version sequence.
	l := NewLedger(store)
	rs, err := l.RegisterRules(ctx, RegisterRequest{Rules: []Rule{rule("guide", "100")}})
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Version)
}

func TestPenaltyRecipient(t *testing.T) {
	rs := newRuleSet(RegisterRequest{
		Rules:                []Rule{rule("host", "80"), rule("community", "20")},
		PenaltyStakeholderID: "community",
	}, 1, time.Now())
	assert.Equal(t, "community", rs.PenaltyRecipient().StakeholderID)
	assert.Equal(t, "host", rs.RemainderStakeholder)
}

func TestPreview(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.Preview(ctx, d("10"))
	assert.ErrorIs(t, err, ErrNoRules)

	_, err = l.RegisterRules(ctx, RegisterRequest{Rules: []Rule{rule("host", "100")}})
	require.NoError(t, err)
	shares, err := l.Preview(ctx, d("10"))
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, "10.00", money.Format(shares[0].Amount))
}
