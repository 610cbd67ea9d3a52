package distribution

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// rulesFromWeights turns positive weights into percentages with two
// fractional digits that sum to exactly 100.
func rulesFromWeights(weights []int) []Rule {
	sum := 0
	for _, w := range weights {
		sum += w
	}
	rules := make([]Rule, len(weights))
	allocated := int64(0)
	for i, w := range weights {
		bp := int64(w) * 10000 / int64(sum)
		if i == len(weights)-1 {
			bp = 10000 - allocated
		}
		allocated += bp
		id := fmt.Sprintf("s%d", i)
		rules[i] = Rule{StakeholderID: id, Percentage: decimal.New(bp, -2), WalletReference: id}
	}
	return rules
}

func TestCompute_SumEqualsTotalProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("shares sum to the total and are never negative", prop.ForAll(
		func(weights []int, cents int64) bool {
			if len(weights) == 0 {
				return true
			}
			req := RegisterRequest{Rules: rulesFromWeights(weights)}
			if err := Validate(req); err != nil {
				return false
			}
			rs := newRuleSet(req, 1, time.Now())
			total := decimal.New(cents, -2)

			shares, err := rs.Compute(total)
			if err != nil {
				return false
			}
			sum := decimal.Zero
			for _, s := range shares {
				if s.Amount.IsNegative() {
					return false
				}
				sum = sum.Add(s.Amount)
			}
			return sum.Equal(total)
		},
		gen.SliceOfN(6, gen.IntRange(1, 100)),
		gen.Int64Range(0, 100_000_000),
	))

	properties.TestingRun(t)
}

func TestCompute_BoundsRespectedProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("successful splits honour every bound", prop.ForAll(
		func(weights []int, mins []int64, cents int64) bool {
			rules := rulesFromWeights(weights)
			for i := range rules {
				if i < len(mins) {
					rules[i].MinimumAmount = decimal.New(mins[i], 0)
					rules[i].MaximumAmount = decimal.New(mins[i]*3+50, 0)
				}
			}
			// leave the last rule uncapped so overflow has somewhere to go
			rules[len(rules)-1].MaximumAmount = decimal.Zero

			rs := newRuleSet(RegisterRequest{Rules: rules}, 1, time.Now())
			total := decimal.New(cents, -2)

			shares, err := rs.Compute(total)
			if errors.Is(err, ErrUnsatisfiableBounds) {
				return true
			}
			if err != nil {
				return false
			}
			sum := decimal.Zero
			for i, s := range shares {
				r := rules[i]
				if s.Amount.LessThan(r.MinimumAmount) {
					return false
				}
				if r.MaximumAmount.IsPositive() && s.Amount.GreaterThan(r.MaximumAmount) {
					return false
				}
				sum = sum.Add(s.Amount)
			}
			return sum.Equal(total)
		},
		gen.SliceOfN(4, gen.IntRange(1, 100)),
		gen.SliceOfN(3, gen.Int64Range(0, 500)),
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}
