package types

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
)

// ExchangeID names a configured exchange, e.g. "uniswap" or "dex_a"
type ExchangeID string

// PairLiquidity is one constant-product pool as seen by an exchange handler
type PairLiquidity struct {
	Pool     common.Address
	TokenA   common.Address
	TokenB   common.Address
	ReserveA *big.Int
	ReserveB *big.Int
	FeeBps   int64
}

// Oriented returns the reserves of the pair in the direction tokenIn -> tokenOut.
func (p PairLiquidity) Oriented(tokenIn, tokenOut common.Address) (reserveIn, reserveOut *big.Int, ok bool) {
	switch {
	case p.TokenA == tokenIn && p.TokenB == tokenOut:
		return p.ReserveA, p.ReserveB, true
	case p.TokenB == tokenIn && p.TokenA == tokenOut:
		return p.ReserveB, p.ReserveA, true
	}
	return nil, nil, false
}

// LiquiditySnapshot is the normalized liquidity of one exchange at a point in time.
// It must not be mutated after capture; a newer snapshot replaces it.
type LiquiditySnapshot struct {
	ExchangeID ExchangeID
	Router     common.Address
	Pairs      []PairLiquidity
	CapturedAt time.Time
	Confidence float64
}

// Lookup finds the pool trading tokenIn for tokenOut. When several pools match, the
// deepest one on the input side wins.
func (s *LiquiditySnapshot) Lookup(tokenIn, tokenOut common.Address) (PairLiquidity, bool) {
	var (
		best  PairLiquidity
		found bool
		depth *big.Int
	)
	for _, p := range s.Pairs {
		rin, _, ok := p.Oriented(tokenIn, tokenOut)
		if !ok || rin == nil {
			continue
		}
		if !found || rin.Cmp(depth) > 0 {
			best, found, depth = p, true, rin
		}
	}
	return best, found
}

// TokensFrom lists every token reachable from tokenIn in one hop on this exchange.
func (s *LiquiditySnapshot) TokensFrom(tokenIn common.Address) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, p := range s.Pairs {
		var next common.Address
		switch tokenIn {
		case p.TokenA:
			next = p.TokenB
		case p.TokenB:
			next = p.TokenA
		default:
			continue
		}
		if _, dup := seen[next]; dup {
			continue
		}
		seen[next] = struct{}{}
		out = append(out, next)
	}
	return out
}

// Route is a candidate arbitrage cycle. Tokens is the closing token path
// (Tokens[0] == Tokens[len-1]); Exchanges and Pools hold one entry per hop.
type Route struct {
	Tokens           []common.Address
	Exchanges        []ExchangeID
	Pools            []common.Address
	HopOutputs       []*big.Int
	AmountIn         *big.Int
	ExpectedOutput   *big.Int
	MinOutput        *big.Int
	ExpectedProfit   *big.Int
	EstimatedGas     uint64
	EstimatedGasCost *big.Int
	PriceImpact      float64
	Confidence       float64
}

// Hops returns the number of swaps in the route.
func (r *Route) Hops() int {
	return len(r.Exchanges)
}

// IsClosed reports whether the route starts and ends on the same token.
func (r *Route) IsClosed() bool {
	n := len(r.Tokens)
	return n >= 2 && r.Tokens[0] == r.Tokens[n-1]
}

// Fingerprint identifies the route by its exchanges and token path.
func (r *Route) Fingerprint() uint64 {
	d := xxhash.New()
	for _, ex := range r.Exchanges {
		_, _ = d.WriteString(string(ex))
		_, _ = d.Write([]byte{0})
	}
	for _, t := range r.Tokens {
		_, _ = d.Write(t.Bytes())
	}
	return d.Sum64()
}

func (r *Route) String() string {
	parts := make([]string, 0, len(r.Exchanges))
	for i, ex := range r.Exchanges {
		if i+1 >= len(r.Tokens) {
			break
		}
		parts = append(parts, fmt.Sprintf("%s:%s>%s", ex, short(r.Tokens[i]), short(r.Tokens[i+1])))
	}
	return strings.Join(parts, " ")
}

func short(a common.Address) string {
	h := a.Hex()
	return h[:6] + ".." + h[len(h)-4:]
}

// TradeStep is one swap of an execution route.
type TradeStep struct {
	Exchange  ExchangeID
	Router    common.Address
	Pool      common.Address
	TokenIn   common.Address
	TokenOut  common.Address
	Amount    *big.Int
	MinReturn *big.Int
}

// ExecutionRoute is a route refined into concrete steps, a flash loan amount and
// ordered backups.
type ExecutionRoute struct {
	Route           *Route
	FlashLoanAmount *big.Int
	Steps           []TradeStep
	BackupRoutes    [][]TradeStep
	// Backups are the candidates BackupRoutes were built from, index for index
	Backups []*Route
}

// ValidateSteps checks that each step feeds the next and, when closed is set, that the
// last step returns to the first step's input token.
func ValidateSteps(steps []TradeStep, closed bool) error {
	if len(steps) == 0 {
		return fmt.Errorf("route has no steps")
	}
	for i := 0; i+1 < len(steps); i++ {
		if steps[i].TokenOut != steps[i+1].TokenIn {
			return fmt.Errorf("step %d outputs %s but step %d consumes %s",
				i, steps[i].TokenOut.Hex(), i+1, steps[i+1].TokenIn.Hex())
		}
	}
	if closed && steps[0].TokenIn != steps[len(steps)-1].TokenOut {
		return fmt.Errorf("route does not close: starts with %s, ends with %s",
			steps[0].TokenIn.Hex(), steps[len(steps)-1].TokenOut.Hex())
	}
	return nil
}

// Validate checks the primary steps and every backup. Loops must close when a flash loan
// is taken, since the loan is repaid in the borrowed token.
func (e *ExecutionRoute) Validate() error {
	closed := e.FlashLoanAmount != nil && e.FlashLoanAmount.Sign() > 0
	if err := ValidateSteps(e.Steps, closed); err != nil {
		return fmt.Errorf("primary route: %w", err)
	}
	for i, backup := range e.BackupRoutes {
		if err := ValidateSteps(backup, closed); err != nil {
			return fmt.Errorf("backup route %d: %w", i, err)
		}
	}
	return nil
}

// BundleSimulation is the read-only outcome of running a bundle against current state.
// Profit is already net of gas cost and flash loan fee.
type BundleSimulation struct {
	Success      bool
	GasUsed      uint64
	Profit       *big.Int
	RevertReason string
}

// FailedSimulation returns the zeroed result used for any step failure.
func FailedSimulation(reason string) *BundleSimulation {
	return &BundleSimulation{Profit: new(big.Int), RevertReason: reason}
}

// BundleStats summarises one submission attempt for relative ranking.
type BundleStats struct {
	ExpectedProfit      *big.Int
	GasUsed             uint64
	BundleScore         float64
	CompetitionEstimate float64
}

// BundleStatus is the observed inclusion outcome of a submitted bundle
type BundleStatus string

const (
	BundleIncluded BundleStatus = "included"
	BundleFailed   BundleStatus = "failed"
	// BundlePending means the deadline passed before the outcome was known. Nonces and
	// funds are in an unknown state and need reconciliation.
	BundlePending BundleStatus = "pending"
)

// Severity of an alert
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is raised by the monitoring aggregator
type Alert struct {
	Kind           string
	Severity       Severity
	Message        string
	ActionRequired bool
	Value          float64
	Threshold      float64
	RaisedAt       time.Time
}

// BundleKey derives a stable identifier for a set of transaction hashes.
func BundleKey(hashes []common.Hash, targetBlock uint64) string {
	d := xxhash.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], targetBlock)
	_, _ = d.Write(buf[:])
	for _, h := range hashes {
		_, _ = d.Write(h.Bytes())
	}
	return fmt.Sprintf("%016x", d.Sum64())
}
