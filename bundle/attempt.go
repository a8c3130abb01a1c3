package bundle

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/gas"
	"github.com/michaelpento.lv/arbengine/types"
)

var (
	// ErrFrontrunRisk aborts an attempt when a competing pending transaction would
	// execute ahead of ours. It is never retried within the same cycle.
	ErrFrontrunRisk = errors.New("high frontrunning risk")
	// ErrBelowThreshold rejects a simulated bundle whose profit is under the minimum
	ErrBelowThreshold = errors.New("simulated profit below threshold")
	// ErrSimulationFailed rejects submission of a bundle whose simulation reverted
	ErrSimulationFailed = errors.New("bundle simulation failed")
	// ErrBundleTooLarge rejects routes with more steps than the configured bundle size
	ErrBundleTooLarge = errors.New("bundle exceeds maximum size")
	// ErrInvalidState is returned when an operation is applied out of order
	ErrInvalidState = errors.New("invalid attempt state")
	// ErrPartialBroadcast means some but not all transactions were sent
	ErrPartialBroadcast = errors.New("bundle partially broadcast")
)

// State of a bundle attempt
type State string

const (
	StateDraft           State = "draft"
	StateFrontrunChecked State = "frontrun_checked"
	StateSimulated       State = "simulated"
	StateSubmitted       State = "submitted"
	StateRejected        State = "rejected"
)

// Call is one prepared step of a bundle
type Call struct {
	Step        types.TradeStep
	To          common.Address
	Data        []byte
	ExpectedOut *big.Int
	// GasUsed is filled in by simulation
	GasUsed uint64
}

// Attempt tracks one route (primary or backup) through the bundle state machine
//
//	draft -> frontrun_checked -> simulated -> submitted | rejected
//
// Any state may move to rejected.
type Attempt struct {
	State  State
	Route  *types.ExecutionRoute
	Steps  []types.TradeStep
	Calls  []Call
	Gas    *gas.Strategy
	Loan   *types.FlashLoan
	Sender common.Address

	Simulation *types.BundleSimulation
	// Realized is the simulated output of the last step
	Realized *big.Int

	ID          string
	Hashes      []common.Hash
	TargetBlock uint64
	Reason      string
	CreatedAt   time.Time
}

func (a *Attempt) reject(reason string) {
	a.State = StateRejected
	a.Reason = reason
}

// Label is a short description of the attempt for logs and events
func (a *Attempt) Label() string {
	if a.Route != nil && a.Route.Route != nil {
		return a.Route.Route.String()
	}
	return ""
}

// AmountIn is the input of the first step
func (a *Attempt) AmountIn() *big.Int {
	if len(a.Steps) == 0 || a.Steps[0].Amount == nil {
		return new(big.Int)
	}
	return a.Steps[0].Amount
}
