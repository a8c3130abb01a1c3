package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeRequest asks an exchange handler to prepare one swap
type TradeRequest struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Recipient    common.Address
	Deadline     uint64
}

// TradeResult is the unsigned call an exchange handler produced for a TradeRequest
type TradeResult struct {
	To   common.Address
	Data []byte
	// ExpectedOut is the handler's own quote, nil when it cannot quote
	ExpectedOut *big.Int
}

// TradeStats reports the outcome of one trade back to its exchange handler
type TradeStats struct {
	Success bool
	GasUsed uint64
	Latency time.Duration
}
