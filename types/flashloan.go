package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FlashLoan is a loan quoted by a lender and the call that requests it.
type FlashLoan struct {
	Provider string
	Lender   common.Address
	Token    common.Address
	Amount   *big.Int
	Fee      *big.Int
	// Calldata invokes the lender's flashLoan entry point. The receiver runs the
	// encoded steps and must hold Repayment() of Token when the callback returns.
	Calldata []byte
}

// Repayment is the amount owed back to the lender
func (l *FlashLoan) Repayment() *big.Int {
	total := new(big.Int)
	if l.Amount != nil {
		total.Add(total, l.Amount)
	}
	if l.Fee != nil {
		total.Add(total, l.Fee)
	}
	return total
}

// Covers reports whether proceeds are enough to repay the loan
func (l *FlashLoan) Covers(proceeds *big.Int) bool {
	return proceeds != nil && proceeds.Cmp(l.Repayment()) >= 0
}

// LoanOptions customises a flash loan request
type LoanOptions struct {
	// Receiver is the contract that gets the funds and the callback
	Receiver common.Address
	// Params is passed through to the receiver callback
	Params []byte
}
