package chain

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// NonceManager hands out nonces for one sending address. Every component signing with
// the same key must share one instance so concurrent senders never reuse a nonce.
type NonceManager struct {
	provider Provider
	address  common.Address
	logger   *zap.Logger

	mu     sync.Mutex
	next   uint64
	synced bool
}

// NewNonceManager creates a manager for address. Nothing is read until the first
// reservation.
func NewNonceManager(provider Provider, address common.Address, logger *zap.Logger) *NonceManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NonceManager{provider: provider, address: address, logger: logger}
}

// Address is the account whose nonces are managed
func (m *NonceManager) Address() common.Address {
	return m.address
}

// Reserve claims n consecutive nonces and returns the first. The node's pending count
// is read every time so transactions sent outside this process move the window forward.
func (m *NonceManager) Reserve(ctx context.Context, n int) (uint64, error) {
	if n <= 0 {
		return 0, errors.New("nonce reservation must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := PendingNonce(ctx, m.provider, m.address)
	if err != nil {
		return 0, err
	}
	if !m.synced || pending > m.next {
		m.next = pending
		m.synced = true
	}
	start := m.next
	m.next += uint64(n)
	return start, nil
}

// Release returns the unused tail of a reservation after a broadcast error. used is how
// many of the n nonces starting at start reached the node. When a later reservation
// already exists the gap cannot be handed back, so the next Reserve starts over from
// the node's count instead.
func (m *NonceManager) Release(start uint64, n, used int) {
	if used >= n {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.synced && start+uint64(n) == m.next {
		m.next = start + uint64(used)
		return
	}
	m.synced = false
	m.logger.Debug("Nonce window dropped, resyncing from node",
		zap.String("address", m.address.Hex()),
		zap.Uint64("start", start),
		zap.Int("unused", n-used))
}
