// Package events carries engine notifications from producers (coordinator, bundle
// builder, aggregator) to any number of subscribers over bounded channels.
package events

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// Kind names an event stream
type Kind string

const (
	KindOpportunity Kind = "opportunity"
	KindExecution   Kind = "execution"
	KindRevert      Kind = "revert"
	KindProtection  Kind = "protection"
	KindAlert       Kind = "alert"
	KindProfit      Kind = "profit"
)

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 256

// Event is one notification. Payload is one of the payload types in this package or a
// types.Alert for KindAlert.
type Event struct {
	Kind    Kind
	Time    time.Time
	Payload interface{}
}

// Opportunity is published for every route that passes the profitability gate
type Opportunity struct {
	Route     *types.Route
	NetProfit *big.Int
}

// Execution is published when a bundle reaches a terminal or ambiguous outcome
type Execution struct {
	BundleID string
	Route    string
	Status   types.BundleStatus
	Hashes   []common.Hash
	Profit   *big.Int
	GasUsed  uint64
}

// Revert is published when a simulation fails
type Revert struct {
	Route  string
	Backup int
	Reason string
}

// Protection is published when an attempt is aborted to avoid being frontrun
type Protection struct {
	Route  string
	Reason string
}

// Profit is published after a successful harvest
type Profit struct {
	BundleID string
	Realized *big.Int
	ToVault  *big.Int
	Retained *big.Int
	TxHash   common.Hash
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

type nop struct{}

func (nop) Publish(Event) {}

// Nop discards everything
func Nop() Publisher { return nop{} }

type subscriber struct {
	ch    chan Event
	kinds map[Kind]struct{}
}

func (s *subscriber) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus fans events out to subscribers. A slow subscriber loses events rather than
// stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	buffer int
	closed bool
	logger *zap.Logger

	metrics struct {
		published *prometheus.CounterVec
		dropped   *prometheus.CounterVec
	}
}

// NewBus creates a bus with buffer slots per subscriber
func NewBus(buffer int, reg prometheus.Registerer, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
		logger: logger,
	}

	f := metrics.Factory(reg)
	b.metrics.published = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events published by kind",
	}, []string{"kind"})
	b.metrics.dropped = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because a subscriber was full",
	}, []string{"kind"})
	return b
}

// Subscribe returns a channel receiving events of the given kinds, or of every kind
// when none are given. The returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscriber{
		ch:    make(chan Event, b.buffer),
		kinds: make(map[Kind]struct{}, len(kinds)),
	}
	for _, k := range kinds {
		s.kinds[k] = struct{}{}
	}
	if b.closed {
		close(s.ch)
		return s.ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish delivers e to every interested subscriber without blocking
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.metrics.published.WithLabelValues(string(e.Kind)).Inc()
	for _, s := range b.subs {
		if !s.wants(e.Kind) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.metrics.dropped.WithLabelValues(string(e.Kind)).Inc()
			b.logger.Debug("Dropped event for slow subscriber", zap.String("kind", string(e.Kind)))
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}

// Dropped returns how many events of kind were dropped
func (b *Bus) Dropped(kind Kind) float64 {
	return metrics.CounterValue(b.metrics.dropped.WithLabelValues(string(kind)))
}
