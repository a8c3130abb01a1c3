package journal

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/testutils"
)

func openStore(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(id string, target uint64, hashes ...common.Hash) Entry {
	return Entry{
		BundleID:       id,
		Route:          "dex_a:X>Y|dex_b:Y>X",
		Hashes:         hashes,
		TargetBlock:    target,
		ExpectedProfit: big.NewInt(77500000000000000),
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }

	h1, h2 := common.HexToHash("0x01"), common.HexToHash("0x02")
	require.NoError(t, s.RecordPending(ctx, entry("b1", 101, h1, h2)))
	clock = clock.Add(time.Second)
	require.NoError(t, s.RecordPending(ctx, entry("b2", 102, common.HexToHash("0x03"))))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b1", pending[0].BundleID)
	assert.Equal(t, []common.Hash{h1, h2}, pending[0].Hashes)
	assert.Equal(t, uint64(101), pending[0].TargetBlock)
	assert.Equal(t, big.NewInt(77500000000000000), pending[0].ExpectedProfit)
	assert.Equal(t, types.BundlePending, pending[0].Status)
	assert.Equal(t, clock.Add(-time.Second), pending[0].CreatedAt)

	t.Run("resolve", func(t *testing.T) {
		require.NoError(t, s.Resolve(ctx, "b1", types.BundleIncluded))
		pending, err := s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "b2", pending[0].BundleID)

		got, err := s.Get(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, types.BundleIncluded, got.Status)
		assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.resolved.WithLabelValues("included")))
	})

	t.Run("rejects non terminal status", func(t *testing.T) {
		assert.Error(t, s.Resolve(ctx, "b2", types.BundlePending))
	})

	t.Run("unknown bundle", func(t *testing.T) {
		assert.ErrorIs(t, s.Resolve(ctx, "nope", types.BundleFailed), ErrNotFound)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("id required", func(t *testing.T) {
		assert.Error(t, s.RecordPending(ctx, Entry{}))
	})

	assert.Equal(t, float64(2), testutil.ToFloat64(s.metrics.recorded))
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := Open(path, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.RecordPending(ctx, entry("b1", 101, common.HexToHash("0x01"))))
	require.NoError(t, s.Close())

	s, err = Open(path, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b1", pending[0].BundleID)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	provider := testutils.NewMockProvider()

	included1, included2 := common.HexToHash("0x11"), common.HexToHash("0x12")
	reverted := common.HexToHash("0x21")
	unmined := common.HexToHash("0x31")
	late := common.HexToHash("0x41")

	require.NoError(t, s.RecordPending(ctx, entry("included", 99, included1, included2)))
	require.NoError(t, s.RecordPending(ctx, entry("reverted", 99, reverted)))
	require.NoError(t, s.RecordPending(ctx, entry("expired", 97, unmined)))
	require.NoError(t, s.RecordPending(ctx, entry("recent", 99, late)))

	provider.SetReceipt(included1, 99, true)
	provider.SetReceipt(included2, 99, true)
	provider.SetReceipt(reverted, 99, false)

	r := NewReconciler(s, provider, DefaultConfirmations, zaptest.NewLogger(t))
	report, err := r.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, 1, report.Included)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.StillPending)
	require.Len(t, report.Resolved, 3)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "recent", pending[0].BundleID)

	got, err := s.Get(ctx, "expired")
	require.NoError(t, err)
	assert.Equal(t, types.BundleFailed, got.Status)

	t.Run("mined later", func(t *testing.T) {
		provider.SetReceipt(late, 101, true)
		report, err := r.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Included)
		assert.Zero(t, report.StillPending)
	})

	t.Run("nothing pending skips the node", func(t *testing.T) {
		provider.BlockNumberFn = func() (uint64, error) { return 0, errors.New("down") }
		report, err := r.Reconcile(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Checked)
	})
}

func TestReconcileNodeDown(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.RecordPending(ctx, entry("b1", 99, common.HexToHash("0x01"))))

	provider := testutils.NewMockProvider()
	provider.BlockNumberFn = func() (uint64, error) { return 0, errors.New("down") }

	_, err := NewReconciler(s, provider, DefaultConfirmations, zaptest.NewLogger(t)).Reconcile(ctx)
	assert.Error(t, err)
}
