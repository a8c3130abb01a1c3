// Package journal persists bundles whose outcome was unknown when monitoring gave up,
// so a later reconciliation pass can settle them against chain receipts.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

var ErrNotFound = errors.New("bundle not in journal")

const schema = `
CREATE TABLE IF NOT EXISTS bundles (
	bundle_id       TEXT PRIMARY KEY,
	route           TEXT NOT NULL,
	hashes          TEXT NOT NULL,
	target_block    INTEGER NOT NULL,
	expected_profit TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS bundles_status ON bundles (status);
`

// Entry is one journaled bundle
type Entry struct {
	BundleID       string
	Route          string
	Hashes         []common.Hash
	TargetBlock    uint64
	ExpectedProfit *big.Int
	Status         types.BundleStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	metrics struct {
		recorded prometheus.Counter
		resolved *prometheus.CounterVec
	}
}

// Open opens or creates the journal at path in WAL mode
func Open(path string, reg prometheus.Registerer, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}

	s := &Store{db: db, logger: logger, now: time.Now}

	f := metrics.Factory(reg)
	s.metrics.recorded = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "journal",
		Name:      "recorded_total",
		Help:      "Bundles journaled as pending",
	})
	s.metrics.resolved = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "journal",
		Name:      "resolved_total",
		Help:      "Journaled bundles settled, by outcome",
	}, []string{"status"})

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordPending stores e as pending. Recording the same bundle again refreshes it.
func (s *Store) RecordPending(ctx context.Context, e Entry) error {
	if e.BundleID == "" {
		return errors.New("bundle id is required")
	}
	profit := "0"
	if e.ExpectedProfit != nil {
		profit = e.ExpectedProfit.String()
	}
	now := s.now().Unix()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bundles (bundle_id, route, hashes, target_block, expected_profit, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bundle_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		e.BundleID, e.Route, joinHashes(e.Hashes), e.TargetBlock, profit, string(types.BundlePending), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record bundle %s: %w", e.BundleID, err)
	}
	s.metrics.recorded.Inc()
	s.logger.Info("Bundle journaled as pending",
		zap.String("bundle_id", e.BundleID),
		zap.String("route", e.Route),
		zap.Uint64("target_block", e.TargetBlock))
	return nil
}

// ListPending returns the unresolved bundles, oldest first
func (s *Store) ListPending(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bundle_id, route, hashes, target_block, expected_profit, status, created_at, updated_at
		 FROM bundles WHERE status = ? ORDER BY created_at, bundle_id`,
		string(types.BundlePending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending bundles: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending bundles: %w", err)
	}
	return out, nil
}

// Get returns one journaled bundle
func (s *Store) Get(ctx context.Context, bundleID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bundle_id, route, hashes, target_block, expected_profit, status, created_at, updated_at
		 FROM bundles WHERE bundle_id = ?`, bundleID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// Resolve settles a journaled bundle as included or failed
func (s *Store) Resolve(ctx context.Context, bundleID string, status types.BundleStatus) error {
	if status != types.BundleIncluded && status != types.BundleFailed {
		return fmt.Errorf("cannot resolve bundle to %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE bundles SET status = ?, updated_at = ? WHERE bundle_id = ?`,
		string(status), s.now().Unix(), bundleID,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve bundle %s: %w", bundleID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.metrics.resolved.WithLabelValues(string(status)).Inc()
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                  Entry
		hashes, profit, st string
		created, updated   int64
	)
	if err := row.Scan(&e.BundleID, &e.Route, &hashes, &e.TargetBlock, &profit, &st, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("failed to scan bundle: %w", err)
	}
	e.Hashes = splitHashes(hashes)
	e.ExpectedProfit = new(big.Int)
	if _, ok := e.ExpectedProfit.SetString(profit, 10); !ok {
		return Entry{}, fmt.Errorf("bad expected profit %q for bundle %s", profit, e.BundleID)
	}
	e.Status = types.BundleStatus(st)
	e.CreatedAt = time.Unix(created, 0)
	e.UpdatedAt = time.Unix(updated, 0)
	return e, nil
}

func joinHashes(hashes []common.Hash) string {
	parts := make([]string, len(hashes))
	for i, h := range hashes {
		parts[i] = h.Hex()
	}
	return strings.Join(parts, ",")
}

func splitHashes(s string) []common.Hash {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]common.Hash, len(parts))
	for i, p := range parts {
		out[i] = common.HexToHash(p)
	}
	return out
}
