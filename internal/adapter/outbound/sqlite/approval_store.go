// Package sqlite provides a persistent approval.Backend backed by
// modernc.org/sqlite, for deployments that need approval state to survive
// a restart (spec §4.6 calls for the backend contract to be implementable
// by both in-memory and remote/persistent stores).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/policyshield/policyshield/internal/domain/approval"
	"github.com/policyshield/policyshield/internal/domain/rule"
)

// pollInterval is how often WaitForResponse re-checks request status. SQLite
// has no notification primitive, so waiters poll the table.
const pollInterval = 100 * time.Millisecond

// DefaultMaxPending, DefaultTTL and DefaultSweepInterval mirror the
// in-memory backend's fallbacks (spec §4.6) so either backend behaves the
// same way under default configuration.
const (
	DefaultMaxPending    = 100
	DefaultTTL           = time.Hour
	DefaultSweepInterval = time.Minute
)

// ApprovalStore implements approval.Backend on a single-writer SQLite
// database opened in WAL mode. Pending rows past ttl are swept into
// StatusTimeout, and the table is bounded to maxPending simultaneously
// pending rows, auto-denying the oldest once at capacity — mirroring
// memory.ApprovalStore's bounds so either backend behaves the same way.
type ApprovalStore struct {
	db         *sql.DB
	maxPending int
	ttl        time.Duration

	insertStmt        *sql.Stmt
	getStmt           *sql.Stmt
	respondStmt       *sql.Stmt
	statusStmt        *sql.Stmt
	listPendingStmt   *sql.Stmt
	countPendingStmt  *sql.Stmt
	oldestPendingStmt *sql.Stmt
	expireStaleStmt   *sql.Stmt

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewApprovalStore opens (creating if absent) the SQLite database at path
// and prepares its schema and statements. A non-positive maxPending falls
// back to DefaultMaxPending, and a non-positive ttl falls back to DefaultTTL.
func NewApprovalStore(path string, maxPending int, ttl time.Duration) (*ApprovalStore, error) {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &ApprovalStore{db: db, maxPending: maxPending, ttl: ttl, stopChan: make(chan struct{})}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: prepare statements: %w", err)
	}
	return s, nil
}

func (s *ApprovalStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS approval_requests (
		id           TEXT PRIMARY KEY,
		tool         TEXT NOT NULL,
		args_json    TEXT,
		rule_id      TEXT,
		message      TEXT,
		session_id   TEXT,
		strategy     TEXT,
		created_at   INTEGER NOT NULL,
		status       TEXT NOT NULL,
		responder    TEXT,
		responded_at INTEGER,
		comment      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_approval_requests_status ON approval_requests(status);
	CREATE INDEX IF NOT EXISTS idx_approval_requests_status_created ON approval_requests(status, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *ApprovalStore) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO approval_requests (id, tool, args_json, rule_id, message, session_id, strategy, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return err
	}

	s.getStmt, err = s.db.Prepare(`
		SELECT id, tool, args_json, rule_id, message, session_id, strategy, created_at, status, responder, responded_at, comment
		FROM approval_requests WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.respondStmt, err = s.db.Prepare(`
		UPDATE approval_requests
		SET status = ?, responder = ?, responded_at = ?, comment = ?
		WHERE id = ? AND status = ?
	`)
	if err != nil {
		return err
	}

	s.statusStmt, err = s.db.Prepare(`SELECT status FROM approval_requests WHERE id = ?`)
	if err != nil {
		return err
	}

	s.listPendingStmt, err = s.db.Prepare(`
		SELECT id, tool, args_json, rule_id, message, session_id, strategy, created_at, status, responder, responded_at, comment
		FROM approval_requests WHERE status = ? ORDER BY created_at ASC
	`)
	if err != nil {
		return err
	}

	s.countPendingStmt, err = s.db.Prepare(`SELECT COUNT(*) FROM approval_requests WHERE status = ?`)
	if err != nil {
		return err
	}

	s.oldestPendingStmt, err = s.db.Prepare(`
		SELECT id FROM approval_requests WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`)
	if err != nil {
		return err
	}

	s.expireStaleStmt, err = s.db.Prepare(`
		UPDATE approval_requests SET status = ?
		WHERE status = ? AND created_at <= ?
	`)
	return err
}

// Submit stores req, generating row fields from req.ID (the caller is
// expected to have assigned one) and req.CreatedAt. Once at maxPending
// simultaneously pending rows, the oldest pending row is auto-denied to
// make room, the same way memory.ApprovalStore evicts on capacity.
func (s *ApprovalStore) Submit(ctx context.Context, req approval.Request) (string, error) {
	if err := s.evictOldestIfAtCapacity(ctx); err != nil {
		return "", err
	}

	argsJSON, err := json.Marshal(req.Args)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal args: %w", err)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.Status == "" {
		req.Status = approval.StatusPending
	}

	_, err = s.insertStmt.ExecContext(ctx,
		req.ID, req.Tool, string(argsJSON), req.RuleID, req.Message, req.SessionID, string(req.Strategy),
		req.CreatedAt.Unix(), string(req.Status),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: insert request: %w", err)
	}
	return req.ID, nil
}

func (s *ApprovalStore) evictOldestIfAtCapacity(ctx context.Context) error {
	var count int
	if err := s.countPendingStmt.QueryRowContext(ctx, string(approval.StatusPending)).Scan(&count); err != nil {
		return fmt.Errorf("sqlite: count pending: %w", err)
	}
	if count < s.maxPending {
		return nil
	}

	rows, err := s.oldestPendingStmt.QueryContext(ctx, string(approval.StatusPending), count-s.maxPending+1)
	if err != nil {
		return fmt.Errorf("sqlite: find oldest pending: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: scan oldest pending: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := s.respondStmt.ExecContext(ctx,
			string(approval.StatusDenied), "", time.Now().Unix(), "evicted: approval store at capacity",
			id, string(approval.StatusPending),
		); err != nil {
			return fmt.Errorf("sqlite: evict oldest pending: %w", err)
		}
	}
	return nil
}

// Respond resolves a pending request if, and only if, it is still pending.
// The WHERE clause's status = StatusPending guard makes the update atomic
// against a concurrent responder: exactly one of two racing calls affects a
// row.
func (s *ApprovalStore) Respond(ctx context.Context, id string, approved bool, responder, comment string) error {
	status := approval.StatusDenied
	if approved {
		status = approval.StatusApproved
	}

	result, err := s.respondStmt.ExecContext(ctx, string(status), responder, time.Now().Unix(), comment, id, string(approval.StatusPending))
	if err != nil {
		return fmt.Errorf("sqlite: respond: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: respond rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetStatus(ctx, id); err != nil {
			return err
		}
		return approval.ErrAlreadyResolved
	}
	return nil
}

// GetStatus returns the current request row, first resolving it into
// StatusTimeout inline if it is still pending and past ttl — the same
// age-based transition the background sweep performs, so a poller never
// has to wait for the next sweep tick.
func (s *ApprovalStore) GetStatus(ctx context.Context, id string) (approval.Request, error) {
	req, err := s.scanOne(ctx, id)
	if err != nil {
		return approval.Request{}, err
	}
	if req.Status == approval.StatusPending && time.Since(req.CreatedAt) >= s.ttl {
		if _, err := s.expireStaleStmt.ExecContext(ctx, string(approval.StatusTimeout), string(approval.StatusPending), req.CreatedAt.Unix()); err != nil {
			return approval.Request{}, fmt.Errorf("sqlite: expire stale: %w", err)
		}
		req.Status = approval.StatusTimeout
	}
	return req, nil
}

// WaitForResponse polls the row until it leaves StatusPending or timeout
// elapses.
func (s *ApprovalStore) WaitForResponse(ctx context.Context, id string, timeout time.Duration) (approval.Response, error) {
	req, err := s.scanOne(ctx, id)
	if err != nil {
		return approval.Response{}, err
	}
	if req.Status != approval.StatusPending {
		return approval.Response{Status: req.Status, Responder: req.Responder, Comment: req.Comment}, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return approval.Response{}, ctx.Err()
		case <-deadline.C:
			return approval.Response{Status: approval.StatusTimeout}, nil
		case <-ticker.C:
			var status string
			if err := s.statusStmt.QueryRowContext(ctx, id).Scan(&status); err != nil {
				if err == sql.ErrNoRows {
					return approval.Response{}, approval.ErrNotFound
				}
				return approval.Response{}, fmt.Errorf("sqlite: poll status: %w", err)
			}
			if approval.Status(status) != approval.StatusPending {
				req, err := s.scanOne(ctx, id)
				if err != nil {
					return approval.Response{}, err
				}
				return approval.Response{Status: req.Status, Responder: req.Responder, Comment: req.Comment}, nil
			}
		}
	}
}

func (s *ApprovalStore) scanOne(ctx context.Context, id string) (approval.Request, error) {
	req, err := scanRequestRow(s.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Request{}, approval.ErrNotFound
	}
	return req, err
}

// ListPending returns every request still in StatusPending, oldest first,
// expiring any row past ttl into StatusTimeout before reporting it.
func (s *ApprovalStore) ListPending(ctx context.Context) ([]approval.Request, error) {
	if err := s.expireStale(ctx); err != nil {
		return nil, err
	}

	rows, err := s.listPendingStmt.QueryContext(ctx, string(approval.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending: %w", err)
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		req, err := scanRequestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *ApprovalStore) expireStale(ctx context.Context) error {
	cutoff := time.Now().Add(-s.ttl).Unix()
	_, err := s.expireStaleStmt.ExecContext(ctx, string(approval.StatusTimeout), string(approval.StatusPending), cutoff)
	if err != nil {
		return fmt.Errorf("sqlite: expire stale: %w", err)
	}
	return nil
}

// StartSweep launches the background TTL sweep goroutine on the given
// interval (DefaultSweepInterval if non-positive). Safe to call at most
// once per ApprovalStore.
func (s *ApprovalStore) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				if err := s.expireStale(context.Background()); err != nil {
					slog.Error("approval sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit. Safe to call
// multiple times. Does not close the database; call Close for that.
func (s *ApprovalStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequestRow(row rowScanner) (approval.Request, error) {
	var (
		req         approval.Request
		argsJSON    string
		strategy    string
		status      string
		createdAt   int64
		responder   sql.NullString
		respondedAt sql.NullInt64
		comment     sql.NullString
	)

	if err := row.Scan(
		&req.ID, &req.Tool, &argsJSON, &req.RuleID, &req.Message, &req.SessionID, &strategy,
		&createdAt, &status, &responder, &respondedAt, &comment,
	); err != nil {
		return approval.Request{}, fmt.Errorf("sqlite: scan request: %w", err)
	}

	req.CreatedAt = time.Unix(createdAt, 0)
	req.Status = approval.Status(status)
	req.Strategy = rule.ApprovalStrategy(strategy)
	req.Responder = responder.String
	req.Comment = comment.String
	if respondedAt.Valid {
		t := time.Unix(respondedAt.Int64, 0)
		req.RespondedAt = &t
	}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &req.Args); err != nil {
			return approval.Request{}, fmt.Errorf("sqlite: unmarshal args: %w", err)
		}
	}
	return req, nil
}

// Close releases the underlying database handle.
func (s *ApprovalStore) Close() error {
	return s.db.Close()
}

var _ approval.Backend = (*ApprovalStore)(nil)
