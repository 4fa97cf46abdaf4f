package consensus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/sqlitedb"
	"github.com/kazz187/triguild/pkg/cerr"
)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps sessions, ballots and the audit trail in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreateRequest struct {
	TaskID      string
	Description string
	Implementer agent.Kind
	Scope       string
}

func (s *Store) CreateSession(ctx context.Context, req *CreateRequest) (*Session, error) {
	if req.TaskID == "" {
		return nil, cerr.Errorf(cerr.InvalidArgument, "task id is required").WithViolation("task_id", "must not be empty")
	}
	if !isVoter(req.Implementer) {
		return nil, cerr.Errorf(cerr.InvalidArgument, "implementer must be claude, codex or gemini, got %q", req.Implementer).
			WithViolation("implementer", "must be a CLI agent")
	}
	now := s.now()
	sess := &Session{
		ID:          fmt.Sprintf("CS-%s-%s-%s", now.Format("20060102150405"), req.TaskID, uuid.NewString()[:8]),
		TaskID:      req.TaskID,
		Description: req.Description,
		Implementer: req.Implementer,
		Scope:       req.Scope,
		CreatedAt:   now,
		Result:      ResultPending,
	}
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO consensus_sessions
			(id, task_id, description, implementer, scope, created_at, final_result) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.TaskID, sess.Description, string(sess.Implementer), sess.Scope,
			sqlitedb.FormatTime(now), string(ResultPending))
		if err != nil {
			return fmt.Errorf("failed to create consensus session: %w", err)
		}
		return s.audit(ctx, tx, sess.ID, "SESSION_CREATED",
			fmt.Sprintf("Task: %s, Implementer: %s", sess.TaskID, sess.Implementer))
	})
	if err != nil {
		return nil, wrap(err)
	}
	slog.InfoContext(ctx, "consensus session created", slog.String("session_id", sess.ID), slog.String("implementer", string(sess.Implementer)))
	return sess, nil
}

func isVoter(k agent.Kind) bool {
	for _, c := range agent.CLIKinds {
		if c == k {
			return true
		}
	}
	return false
}

// RecordVote stores b, replacing an earlier ballot by the same agent.
func (s *Store) RecordVote(ctx context.Context, b *Ballot) error {
	if !isVoter(b.Agent) {
		return cerr.Errorf(cerr.InvalidArgument, "unknown voter %q", b.Agent)
	}
	if _, err := ParseVote(string(b.Vote)); err != nil {
		return cerr.NewError(cerr.InvalidArgument, err.Error(), nil).WithViolation("vote", err.Error())
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	return wrap(sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var implementer string
		err := tx.QueryRowContext(ctx, `SELECT implementer FROM consensus_sessions WHERE id = ?`, b.SessionID).Scan(&implementer)
		if errors.Is(err, sql.ErrNoRows) {
			return cerr.Errorf(cerr.NotFound, "consensus session %s not found", b.SessionID)
		}
		if err != nil {
			return err
		}
		if implementer == string(b.Agent) {
			return cerr.NewError(cerr.FailedPrecondition,
				fmt.Sprintf("%s implemented this change and cannot vote on it", b.Agent), ErrImplementerVote)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO consensus_votes
			(session_id, agent, vote, confidence, reason, evidence, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, agent) DO UPDATE SET
				vote = excluded.vote, confidence = excluded.confidence, reason = excluded.reason,
				evidence = excluded.evidence, duration_ms = excluded.duration_ms, created_at = excluded.created_at`,
			b.SessionID, string(b.Agent), string(b.Vote), b.Confidence, b.Reason, b.Evidence,
			b.Duration.Milliseconds(), sqlitedb.FormatTime(b.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to record vote: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE consensus_sessions SET
			approvals = (SELECT COUNT(*) FROM consensus_votes WHERE session_id = ? AND vote = 'APPROVE'),
			rejections = (SELECT COUNT(*) FROM consensus_votes WHERE session_id = ? AND vote = 'REJECT')
			WHERE id = ?`, b.SessionID, b.SessionID, b.SessionID)
		if err != nil {
			return fmt.Errorf("failed to update vote counts: %w", err)
		}
		return s.audit(ctx, tx, b.SessionID, "VOTE_RECORDED", fmt.Sprintf("Agent: %s, Vote: %s", b.Agent, b.Vote))
	}))
}

// Decide applies the two-out-of-three rule to vote counts.
func Decide(counts map[Vote]int) Result {
	total := 0
	for _, n := range counts {
		total += n
	}
	errs := counts[VoteError] + counts[VoteTimeout]
	switch {
	case counts[VoteApprove] >= MinApprovals:
		return ResultPass
	case counts[VoteReject] >= MinApprovals:
		return ResultFail
	case total >= 2 && errs > 0:
		return ResultInconclusive
	}
	return ResultPending
}

// Evaluate decides the session from its ballots and stores the result.
// CompletedAt is set once the result is no longer pending.
func (s *Store) Evaluate(ctx context.Context, sessionID string) (Result, error) {
	var result Result
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := getSession(ctx, tx, sessionID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, `SELECT vote, COUNT(*) FROM consensus_votes WHERE session_id = ? GROUP BY vote`, sessionID)
		if err != nil {
			return err
		}
		counts := map[Vote]int{}
		for rows.Next() {
			var (
				v Vote
				n int
			)
			if err := rows.Scan(&v, &n); err != nil {
				rows.Close()
				return err
			}
			counts[v] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		result = Decide(counts)
		var completed *time.Time
		if result != ResultPending {
			now := s.now()
			completed = &now
		}
		if _, err := tx.ExecContext(ctx, `UPDATE consensus_sessions SET final_result = ?, completed_at = ? WHERE id = ?`,
			string(result), sqlitedb.NullTime(completed), sessionID); err != nil {
			return err
		}
		return s.audit(ctx, tx, sessionID, "CONSENSUS_EVALUATED", fmt.Sprintf("Result: %s, Approvals: %d, Rejections: %d",
			result, counts[VoteApprove], counts[VoteReject]))
	})
	return result, wrap(err)
}

const sessionColumns = `id, task_id, description, implementer, scope, created_at, completed_at, final_result, approvals, rejections`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var (
		sess      Session
		created   string
		completed sql.NullString
	)
	if err := r.Scan(&sess.ID, &sess.TaskID, &sess.Description, &sess.Implementer, &sess.Scope,
		&created, &completed, &sess.Result, &sess.Approvals, &sess.Rejections); err != nil {
		return nil, err
	}
	var err error
	if sess.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, err
	}
	if sess.CompletedAt, err = sqlitedb.TimePtr(completed); err != nil {
		return nil, err
	}
	return &sess, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSession(ctx context.Context, q querier, id string) (*Session, error) {
	sess, err := scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM consensus_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.Errorf(cerr.NotFound, "consensus session %s not found", id)
	}
	return sess, err
}

func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := getSession(ctx, s.db, id)
	return sess, wrap(err)
}

// List returns sessions newest first, optionally only those for taskID.
func (s *Store) List(ctx context.Context, taskID string, limit int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM consensus_sessions`
	var args []any
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrap(err)
		}
		out = append(out, sess)
	}
	return out, wrap(rows.Err())
}

func (s *Store) Ballots(ctx context.Context, sessionID string) ([]*Ballot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, agent, vote, confidence, reason, evidence, duration_ms, created_at
		FROM consensus_votes WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	var out []*Ballot
	for rows.Next() {
		var (
			b       Ballot
			ms      int64
			created string
		)
		if err := rows.Scan(&b.SessionID, &b.Agent, &b.Vote, &b.Confidence, &b.Reason, &b.Evidence, &ms, &created); err != nil {
			return nil, wrap(err)
		}
		b.Duration = time.Duration(ms) * time.Millisecond
		if b.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
			return nil, wrap(err)
		}
		out = append(out, &b)
	}
	return out, wrap(rows.Err())
}

func (s *Store) History(ctx context.Context, sessionID string) ([]*HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, action, details, created_at
		FROM consensus_history WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	var out []*HistoryEntry
	for rows.Next() {
		var (
			h       HistoryEntry
			created string
		)
		if err := rows.Scan(&h.SessionID, &h.Action, &h.Details, &created); err != nil {
			return nil, wrap(err)
		}
		if h.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
			return nil, wrap(err)
		}
		out = append(out, &h)
	}
	return out, wrap(rows.Err())
}

// Metrics summarizes sessions created in the last days days.
func (s *Store) Metrics(ctx context.Context, days int) (*Metrics, error) {
	since := s.now().AddDate(0, 0, -days)
	var (
		m   Metrics
		avg sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN final_result = 'PASS' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN final_result = 'FAIL' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN final_result = 'INCONCLUSIVE' THEN 1 ELSE 0 END), 0),
			AVG(approvals)
		FROM consensus_sessions WHERE created_at >= ?`, sqlitedb.FormatTime(since)).
		Scan(&m.Total, &m.Passed, &m.Failed, &m.Inconclusive, &avg)
	if err != nil {
		return nil, wrap(err)
	}
	m.AvgApprovals = avg.Float64
	if m.Total > 0 {
		m.PassRate = math.Round(1000*float64(m.Passed)/float64(m.Total)) / 10
	}
	return &m, nil
}

func (s *Store) audit(ctx context.Context, tx *sql.Tx, sessionID, action, details string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO consensus_history (session_id, action, details, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, action, details, sqlitedb.FormatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to write consensus audit: %w", err)
	}
	return nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	var ce *cerr.Error
	if errors.As(err, &ce) {
		return err
	}
	return cerr.NewError(cerr.Internal, "server error", err)
}
