package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	_ "modernc.org/sqlite"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 2

// ErrSchemaMismatch indicates an on-disk ledger from a different release.
var ErrSchemaMismatch = errors.New("ledger schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteStore is the durable ledger backed by a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	clock  func() time.Time
}

// OpenSQLite opens (creating if needed) the ledger database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, logger: logger, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("ledger opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit schema: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) now() string {
	return s.clock().UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) Create(ctx context.Context, topic pipeline.Topic) (*pipeline.Status, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}
	now := s.now()
	if topic.CreatedAt.IsZero() {
		topic.CreatedAt = s.clock().UTC()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO topics (topic_id, request_id, category, title, description, difficulty, chapters, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			topic.ID, topic.RequestID, topic.Category, topic.Title, topic.Description,
			string(topic.Difficulty), topic.Chapters, topic.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return &pipeline.ConsistencyError{TopicID: topic.ID, Reason: "topic already exists"}
			}
			return fmt.Errorf("insert topic: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pipeline_status (topic_id, stage, intro_complete, created_at, updated_at)
             VALUES (?, ?, 0, ?, ?)`,
			topic.ID, string(pipeline.StageAccepted), now, now,
		)
		if err != nil {
			return fmt.Errorf("insert status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, topic.ID)
}

func (s *SQLiteStore) Topic(ctx context.Context, topicID string) (*pipeline.Topic, error) {
	var (
		t          pipeline.Topic
		difficulty string
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT topic_id, request_id, category, title, description, difficulty, chapters, created_at
         FROM topics WHERE topic_id = ?`, topicID,
	).Scan(&t.ID, &t.RequestID, &t.Category, &t.Title, &t.Description, &difficulty, &t.Chapters, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipeline.NotFound(topicID)
	}
	if err != nil {
		return nil, fmt.Errorf("select topic: %w", err)
	}
	t.Difficulty = pipeline.Difficulty(difficulty)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func (s *SQLiteStore) Get(ctx context.Context, topicID string) (*pipeline.Status, error) {
	return readStatus(ctx, s.db, topicID)
}

func (s *SQLiteStore) Update(ctx context.Context, topicID string, u Update) (*pipeline.Status, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}

	var result *pipeline.Status
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			stage    string
			chapters int
		)
		err := tx.QueryRowContext(ctx,
			`SELECT ps.stage, t.chapters FROM pipeline_status ps
             JOIN topics t ON t.topic_id = ps.topic_id WHERE ps.topic_id = ?`, topicID,
		).Scan(&stage, &chapters)
		if errors.Is(err, sql.ErrNoRows) {
			return pipeline.NotFound(topicID)
		}
		if err != nil {
			return fmt.Errorf("select stage: %w", err)
		}
		if pipeline.Stage(stage) == pipeline.StageFailed {
			if u.Stage == pipeline.StageFailed || u.releaseOnly() {
				if err := releaseClaim(ctx, tx, topicID, u.Release); err != nil {
					return err
				}
				result, err = readStatus(ctx, tx, topicID)
				return err
			}
			return fmt.Errorf("topic %s: %w", topicID, pipeline.ErrTopicFailed)
		}

		now := s.now()
		if u.Claim != nil {
			if err := s.takeClaim(ctx, tx, topicID, u.Claim); err != nil {
				return err
			}
		}
		if err := s.mergeFields(ctx, tx, topicID, u, now); err != nil {
			return err
		}

		cur, err := readStatus(ctx, tx, topicID)
		if err != nil {
			return err
		}
		apply, err := checkStage(cur, chapters, u.Stage)
		if err != nil {
			return err
		}
		if apply {
			var reason any
			if u.Stage == pipeline.StageFailed {
				reason = u.FailureReason
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE pipeline_status SET stage = ?, failure_reason = COALESCE(?, failure_reason)
                 WHERE topic_id = ? AND stage = ?`,
				string(u.Stage), reason, topicID, stage,
			)
			if err != nil {
				return fmt.Errorf("update stage: %w", err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				return &pipeline.ConsistencyError{TopicID: topicID, Reason: "stage changed concurrently"}
			}
		}

		if err := releaseClaim(ctx, tx, topicID, u.Release); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE pipeline_status SET updated_at = ? WHERE topic_id = ?`, now, topicID,
		); err != nil {
			return fmt.Errorf("touch status: %w", err)
		}

		result, err = readStatus(ctx, tx, topicID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// takeClaim writes c unless another owner's lease is live. The transaction
// holds the write lock, so the read and the write cannot interleave with
// another claimant.
func (s *SQLiteStore) takeClaim(ctx context.Context, tx *sql.Tx, topicID string, c *Claim) error {
	var owner, expires string
	err := tx.QueryRowContext(ctx,
		`SELECT owner, expires_at FROM claims WHERE topic_id = ? AND name = ?`, topicID, c.Name,
	).Scan(&owner, &expires)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("select claim %s: %w", c.Name, err)
	}
	now := s.clock().UTC()
	if err := checkClaim(topicID, c, owner, parseTime(expires), now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO claims (topic_id, name, owner, expires_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(topic_id, name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at`,
		topicID, c.Name, c.Owner, now.Add(c.TTL).Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("write claim %s: %w", c.Name, err)
	}
	return nil
}

func releaseClaim(ctx context.Context, tx *sql.Tx, topicID string, c *Claim) error {
	if c == nil {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM claims WHERE topic_id = ? AND name = ? AND owner = ?`, topicID, c.Name, c.Owner,
	); err != nil {
		return fmt.Errorf("release claim %s: %w", c.Name, err)
	}
	return nil
}

// mergeFields writes only the rows and columns named in u. Content flags and
// a unit's jobs are recorded once; a repeat is a ConsistencyError.
func (s *SQLiteStore) mergeFields(ctx context.Context, tx *sql.Tx, topicID string, u Update, now string) error {
	if u.IntroComplete {
		res, err := tx.ExecContext(ctx,
			`UPDATE pipeline_status SET intro_complete = 1 WHERE topic_id = ? AND intro_complete = 0`, topicID,
		)
		if err != nil {
			return fmt.Errorf("set intro_complete: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return alreadyRecorded(topicID, "introduction already recorded")
		}
	}
	for _, n := range u.ChaptersComplete {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO chapters_complete (topic_id, chapter) VALUES (?, ?)`, topicID, n,
		)
		if err != nil {
			return fmt.Errorf("set chapter %d complete: %w", n, err)
		}
		if added, _ := res.RowsAffected(); added == 0 {
			return alreadyRecorded(topicID, fmt.Sprintf("chapter %d already recorded", n))
		}
	}
	for unit, state := range u.AudioComplete {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audio_complete (topic_id, unit_key, state) VALUES (?, ?, ?)
             ON CONFLICT(topic_id, unit_key) DO UPDATE SET state = excluded.state`,
			topicID, unit, string(state),
		); err != nil {
			return fmt.Errorf("set audio state for %s: %w", unit, err)
		}
	}
	checked := make(map[string]bool)
	for _, j := range u.AppendJobs {
		if checked[j.UnitKey] {
			continue
		}
		checked[j.UnitKey] = true
		var existing int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM synthesis_jobs WHERE topic_id = ? AND unit_key = ?`, topicID, j.UnitKey,
		).Scan(&existing); err != nil {
			return fmt.Errorf("count jobs for %s: %w", j.UnitKey, err)
		}
		if existing > 0 {
			return alreadyRecorded(topicID, fmt.Sprintf("%s already has synthesis jobs", j.UnitKey))
		}
	}
	for _, j := range u.AppendJobs {
		status := j.Status
		if status == "" {
			status = pipeline.JobInProgress
		}
		submitted := now
		if !j.SubmittedAt.IsZero() {
			submitted = j.SubmittedAt.UTC().Format(time.RFC3339Nano)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO synthesis_jobs (topic_id, job_id, unit_key, chunk_index, output_key, status, submitted_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			topicID, j.JobID, j.UnitKey, j.ChunkIndex, j.OutputKey, string(status), submitted, submitted,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return &pipeline.ConsistencyError{TopicID: topicID, Reason: fmt.Sprintf("job %s already recorded", j.JobID)}
			}
			return fmt.Errorf("append job %s: %w", j.JobID, err)
		}
	}
	for id, status := range u.JobStatuses {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM synthesis_jobs WHERE topic_id = ? AND job_id = ?`, topicID, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("lookup job %s: %w", id, err)
		}
		if exists == 0 {
			return &pipeline.ConsistencyError{TopicID: topicID, Reason: fmt.Sprintf("unknown job %s", id)}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE synthesis_jobs SET status = ?, updated_at = ?
             WHERE topic_id = ? AND job_id = ? AND status = ?`,
			string(status), now, topicID, id, string(pipeline.JobInProgress),
		); err != nil {
			return fmt.Errorf("update job %s: %w", id, err)
		}
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readStatus(ctx context.Context, q querier, topicID string) (*pipeline.Status, error) {
	var (
		stage   string
		intro   int
		reason  sql.NullString
		created string
		updated string
	)
	err := q.QueryRowContext(ctx,
		`SELECT stage, intro_complete, failure_reason, created_at, updated_at
         FROM pipeline_status WHERE topic_id = ?`, topicID,
	).Scan(&stage, &intro, &reason, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipeline.NotFound(topicID)
	}
	if err != nil {
		return nil, fmt.Errorf("select status: %w", err)
	}

	st := newStatus(topicID, parseTime(created))
	st.Stage = pipeline.Stage(stage)
	st.IntroComplete = intro == 1
	st.FailureReason = reason.String
	st.UpdatedAt = parseTime(updated)

	rows, err := q.QueryContext(ctx, `SELECT chapter FROM chapters_complete WHERE topic_id = ?`, topicID)
	if err != nil {
		return nil, fmt.Errorf("select chapters: %w", err)
	}
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		st.ChaptersComplete[n] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT unit_key, state FROM audio_complete WHERE topic_id = ?`, topicID)
	if err != nil {
		return nil, fmt.Errorf("select audio states: %w", err)
	}
	for rows.Next() {
		var unit, state string
		if err := rows.Scan(&unit, &state); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan audio state: %w", err)
		}
		st.AudioComplete[unit] = pipeline.AudioState(state)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT job_id, unit_key, chunk_index, output_key, status, submitted_at, updated_at
         FROM synthesis_jobs WHERE topic_id = ? ORDER BY seq`, topicID)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			j                  pipeline.SynthesisJob
			status             string
			submitted, touched string
		)
		if err := rows.Scan(&j.JobID, &j.UnitKey, &j.ChunkIndex, &j.OutputKey, &status, &submitted, &touched); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Status = pipeline.JobStatus(status)
		j.SubmittedAt = parseTime(submitted)
		j.UpdatedAt = parseTime(touched)
		st.SynthesisJobs = append(st.SynthesisJobs, j)
	}
	return st, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retry.Do(
		func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin tx: %w", err)
			}
			if err := fn(tx); err != nil {
				_ = tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit: %w", err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.RetryIf(isSQLiteBusy),
		retry.Attempts(busyRetryAttempts),
		retry.Delay(busyRetryInitialBackoff),
		retry.MaxDelay(busyRetryMaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
