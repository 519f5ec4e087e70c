package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"mindlock/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// EnsureUser creates the user row if it does not exist yet and reports
// whether this call created it. Identity issuance is external; user rows
// appear lazily on first use of an authenticated id.
func (r Repo) EnsureUserTx(ctx context.Context, tx *sql.Tx, id, createdAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id,gems,created_at) VALUES (?,0,?)`, id, createdAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,gems,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Gems, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertTaskDef(ctx context.Context, t domain.TaskDefinition) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_defs(id,title,description,kind,duration_seconds,gem_reward,created_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.Kind, t.DurationSeconds, t.GemReward, t.CreatedAt)
	return err
}

// UpsertTaskDef inserts or refreshes a catalog entry. Used by seeding so
// config edits propagate on the next seed run.
func (r Repo) UpsertTaskDef(ctx context.Context, t domain.TaskDefinition) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_defs(id,title,description,kind,duration_seconds,gem_reward,created_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, description=excluded.description, kind=excluded.kind, duration_seconds=excluded.duration_seconds, gem_reward=excluded.gem_reward`,
		t.ID, t.Title, t.Description, t.Kind, t.DurationSeconds, t.GemReward, t.CreatedAt)
	return err
}

func scanTaskDef(scan func(dest ...any) error) (domain.TaskDefinition, error) {
	var t domain.TaskDefinition
	err := scan(&t.ID, &t.Title, &t.Description, &t.Kind, &t.DurationSeconds, &t.GemReward, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTaskDef(ctx context.Context, id string) (domain.TaskDefinition, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,title,description,kind,duration_seconds,gem_reward,created_at FROM task_defs WHERE id=?`, id)
	return scanTaskDef(row.Scan)
}

func (r Repo) GetTaskDefTx(ctx context.Context, tx *sql.Tx, id string) (domain.TaskDefinition, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,title,description,kind,duration_seconds,gem_reward,created_at FROM task_defs WHERE id=?`, id)
	return scanTaskDef(row.Scan)
}

func (r Repo) ListTaskDefs(ctx context.Context) ([]domain.TaskDefinition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,description,kind,duration_seconds,gem_reward,created_at FROM task_defs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskDefinition
	for rows.Next() {
		t, err := scanTaskDef(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session, sentimentJSON string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(id,owner_user_id,entry_text,initial_score,sentiment_json,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.OwnerUserID, s.EntryText, s.InitialScore, sentimentJSON, s.Status, s.CreatedAt)
	return err
}

// SessionRow is the raw persisted form; JSON columns are decoded by the
// engine, which also decides what a locked session may reveal.
type SessionRow struct {
	ID                 string
	OwnerUserID        string
	EntryText          string
	InitialScore       int
	SentimentJSON      string
	Status             string
	PostAssessmentJSON sql.NullString
	FinalScore         sql.NullInt64
	CreatedAt          string
	UnlockedAt         sql.NullString
}

const sessionCols = `id,owner_user_id,entry_text,initial_score,sentiment_json,status,post_assessment_json,final_score,created_at,unlocked_at`

func scanSessionRow(scan func(dest ...any) error) (SessionRow, error) {
	var s SessionRow
	err := scan(&s.ID, &s.OwnerUserID, &s.EntryText, &s.InitialScore, &s.SentimentJSON,
		&s.Status, &s.PostAssessmentJSON, &s.FinalScore, &s.CreatedAt, &s.UnlockedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// GetSession looks a session up by id and owner. Scoping by owner makes a
// foreign session indistinguishable from a missing one.
func (r Repo) GetSession(ctx context.Context, id, ownerUserID string) (SessionRow, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=? AND owner_user_id=?`, id, ownerUserID)
	return scanSessionRow(row.Scan)
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, id, ownerUserID string) (SessionRow, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=? AND owner_user_id=?`, id, ownerUserID)
	return scanSessionRow(row.Scan)
}

func (r Repo) ListSessions(ctx context.Context, ownerUserID string, limit int, cursorCreatedAt, cursorID string) ([]SessionRow, error) {
	clauses := []string{"owner_user_id=?"}
	args := []any{ownerUserID}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT ` + sessionCols + ` FROM sessions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SessionRow
	for rows.Next() {
		s, err := scanSessionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UnlockSessionTx flips a LOCKED session to UNLOCKED, writing assessment,
// final score, and unlock time in the same statement. Zero rows affected
// means the session was already unlocked by a concurrent unit.
func (r Repo) UnlockSessionTx(ctx context.Context, tx *sql.Tx, id, ownerUserID, assessmentJSON string, finalScore int, unlockedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status=?, post_assessment_json=?, final_score=?, unlocked_at=? WHERE id=? AND owner_user_id=? AND status!=?`,
		domain.StatusUnlocked, assessmentJSON, finalScore, unlockedAt, id, ownerUserID, domain.StatusUnlocked)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) InsertSessionTaskTx(ctx context.Context, tx *sql.Tx, sessionID, taskID string, timeSpentSeconds int, completedAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO session_tasks(session_id,task_id,time_spent_seconds,completed_at) VALUES (?,?,?,?)`,
		sessionID, taskID, timeSpentSeconds, completedAt)
	return err
}

func (r Repo) ListSessionTasks(ctx context.Context, sessionID string) ([]domain.CompletedTask, error) {
	return listSessionTasks(ctx, r.DB.QueryContext, sessionID)
}

func (r Repo) ListSessionTasksTx(ctx context.Context, tx *sql.Tx, sessionID string) ([]domain.CompletedTask, error) {
	return listSessionTasks(ctx, tx.QueryContext, sessionID)
}

func listSessionTasks(ctx context.Context, query func(ctx context.Context, q string, args ...any) (*sql.Rows, error), sessionID string) ([]domain.CompletedTask, error) {
	rows, err := query(ctx, `SELECT task_id,time_spent_seconds,completed_at FROM session_tasks WHERE session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CompletedTask
	for rows.Next() {
		var t domain.CompletedTask
		if err := rows.Scan(&t.TaskID, &t.TimeSpentSeconds, &t.CompletedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// LatestEventsFrom returns events newest-first, before the cursor if given.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, userID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := `SELECT id,ts,type,user_id,entity_kind,entity_id,payload_json FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events oldest-first with id greater than the cursor.
// The webhook dispatcher pages forward with this.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	return r.queryEvents(ctx, `SELECT id,ts,type,user_id,entity_kind,entity_id,payload_json FROM events WHERE id>? ORDER BY id LIMIT ?`, cursor, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.UserID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
