package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mindlock/internal/config"
	"mindlock/internal/domain"
	"mindlock/internal/events"
	"mindlock/internal/repo"
	"mindlock/internal/scoring"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Scorer scoring.Analyzer
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Scorer: scoring.Lexicon{},
		Now:    time.Now,
	}
}

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrAlreadyUnlocked = errors.New("session already unlocked")
)

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) unlockCost() int64 {
	if e.Config != nil {
		return e.Config.Economy.UnlockCost
	}
	return 20
}

// ensureUser lazily creates the user row and, for first-seen users, credits
// the configured signup bonus in the same transaction.
func (e Engine) ensureUser(ctx context.Context, tx *sql.Tx, userID, now string) error {
	created, err := e.Repo.EnsureUserTx(ctx, tx, userID, now)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	if e.Config != nil && e.Config.Economy.SignupBonus > 0 {
		entry := domain.LedgerEntry{
			ID:          uuid.NewString(),
			OwnerUserID: userID,
			Amount:      e.Config.Economy.SignupBonus,
			Cause:       domain.CauseBonus,
			Description: "signup bonus",
			CreatedAt:   now,
		}
		if _, err := e.Repo.AppendLedgerTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("signup bonus: %w", err)
		}
	}
	return e.Events.Append(ctx, tx, now, "user.created", userID, "user", userID, nil)
}

// CreateSession captures a journal entry: it scores the text once, persists
// the session LOCKED, and hides the sentiment detail until unlock.
func (e Engine) CreateSession(ctx context.Context, userID, text string) (domain.Session, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Session{}, fmt.Errorf("%w: entry text is required", ErrInvalidInput)
	}
	if userID == "" {
		return domain.Session{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	res := e.Scorer.Analyze(text)
	sentiment := domain.Sentiment{Compound: res.Compound, Label: res.Label, Keywords: res.Keywords}
	sentimentJSON, err := json.Marshal(sentiment)
	if err != nil {
		return domain.Session{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Session{
		ID:           uuid.NewString(),
		OwnerUserID:  userID,
		EntryText:    text,
		InitialScore: scoring.InitialScore(res.Compound),
		Status:       domain.StatusLocked,
		CreatedAt:    now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	if err := e.ensureUser(ctx, tx, userID, now); err != nil {
		return domain.Session{}, err
	}
	if err := e.Repo.InsertSessionTx(ctx, tx, s, string(sentimentJSON)); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if err := e.Events.Append(ctx, tx, now, "session.created", userID, "session", s.ID, events.EventPayload{
		"initial_score": s.InitialScore,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// CompleteTaskResult is what a task completion returns.
type CompleteTaskResult struct {
	TaskID     string
	GemsEarned int64
	NewBalance int64
	Task       domain.TaskDefinition
}

// CompleteTask records a reset task against a session and credits its gem
// reward. Everything happens in one transaction: the session_tasks row, the
// ledger credit, and the audit event commit together or not at all.
// Completing the same task again is allowed and credited again; the client
// owns pacing. Completion is not gated on session status.
func (e Engine) CompleteTask(ctx context.Context, sessionID, userID, taskID string, reportedSeconds int) (CompleteTaskResult, error) {
	if reportedSeconds < 0 {
		return CompleteTaskResult{}, fmt.Errorf("%w: duration must not be negative", ErrInvalidInput)
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CompleteTaskResult{}, err
	}
	defer tx.Rollback()

	task, err := e.Repo.GetTaskDefTx(ctx, tx, taskID)
	if err != nil {
		return CompleteTaskResult{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	if _, err := e.Repo.GetSessionTx(ctx, tx, sessionID, userID); err != nil {
		return CompleteTaskResult{}, fmt.Errorf("session %s: %w", sessionID, err)
	}
	// Reported time is advisory; fall back to the catalog duration.
	spent := reportedSeconds
	if spent == 0 {
		spent = task.DurationSeconds
	}
	if err := e.Repo.InsertSessionTaskTx(ctx, tx, sessionID, taskID, spent, now); err != nil {
		return CompleteTaskResult{}, fmt.Errorf("record completion: %w", err)
	}
	balance, err := e.Repo.AppendLedgerTx(ctx, tx, domain.LedgerEntry{
		ID:          uuid.NewString(),
		OwnerUserID: userID,
		Amount:      task.GemReward,
		Cause:       domain.CauseTask,
		CauseRefID:  taskID,
		Description: task.Title,
		CreatedAt:   now,
	})
	if err != nil {
		return CompleteTaskResult{}, fmt.Errorf("credit gems: %w", err)
	}
	if err := e.Events.Append(ctx, tx, now, "session.task.completed", userID, "session", sessionID, events.EventPayload{
		"task_id":     taskID,
		"gems_earned": task.GemReward,
		"time_spent":  spent,
	}); err != nil {
		return CompleteTaskResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CompleteTaskResult{}, err
	}
	return CompleteTaskResult{TaskID: taskID, GemsEarned: task.GemReward, NewBalance: balance, Task: task}, nil
}

// UnlockResult pairs the revealed session with the balance after the debit.
type UnlockResult struct {
	Session    domain.Session
	NewBalance int64
}

// UnlockSession spends gems to reveal the before/after comparison. The debit,
// the status flip, the assessment, and the final score are one atomic unit; a
// failure at any step leaves the session LOCKED and the ledger untouched.
func (e Engine) UnlockSession(ctx context.Context, sessionID, userID string, assessment domain.PostAssessment, gemsToSpend int64) (UnlockResult, error) {
	if gemsToSpend < 0 {
		return UnlockResult{}, fmt.Errorf("%w: gems_to_spend must not be negative", ErrInvalidInput)
	}
	if assessment.Stress < 1 || assessment.Stress > 10 {
		return UnlockResult{}, fmt.Errorf("%w: stress must be between 1 and 10", ErrInvalidInput)
	}
	assessmentJSON, err := json.Marshal(assessment)
	if err != nil {
		return UnlockResult{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return UnlockResult{}, err
	}
	defer tx.Rollback()

	row, err := e.Repo.GetSessionTx(ctx, tx, sessionID, userID)
	if err != nil {
		return UnlockResult{}, fmt.Errorf("session %s: %w", sessionID, err)
	}
	if row.Status == domain.StatusUnlocked {
		return UnlockResult{}, ErrAlreadyUnlocked
	}
	var balance int64
	if gemsToSpend > 0 {
		balance, err = e.Repo.AppendLedgerTx(ctx, tx, domain.LedgerEntry{
			ID:          uuid.NewString(),
			OwnerUserID: userID,
			Amount:      -gemsToSpend,
			Cause:       domain.CauseUnlock,
			CauseRefID:  sessionID,
			Description: "session unlock",
			CreatedAt:   now,
		})
		if err != nil {
			return UnlockResult{}, err
		}
	} else {
		u, err := e.Repo.GetUser(ctx, userID)
		if err != nil {
			return UnlockResult{}, err
		}
		balance = u.Gems
	}
	finalScore := clampStress(assessment.Stress) * 10
	ok, err := e.Repo.UnlockSessionTx(ctx, tx, sessionID, userID, string(assessmentJSON), finalScore, now)
	if err != nil {
		return UnlockResult{}, fmt.Errorf("unlock session: %w", err)
	}
	if !ok {
		return UnlockResult{}, ErrAlreadyUnlocked
	}
	if err := e.Events.Append(ctx, tx, now, "session.unlocked", userID, "session", sessionID, events.EventPayload{
		"gems_spent":  gemsToSpend,
		"final_score": finalScore,
	}); err != nil {
		return UnlockResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return UnlockResult{}, err
	}

	row.Status = domain.StatusUnlocked
	row.PostAssessmentJSON = sql.NullString{String: string(assessmentJSON), Valid: true}
	row.FinalScore = sql.NullInt64{Int64: int64(finalScore), Valid: true}
	row.UnlockedAt = sql.NullString{String: now, Valid: true}
	s, err := e.sessionFromRow(ctx, row, true)
	if err != nil {
		return UnlockResult{}, err
	}
	return UnlockResult{Session: s, NewBalance: balance}, nil
}

func clampStress(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

// SessionStatus is the lightweight progress view for a session.
type SessionStatus struct {
	SessionID      string
	Status         string
	InitialScore   int
	UnlockCost     int64
	CompletedTasks []domain.CompletedTask
}

func (e Engine) GetSessionStatus(ctx context.Context, sessionID, userID string) (SessionStatus, error) {
	row, err := e.Repo.GetSession(ctx, sessionID, userID)
	if err != nil {
		return SessionStatus{}, err
	}
	tasks, err := e.Repo.ListSessionTasks(ctx, sessionID)
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{
		SessionID:      row.ID,
		Status:         row.Status,
		InitialScore:   row.InitialScore,
		UnlockCost:     e.unlockCost(),
		CompletedTasks: tasks,
	}, nil
}

// GetSession returns the full session document. The entry text, sentiment
// detail, the post-assessment, and the final score stay hidden while LOCKED.
func (e Engine) GetSession(ctx context.Context, sessionID, userID string) (domain.Session, error) {
	row, err := e.Repo.GetSession(ctx, sessionID, userID)
	if err != nil {
		return domain.Session{}, err
	}
	return e.sessionFromRow(ctx, row, true)
}

// ListSessions returns the user's sessions most recent first, without
// completed-task detail.
func (e Engine) ListSessions(ctx context.Context, userID string, limit int, cursorCreatedAt, cursorID string) ([]domain.Session, error) {
	rows, err := e.Repo.ListSessions(ctx, userID, limit, cursorCreatedAt, cursorID)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		s, err := e.sessionFromRow(ctx, row, false)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

func (e Engine) sessionFromRow(ctx context.Context, row repo.SessionRow, withTasks bool) (domain.Session, error) {
	s := domain.Session{
		ID:           row.ID,
		OwnerUserID:  row.OwnerUserID,
		InitialScore: row.InitialScore,
		Status:       row.Status,
		CreatedAt:    row.CreatedAt,
	}
	// The locked content is the product: entry text and scores reveal only
	// after the unlock commits.
	if row.Status == domain.StatusUnlocked {
		s.EntryText = row.EntryText
		if row.SentimentJSON != "" {
			var sent domain.Sentiment
			if err := json.Unmarshal([]byte(row.SentimentJSON), &sent); err != nil {
				return domain.Session{}, fmt.Errorf("decode sentiment: %w", err)
			}
			s.Sentiment = &sent
		}
		if row.PostAssessmentJSON.Valid {
			var pa domain.PostAssessment
			if err := json.Unmarshal([]byte(row.PostAssessmentJSON.String), &pa); err != nil {
				return domain.Session{}, fmt.Errorf("decode assessment: %w", err)
			}
			s.PostAssessment = &pa
		}
		if row.FinalScore.Valid {
			v := int(row.FinalScore.Int64)
			s.FinalScore = &v
		}
		if row.UnlockedAt.Valid {
			v := row.UnlockedAt.String
			s.UnlockedAt = &v
		}
	}
	if withTasks {
		tasks, err := e.Repo.ListSessionTasks(ctx, s.ID)
		if err != nil {
			return domain.Session{}, err
		}
		s.CompletedTasks = tasks
	}
	return s, nil
}

// GrantBonus credits gems outside the task economy. Operator tooling only.
func (e Engine) GrantBonus(ctx context.Context, userID string, amount int64, note string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: bonus amount must be positive", ErrInvalidInput)
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := e.ensureUser(ctx, tx, userID, now); err != nil {
		return 0, err
	}
	balance, err := e.Repo.AppendLedgerTx(ctx, tx, domain.LedgerEntry{
		ID:          uuid.NewString(),
		OwnerUserID: userID,
		Amount:      amount,
		Cause:       domain.CauseBonus,
		Description: note,
		CreatedAt:   now,
	})
	if err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, now, "gems.bonus", userID, "user", userID, events.EventPayload{
		"amount": amount,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// Balance returns the cached gem counter. Unknown users read as zero, since
// a user that never acted has an empty ledger.
func (e Engine) Balance(ctx context.Context, userID string) (int64, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return u.Gems, nil
}

func (e Engine) LedgerHistory(ctx context.Context, userID string, limit int, cursorCreatedAt, cursorID string) ([]domain.LedgerEntry, error) {
	return e.Repo.ListLedgerEntries(ctx, userID, limit, cursorCreatedAt, cursorID)
}

func (e Engine) ListTasks(ctx context.Context) ([]domain.TaskDefinition, error) {
	return e.Repo.ListTaskDefs(ctx)
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.TaskDefinition, error) {
	return e.Repo.GetTaskDef(ctx, id)
}
