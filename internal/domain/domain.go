package domain

// Session statuses. StatusInProgress is accepted by the schema but nothing
// writes it yet; the lifecycle in use is LOCKED -> UNLOCKED.
const (
	StatusLocked     = "LOCKED"
	StatusInProgress = "IN_PROGRESS"
	StatusUnlocked   = "UNLOCKED"
)

// Ledger entry causes.
const (
	CauseTask   = "TASK"
	CauseUnlock = "UNLOCK"
	CauseBonus  = "BONUS"
)

type User struct {
	ID        string `json:"id"`
	Gems      int64  `json:"gems"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskDefinition struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Kind            string `json:"kind" enum:"breathing,movement,reflection,game,other"`
	DurationSeconds int    `json:"duration_seconds"`
	GemReward       int64  `json:"gem_reward"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Sentiment struct {
	Compound float64  `json:"compound"`
	Label    string   `json:"label" enum:"Positive,Neutral,Negative"`
	Keywords []string `json:"keywords,omitempty"`
}

type PostAssessment struct {
	Stress  int `json:"stress" minimum:"1" maximum:"10"`
	Tension int `json:"tension,omitempty"`
	Energy  int `json:"energy,omitempty"`
}

type Session struct {
	ID             string          `json:"id"`
	OwnerUserID    string          `json:"owner_user_id"`
	EntryText      string          `json:"entry_text,omitempty"`
	InitialScore   int             `json:"initial_score"`
	Sentiment      *Sentiment      `json:"sentiment,omitempty"`
	Status         string          `json:"status" enum:"LOCKED,IN_PROGRESS,UNLOCKED"`
	PostAssessment *PostAssessment `json:"post_assessment,omitempty"`
	FinalScore     *int            `json:"final_score,omitempty"`
	CompletedTasks []CompletedTask `json:"completed_tasks,omitempty"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
	UnlockedAt     *string         `json:"unlocked_at,omitempty" format:"date-time"`
}

type CompletedTask struct {
	TaskID           string `json:"task_id"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
	CompletedAt      string `json:"completed_at" format:"date-time"`
}

type LedgerEntry struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"owner_user_id"`
	Amount      int64  `json:"amount"`
	Cause       string `json:"cause" enum:"TASK,UNLOCK,BONUS"`
	CauseRefID  string `json:"cause_ref_id,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
