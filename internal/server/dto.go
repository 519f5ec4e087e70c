package server

import (
	"mindlock/internal/domain"
	"mindlock/internal/engine"
)

// Request payloads

type CreateSessionRequest struct {
	Text string `json:"text"`
}

type CompleteTaskRequest struct {
	DurationSeconds int `json:"duration_seconds,omitempty" minimum:"0"`
}

type PostAssessmentRequest struct {
	Stress  int `json:"stress" minimum:"1" maximum:"10"`
	Tension int `json:"tension,omitempty"`
	Energy  int `json:"energy,omitempty"`
}

type UnlockSessionRequest struct {
	PostAssessment *PostAssessmentRequest `json:"post_assessment"`
	GemsToSpend    int64                  `json:"gems_to_spend" minimum:"0"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type SentimentResponse struct {
	Compound float64  `json:"compound"`
	Label    string   `json:"label" enum:"Positive,Neutral,Negative"`
	Keywords []string `json:"keywords"`
}

type CompletedTaskResponse struct {
	TaskID           string `json:"task_id"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
	CompletedAt      string `json:"completed_at" format:"date-time"`
}

type SessionResponse struct {
	ID             string                  `json:"id"`
	EntryText      string                  `json:"entry_text,omitempty"`
	InitialScore   int                     `json:"initial_score"`
	Sentiment      *SentimentResponse      `json:"sentiment,omitempty"`
	Status         string                  `json:"status" enum:"LOCKED,IN_PROGRESS,UNLOCKED"`
	PostAssessment *PostAssessmentRequest  `json:"post_assessment,omitempty"`
	FinalScore     *int                    `json:"final_score,omitempty"`
	CompletedTasks []CompletedTaskResponse `json:"completed_tasks"`
	CreatedAt      string                  `json:"created_at" format:"date-time"`
	UnlockedAt     *string                 `json:"unlocked_at,omitempty" format:"date-time"`
}

type SessionStatusResponse struct {
	SessionID      string                  `json:"session_id"`
	Status         string                  `json:"status" enum:"LOCKED,IN_PROGRESS,UNLOCKED"`
	InitialScore   int                     `json:"initial_score"`
	UnlockCost     int64                   `json:"unlock_cost"`
	CompletedTasks []CompletedTaskResponse `json:"completed_tasks"`
}

type CompleteTaskResponse struct {
	TaskID     string `json:"task_id"`
	GemsEarned int64  `json:"gems_earned"`
	NewBalance int64  `json:"new_balance"`
}

type UnlockSessionResponse struct {
	Session    SessionResponse `json:"session"`
	NewBalance int64           `json:"new_balance"`
}

type TaskDefResponse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Kind            string `json:"kind" enum:"breathing,movement,reflection,game,other"`
	DurationSeconds int    `json:"duration_seconds"`
	GemReward       int64  `json:"gem_reward"`
}

type LedgerEntryResponse struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Cause       string `json:"cause" enum:"TASK,UNLOCK,BONUS"`
	CauseRefID  string `json:"cause_ref_id,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type MeResponse struct {
	UserID string `json:"user_id"`
	Gems   int64  `json:"gems"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedSessions struct {
	Items      []SessionResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedLedger struct {
	Items      []LedgerEntryResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Converters

func sessionResponse(s domain.Session) SessionResponse {
	resp := SessionResponse{
		ID:             s.ID,
		EntryText:      s.EntryText,
		InitialScore:   s.InitialScore,
		Status:         s.Status,
		FinalScore:     s.FinalScore,
		CompletedTasks: mapCompletedTasks(s.CompletedTasks),
		CreatedAt:      s.CreatedAt,
		UnlockedAt:     s.UnlockedAt,
	}
	if s.Sentiment != nil {
		resp.Sentiment = &SentimentResponse{
			Compound: s.Sentiment.Compound,
			Label:    s.Sentiment.Label,
			Keywords: nonNilSlice(s.Sentiment.Keywords),
		}
	}
	if s.PostAssessment != nil {
		resp.PostAssessment = &PostAssessmentRequest{
			Stress:  s.PostAssessment.Stress,
			Tension: s.PostAssessment.Tension,
			Energy:  s.PostAssessment.Energy,
		}
	}
	return resp
}

func statusResponse(st engine.SessionStatus) SessionStatusResponse {
	return SessionStatusResponse{
		SessionID:      st.SessionID,
		Status:         st.Status,
		InitialScore:   st.InitialScore,
		UnlockCost:     st.UnlockCost,
		CompletedTasks: mapCompletedTasks(st.CompletedTasks),
	}
}

func taskDefResponse(t domain.TaskDefinition) TaskDefResponse {
	return TaskDefResponse{
		ID:              t.ID,
		Title:           t.Title,
		Description:     t.Description,
		Kind:            t.Kind,
		DurationSeconds: t.DurationSeconds,
		GemReward:       t.GemReward,
	}
}

func ledgerEntryResponse(e domain.LedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:          e.ID,
		Amount:      e.Amount,
		Cause:       e.Cause,
		CauseRefID:  e.CauseRefID,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
	}
}

func mapCompletedTasks(items []domain.CompletedTask) []CompletedTaskResponse {
	res := make([]CompletedTaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, CompletedTaskResponse{
			TaskID:           t.TaskID,
			TimeSpentSeconds: t.TimeSpentSeconds,
			CompletedAt:      t.CompletedAt,
		})
	}
	return res
}

func mapSessions(items []domain.Session) []SessionResponse {
	res := make([]SessionResponse, 0, len(items))
	for _, s := range items {
		res = append(res, sessionResponse(s))
	}
	return res
}

func mapTaskDefs(items []domain.TaskDefinition) []TaskDefResponse {
	res := make([]TaskDefResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskDefResponse(t))
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
