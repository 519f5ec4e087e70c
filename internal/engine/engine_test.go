package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mindlock/internal/app"
	"mindlock/internal/config"
	"mindlock/internal/db"
	"mindlock/internal/domain"
	"mindlock/internal/engine"
	"mindlock/internal/migrate"
	"mindlock/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	ctx := context.Background()
	if err := app.EnsureCatalog(ctx, repo.Repo{DB: conn}, cfg); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: ctx}
}

func TestCatalogSeedingIdempotent(t *testing.T) {
	env := newTestEnv(t)
	before, err := env.Engine.ListTasks(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	// EnsureCatalog ran once already in newTestEnv; running it again and
	// upserting on top must not duplicate rows
	if err := app.EnsureCatalog(env.Ctx, env.Engine.Repo, env.Engine.Config); err != nil {
		t.Fatal(err)
	}
	if _, err := app.SeedCatalog(env.Ctx, env.Engine.Repo, env.Engine.Config); err != nil {
		t.Fatal(err)
	}
	after, err := env.Engine.ListTasks(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("catalog grew from %d to %d", len(before), len(after))
	}
}

func TestCreateSessionStartsLocked(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "I am completely overwhelmed and anxious about everything")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if s.Status != domain.StatusLocked {
		t.Fatalf("expected LOCKED, got %s", s.Status)
	}
	if s.InitialScore <= 50 {
		t.Fatalf("negative entry should score above the neutral midpoint, got %d", s.InitialScore)
	}

	calm, err := env.Engine.CreateSession(env.Ctx, "user-1", "Today was a wonderful, happy, peaceful day and I feel great")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if calm.InitialScore >= s.InitialScore {
		t.Fatalf("positive entry should score below negative entry: %d vs %d", calm.InitialScore, s.InitialScore)
	}
}

func TestCreateSessionRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateSession(env.Ctx, "user-1", "   ")
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestLockedSessionHidesContent(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.CreateSession(env.Ctx, "user-1", "a secret worry I do not want to reread yet")
	if err != nil {
		t.Fatal(err)
	}
	s, err := env.Engine.GetSession(env.Ctx, created.ID, "user-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.EntryText != "" {
		t.Fatalf("entry text leaked while locked")
	}
	if s.Sentiment != nil || s.PostAssessment != nil || s.FinalScore != nil {
		t.Fatalf("scores leaked while locked")
	}
	if s.InitialScore != created.InitialScore {
		t.Fatalf("initial score should remain visible")
	}
}

func TestSessionScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "mine alone")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.GetSession(env.Ctx, s.ID, "user-2")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign session should look missing, got %v", err)
	}
}

func TestCompleteTaskCreditsReward(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "stressful day")
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CompleteTask(env.Ctx, s.ID, "user-1", "box-breathing", 0)
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if res.GemsEarned != res.Task.GemReward {
		t.Fatalf("earned %d, want %d", res.GemsEarned, res.Task.GemReward)
	}
	if res.NewBalance != res.GemsEarned {
		t.Fatalf("balance %d, want %d", res.NewBalance, res.GemsEarned)
	}
	status, err := env.Engine.GetSessionStatus(env.Ctx, s.ID, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(status.CompletedTasks) != 1 {
		t.Fatalf("expected one completed task, got %d", len(status.CompletedTasks))
	}
	// reported time of 0 falls back to the catalog duration
	if status.CompletedTasks[0].TimeSpentSeconds != res.Task.DurationSeconds {
		t.Fatalf("time spent %d, want catalog %d", status.CompletedTasks[0].TimeSpentSeconds, res.Task.DurationSeconds)
	}
}

func TestRepeatCompletionsCreditAgain(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "restless")
	if err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.CompleteTask(env.Ctx, s.ID, "user-1", "water-break", 5)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.CompleteTask(env.Ctx, s.ID, "user-1", "water-break", 5)
	if err != nil {
		t.Fatalf("repeat completion: %v", err)
	}
	if second.NewBalance != first.NewBalance+first.GemsEarned {
		t.Fatalf("repeat completion not credited: %d", second.NewBalance)
	}
}

func TestCompleteTaskUnknownRefsLeaveNoTrace(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "edgy")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, s.ID, "user-1", "no-such-task", 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, "no-such-session", "user-1", "box-breathing", 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	balance, err := env.Engine.Balance(env.Ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 0 {
		t.Fatalf("failed completions must not credit, balance %d", balance)
	}
	entries, err := env.Engine.LedgerHistory(env.Ctx, "user-1", 10, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty ledger, got %d entries", len(entries))
	}
}

func TestUnlockSession(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "I feel terrible and angry about this awful week")
	if err != nil {
		t.Fatal(err)
	}
	// earn enough for the default unlock cost
	for i := 0; i < 4; i++ {
		if _, err := env.Engine.CompleteTask(env.Ctx, s.ID, "user-1", "quick-walk", 0); err != nil {
			t.Fatalf("complete task: %v", err)
		}
	}
	res, err := env.Engine.UnlockSession(env.Ctx, s.ID, "user-1", domain.PostAssessment{Stress: 3, Tension: 2, Energy: 6}, 20)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if res.Session.Status != domain.StatusUnlocked {
		t.Fatalf("expected UNLOCKED, got %s", res.Session.Status)
	}
	if res.Session.FinalScore == nil || *res.Session.FinalScore != 30 {
		t.Fatalf("final score should be stress*10, got %v", res.Session.FinalScore)
	}
	if res.Session.EntryText == "" || res.Session.Sentiment == nil {
		t.Fatalf("unlock should reveal the entry and sentiment")
	}
	if res.Session.UnlockedAt == nil {
		t.Fatalf("unlocked_at not set")
	}
	if res.NewBalance != 40-20 {
		t.Fatalf("balance after unlock %d, want 20", res.NewBalance)
	}
}

func TestUnlockTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "tense")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GrantBonus(env.Ctx, "user-1", 100, "test credit"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UnlockSession(env.Ctx, s.ID, "user-1", domain.PostAssessment{Stress: 2}, 20); err != nil {
		t.Fatalf("first unlock: %v", err)
	}
	_, err = env.Engine.UnlockSession(env.Ctx, s.ID, "user-1", domain.PostAssessment{Stress: 2}, 20)
	if !errors.Is(err, engine.ErrAlreadyUnlocked) {
		t.Fatalf("expected already unlocked, got %v", err)
	}
	balance, _ := env.Engine.Balance(env.Ctx, "user-1")
	if balance != 80 {
		t.Fatalf("second unlock must not debit, balance %d", balance)
	}
}

func TestUnlockInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "broke and stressed")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, s.ID, "user-1", "box-breathing", 0); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.UnlockSession(env.Ctx, s.ID, "user-1", domain.PostAssessment{Stress: 5}, 20)
	if !errors.Is(err, repo.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	// the failed unlock must leave no trace: still locked, balance untouched,
	// no UNLOCK ledger row
	got, err := env.Engine.GetSession(env.Ctx, s.ID, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusLocked {
		t.Fatalf("session should stay LOCKED, got %s", got.Status)
	}
	balance, err := env.Engine.Balance(env.Ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 5 {
		t.Fatalf("balance %d, want 5", balance)
	}
	entries, err := env.Engine.LedgerHistory(env.Ctx, "user-1", 10, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Cause != domain.CauseTask {
		t.Fatalf("expected exactly the TASK credit, got %+v", entries)
	}
}

func TestUnlockValidatesAssessment(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "text")
	if err != nil {
		t.Fatal(err)
	}
	for _, stress := range []int{0, 11, -3} {
		_, err := env.Engine.UnlockSession(env.Ctx, s.ID, "user-1", domain.PostAssessment{Stress: stress}, 0)
		if !errors.Is(err, engine.ErrInvalidInput) {
			t.Fatalf("stress=%d: expected invalid input, got %v", stress, err)
		}
	}
	_, err = env.Engine.UnlockSession(env.Ctx, s.ID, "user-1", domain.PostAssessment{Stress: 5}, -1)
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("negative spend: expected invalid input, got %v", err)
	}
}

func TestConcurrentCompletionsKeepLedgerConsistent(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "busy")
	if err != nil {
		t.Fatal(err)
	}
	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.CompleteTask(env.Ctx, s.ID, "user-1", "shoulder-roll", 5)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent completion: %v", err)
		}
	}
	balance, err := env.Engine.Balance(env.Ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	sum, err := env.Engine.Repo.LedgerSum(env.Ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if balance != sum {
		t.Fatalf("cached balance %d != ledger sum %d", balance, sum)
	}
	task, err := env.Engine.GetTask(env.Ctx, "shoulder-roll")
	if err != nil {
		t.Fatal(err)
	}
	if balance != int64(n)*task.GemReward {
		t.Fatalf("balance %d, want %d", balance, int64(n)*task.GemReward)
	}
}

func TestGrantBonus(t *testing.T) {
	env := newTestEnv(t)
	balance, err := env.Engine.GrantBonus(env.Ctx, "user-1", 15, "welcome")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if balance != 15 {
		t.Fatalf("balance %d, want 15", balance)
	}
	if _, err := env.Engine.GrantBonus(env.Ctx, "user-1", 0, ""); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("zero grant should be rejected, got %v", err)
	}
	entries, err := env.Engine.LedgerHistory(env.Ctx, "user-1", 10, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Cause != domain.CauseBonus {
		t.Fatalf("expected one BONUS entry, got %+v", entries)
	}
}

func TestBalanceUnknownUserIsZero(t *testing.T) {
	env := newTestEnv(t)
	balance, err := env.Engine.Balance(env.Ctx, "nobody")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0, got %d", balance)
	}
}

func TestSessionStatusReportsUnlockCost(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Economy.UnlockCost = 35
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "counting gems")
	if err != nil {
		t.Fatal(err)
	}
	status, err := env.Engine.GetSessionStatus(env.Ctx, s.ID, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if status.UnlockCost != 35 {
		t.Fatalf("unlock cost %d, want 35", status.UnlockCost)
	}
	if status.Status != domain.StatusLocked {
		t.Fatalf("status %s", status.Status)
	}
}

func TestEventsAppendedOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "eventful")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, s.ID, "user-1", "box-breathing", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GrantBonus(env.Ctx, "user-1", 50, "top up"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UnlockSession(env.Ctx, s.ID, "user-1", domain.PostAssessment{Stress: 4}, 20); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.LatestEventsFrom(env.Ctx, 50, 0, "user-1", "")
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	want := map[string]bool{
		"user.created":           false,
		"session.created":        false,
		"session.task.completed": false,
		"gems.bonus":             false,
		"session.unlocked":       false,
	}
	for _, evt := range events {
		if _, ok := want[evt.Type]; ok {
			want[evt.Type] = true
		}
	}
	for typ, seen := range want {
		if !seen {
			t.Fatalf("missing event %s", typ)
		}
	}
}

func TestEventTimestampsFollowEngineClock(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "user-1", "a quiet note")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, s.ID, "user-1", "quick-walk", 0); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.LatestEventsFrom(env.Ctx, 50, 0, "user-1", "")
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected events")
	}
	for _, evt := range events {
		if evt.TS != "2024-01-01T00:00:00Z" {
			t.Fatalf("event %s has ts %q, want the pinned clock", evt.Type, evt.TS)
		}
	}
}
