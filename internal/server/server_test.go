package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"mindlock/internal/app"
	"mindlock/internal/config"
	"mindlock/internal/db"
	"mindlock/internal/domain"
	"mindlock/internal/engine"
	"mindlock/internal/migrate"
	"mindlock/internal/repo"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	if err := app.EnsureCatalog(context.Background(), repo.Repo{DB: conn}, cfg); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, DevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(t *testing.T, srv *testServer, userID string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"user_id": userID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + login.Token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %s", code)
	}

	// health stays open
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d %s", res.StatusCode, string(data))
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := bearer(t, srv, "user-1")

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{
		"text": "I am so stressed and anxious about the deadline",
	}, auth)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create session: %d %s", createRes.StatusCode, string(data))
	}
	var created SessionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if created.Status != domain.StatusLocked {
		t.Fatalf("expected LOCKED, got %s", created.Status)
	}
	if created.InitialScore <= 50 {
		t.Fatalf("negative entry should score high, got %d", created.InitialScore)
	}

	// locked read hides the content
	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions/"+created.ID, nil, auth)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get session: %d %s", getRes.StatusCode, string(getBody))
	}
	var locked SessionResponse
	_ = json.Unmarshal(getBody, &locked)
	if locked.EntryText != "" || locked.Sentiment != nil || locked.FinalScore != nil {
		t.Fatalf("locked session leaked content: %s", string(getBody))
	}

	// unlock with empty balance fails and stays locked
	unlockBody := map[string]any{
		"post_assessment": map[string]any{"stress": 3, "tension": 2, "energy": 6},
		"gems_to_spend":   20,
	}
	failRes, failData := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions/"+created.ID+"/unlock", unlockBody, auth)
	if failRes.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d %s", failRes.StatusCode, string(failData))
	}
	if code := errorCode(t, failData); code != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance, got %s", code)
	}

	// earn gems
	for i := 0; i < 2; i++ {
		compRes, compData := doJSON(t, client, http.MethodPost,
			srv.URL+"/v1/sessions/"+created.ID+"/tasks/quick-walk/complete",
			map[string]any{"duration_seconds": 0}, auth)
		if compRes.StatusCode != http.StatusOK {
			t.Fatalf("complete task: %d %s", compRes.StatusCode, string(compData))
		}
	}

	statusRes, statusData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions/"+created.ID+"/status", nil, auth)
	if statusRes.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", statusRes.StatusCode, string(statusData))
	}
	var status SessionStatusResponse
	_ = json.Unmarshal(statusData, &status)
	if status.UnlockCost != 20 {
		t.Fatalf("unlock cost %d, want 20", status.UnlockCost)
	}
	if len(status.CompletedTasks) != 2 {
		t.Fatalf("expected 2 completed tasks, got %d", len(status.CompletedTasks))
	}

	unlockRes, unlockData := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions/"+created.ID+"/unlock", unlockBody, auth)
	if unlockRes.StatusCode != http.StatusOK {
		t.Fatalf("unlock: %d %s", unlockRes.StatusCode, string(unlockData))
	}
	var unlocked UnlockSessionResponse
	if err := json.Unmarshal(unlockData, &unlocked); err != nil {
		t.Fatalf("unmarshal unlock: %v", err)
	}
	if unlocked.Session.Status != domain.StatusUnlocked {
		t.Fatalf("expected UNLOCKED, got %s", unlocked.Session.Status)
	}
	if unlocked.Session.EntryText == "" || unlocked.Session.Sentiment == nil {
		t.Fatalf("unlock should reveal content: %s", string(unlockData))
	}
	if unlocked.Session.FinalScore == nil || *unlocked.Session.FinalScore != 30 {
		t.Fatalf("final score %v, want 30", unlocked.Session.FinalScore)
	}
	if unlocked.NewBalance != 0 {
		t.Fatalf("balance after unlock %d, want 0", unlocked.NewBalance)
	}

	// second unlock conflicts
	againRes, againData := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions/"+created.ID+"/unlock", unlockBody, auth)
	if againRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", againRes.StatusCode, string(againData))
	}
	if code := errorCode(t, againData); code != "already_unlocked" {
		t.Fatalf("expected already_unlocked, got %s", code)
	}

	// ledger has two credits and one debit
	histRes, histData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/gems/history", nil, auth)
	if histRes.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", histRes.StatusCode, string(histData))
	}
	var hist paginatedLedger
	_ = json.Unmarshal(histData, &hist)
	if len(hist.Items) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(hist.Items))
	}

	meRes, meData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, auth)
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", meRes.StatusCode, string(meData))
	}
	var me MeResponse
	_ = json.Unmarshal(meData, &me)
	if me.UserID != "user-1" || me.Gems != 0 {
		t.Fatalf("unexpected me: %+v", me)
	}
}

func TestUnlockValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := bearer(t, srv, "user-1")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{
		"text": "tense evening",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created SessionResponse
	_ = json.Unmarshal(data, &created)

	// missing post_assessment
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions/"+created.ID+"/unlock", map[string]any{
		"gems_to_spend": 0,
	}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing assessment: %d %s", res.StatusCode, string(data))
	}

	// stress out of range
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions/"+created.ID+"/unlock", map[string]any{
		"post_assessment": map[string]any{"stress": 42},
		"gems_to_spend":   0,
	}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad stress: %d %s", res.StatusCode, string(data))
	}
}

func TestSessionOwnershipOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	owner := bearer(t, srv, "owner")
	other := bearer(t, srv, "other")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{
		"text": "private thoughts",
	}, owner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created SessionResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions/"+created.ID, nil, other)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign session should 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	secret := "mlk_test_key"
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:      uuid.NewString(),
		UserID:  "key-user",
		Name:    "ci",
		KeyHash: repo.HashAPIKey(secret),
	})
	if err != nil {
		t.Fatalf("insert key: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": secret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth: %d %s", res.StatusCode, string(data))
	}
	var me MeResponse
	_ = json.Unmarshal(data, &me)
	if me.UserID != "key-user" {
		t.Fatalf("wrong principal: %+v", me)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key: %d %s", res.StatusCode, string(data))
	}
}

func TestListSessionsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := bearer(t, srv, "user-1")

	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{
			"text": "entry for pagination",
		}, auth)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create: %d %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions?limit=2", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var page paginatedSessions
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatalf("expected a next cursor")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions?cursor=garbage", nil, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor: %d %s", res.StatusCode, string(data))
	}
}

func TestDevLoginDisabled(t *testing.T) {
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatal(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{Engine: e, Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	defer func() {
		srv.Shutdown(context.Background())
		ln.Close()
	}()

	res, data := doJSON(t, &http.Client{}, http.MethodPost, "http://"+ln.Addr().String()+"/v1/auth/dev/login", map[string]any{
		"user_id": "anyone",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 with dev login off, got %d %s", res.StatusCode, string(data))
	}
}
