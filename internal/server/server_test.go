package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"taxline/internal/config"
	"taxline/internal/db"
	"taxline/internal/domain"
	"taxline/internal/engine"
	"taxline/internal/migrate"
	"taxline/internal/notify"
)

var serverNow = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type recordingDispatcher struct {
	mu  sync.Mutex
	got []notify.Notice
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n notify.Notice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, n)
	return nil
}

func newTestServer(t *testing.T, cfg Config) (*testServer, func()) {
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
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return serverNow }
	e.Logger = log.New(io.Discard, "", 0)
	cfg.Engine = e
	cfg.BasePath = "/v0"
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log.New(io.Discard, "", 0)
	}
	handler, err := New(cfg)
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func legacyServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServer(t, Config{Auth: AuthConfig{AllowLegacyActorHeader: true}})
}

var staff = map[string]string{"X-Actor-Id": "staff-1"}

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

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func ensureEngagement(t *testing.T, srv *testServer, client string) domain.EngagementYear {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/engagements", map[string]any{
		"client_id": client,
		"entity_id": "individual",
		"tax_year":  2024,
	}, staff)
	if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
		t.Fatalf("ensure status %d: %s", res.StatusCode, string(data))
	}
	var out EnsureEngagementResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal engagement: %v", err)
	}
	return out.Engagement
}

func transition(t *testing.T, srv *testServer, id, target string) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/engagements/"+id+"/transition", map[string]any{
		"target": target,
	}, staff)
}

func setFlag(t *testing.T, srv *testServer, id, flag string) domain.EngagementYear {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/engagements/"+id+"/flags/"+flag, map[string]any{
		"value": true,
	}, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("flag %s status %d: %s", flag, res.StatusCode, string(data))
	}
	var eng domain.EngagementYear
	if err := json.Unmarshal(data, &eng); err != nil {
		t.Fatalf("unmarshal engagement: %v", err)
	}
	return eng
}

func TestHealthAndAuth(t *testing.T) {
	srv, cleanup := legacyServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/engagements", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}
	if code := decodeError(t, data).Code; code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %s", code)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/engagements", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, string(data))
	}
}

func TestJWTFromDevLogin(t *testing.T) {
	srv, cleanup := newTestServer(t, Config{Auth: AuthConfig{JWTSecret: "test-secret"}})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "preparer-7",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("expected token, got %s (%v)", string(data), err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/engagements", map[string]any{
		"client_id": "c1", "entity_id": "individual", "tax_year": 2024,
	}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("ensure status %d: %s", res.StatusCode, string(data))
	}
	var out EnsureEngagementResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/engagements/"+out.Engagement.ID+"/transition", map[string]any{
		"target": "ENGAGED",
	}, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/engagements/"+out.Engagement.ID+"/history", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var hist HistoryResponse
	if err := json.Unmarshal(data, &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Items) != 1 || hist.Items[0].Actor.ID != "preparer-7" {
		t.Fatalf("expected one entry by preparer-7, got %+v", hist.Items)
	}

	// The legacy header is ignored unless enabled.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/engagements", nil, staff)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected legacy header to be rejected, got %d", res.StatusCode)
	}
}

func TestEnsureEngagementIsIdempotent(t *testing.T) {
	srv, cleanup := legacyServer(t)
	defer cleanup()

	body := map[string]any{"client_id": "c1", "entity_id": "individual", "tax_year": 2024}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/engagements", body, staff)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first ensure status %d: %s", res.StatusCode, string(data))
	}
	var first EnsureEngagementResponse
	if err := json.Unmarshal(data, &first); err != nil || !first.Created {
		t.Fatalf("expected created engagement, got %s (%v)", string(data), err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/engagements", body, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second ensure status %d: %s", res.StatusCode, string(data))
	}
	var second EnsureEngagementResponse
	if err := json.Unmarshal(data, &second); err != nil || second.Created || second.Engagement.ID != first.Engagement.ID {
		t.Fatalf("expected existing engagement, got %s (%v)", string(data), err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/engagements?tax_year=2024&status=INVITED", nil, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list EngagementList
	if err := json.Unmarshal(data, &list); err != nil || len(list.Items) != 1 {
		t.Fatalf("expected one engagement, got %s (%v)", string(data), err)
	}
}

func TestBlockedTransitionThenAutoAdvance(t *testing.T) {
	srv, cleanup := legacyServer(t)
	defer cleanup()
	eng := ensureEngagement(t, srv, "c1")
	base := srv.URL + "/v0/engagements/" + eng.ID

	for _, target := range []string{"ENGAGED", "COLLECTING_DOCS"} {
		if res, data := transition(t, srv, eng.ID, target); res.StatusCode != http.StatusOK {
			t.Fatalf("transition %s status %d: %s", target, res.StatusCode, string(data))
		}
	}

	res, data := transition(t, srv, eng.ID, "READY_FOR_PREP")
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	apiErr := decodeError(t, data)
	if apiErr.Code != "blocked_transition" {
		t.Fatalf("expected blocked_transition, got %s", apiErr.Code)
	}
	reasons, _ := apiErr.Details["reasons"].([]any)
	if len(reasons) != 5 {
		t.Fatalf("expected 5 blocking reasons, got %v", apiErr.Details["reasons"])
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/readiness", nil, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readiness status %d: %s", res.StatusCode, string(data))
	}
	var ready ReadinessResponse
	if err := json.Unmarshal(data, &ready); err != nil {
		t.Fatal(err)
	}
	if ready.Ready || len(ready.Reasons) != len(reasons) || ready.Reasons[0] != reasons[0] {
		t.Fatalf("readiness disagrees with blocked transition: %+v vs %v", ready, reasons)
	}

	res, data = transition(t, srv, eng.ID, "ENGAGED")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("backward transition status %d: %s", res.StatusCode, string(data))
	}
	var back engine.TransitionResult
	if err := json.Unmarshal(data, &back); err != nil || back.Warning == "" {
		t.Fatalf("expected non-standard warning, got %s (%v)", string(data), err)
	}
	if res, data := transition(t, srv, eng.ID, "COLLECTING_DOCS"); res.StatusCode != http.StatusOK {
		t.Fatalf("return to COLLECTING_DOCS status %d: %s", res.StatusCode, string(data))
	}

	for _, flag := range []string{engine.FlagEngagementSigned, engine.FlagQuestionnaireCompleted, engine.FlagIDValid} {
		setFlag(t, srv, eng.ID, flag)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/checklist", nil, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("checklist status %d: %s", res.StatusCode, string(data))
	}
	var checklist ChecklistResponse
	if err := json.Unmarshal(data, &checklist); err != nil {
		t.Fatal(err)
	}
	var last engine.ChecklistUpdate
	for _, item := range checklist.Items {
		res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/checklist-items/"+item.ID, map[string]any{
			"status": "RECEIVED",
		}, staff)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("receive %s status %d: %s", item.Key, res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &last); err != nil {
			t.Fatal(err)
		}
	}
	if !last.Completion.Complete || last.Engagement.Status != domain.StatusAwaitingConfirmation {
		t.Fatalf("expected auto-advance to AWAITING_CONFIRMATION, got %s (%+v)", last.Engagement.Status, last.Completion)
	}

	after := setFlag(t, srv, eng.ID, engine.FlagDocConfirmationSigned)
	if after.Status != domain.StatusReadyForPrep {
		t.Fatalf("expected READY_FOR_PREP after confirmation, got %s", after.Status)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/history", nil, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var hist HistoryResponse
	if err := json.Unmarshal(data, &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Items) != 6 {
		t.Fatalf("expected 6 history entries, got %d", len(hist.Items))
	}
	if got := hist.Items[0]; got.ToStatus != domain.StatusReadyForPrep || got.Actor.Kind != domain.ActorSystem {
		t.Fatalf("expected system transition to READY_FOR_PREP first, got %+v", got)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := legacyServer(t)
	defer cleanup()
	eng := ensureEngagement(t, srv, "c1")
	base := srv.URL + "/v0/engagements/"

	cases := []struct {
		name   string
		method string
		url    string
		body   any
		status int
		code   string
	}{
		{"unknown engagement", http.MethodGet, base + "missing", nil, http.StatusNotFound, "not_found"},
		{"unknown target", http.MethodPost, base + eng.ID + "/transition", map[string]any{"target": "DONE"}, http.StatusBadRequest, "bad_request"},
		{"unknown flag", http.MethodPut, base + eng.ID + "/flags/vip", map[string]any{"value": true}, http.StatusBadRequest, "bad_request"},
		{"bad extension date", http.MethodPost, base + eng.ID + "/extension/file", map[string]any{"extended_due_date": "Oct 15"}, http.StatusBadRequest, "bad_request"},
		{"early extension date", http.MethodPost, base + eng.ID + "/extension/file", map[string]any{"extended_due_date": "2025-03-01"}, http.StatusBadRequest, "bad_request"},
		{"missing checklist item", http.MethodPatch, srv.URL + "/v0/checklist-items/nope", map[string]any{"status": "RECEIVED"}, http.StatusNotFound, "not_found"},
		{"bad status filter", http.MethodGet, srv.URL + "/v0/engagements?status=LOST", nil, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, srv.Client(), tc.method, tc.url, tc.body, staff)
			if res.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, res.StatusCode, string(data))
			}
			if code := decodeError(t, data).Code; code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
}

func TestExtensionPausesReminders(t *testing.T) {
	srv, cleanup := legacyServer(t)
	defer cleanup()
	eng := ensureEngagement(t, srv, "c1")
	base := srv.URL + "/v0/engagements/" + eng.ID
	for _, target := range []string{"ENGAGED", "COLLECTING_DOCS"} {
		if res, data := transition(t, srv, eng.ID, target); res.StatusCode != http.StatusOK {
			t.Fatalf("transition %s status %d: %s", target, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/extension/request", map[string]any{}, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("request extension status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/reminders", nil, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reminders status %d: %s", res.StatusCode, string(data))
	}
	var list ReminderList
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != len(domain.Streams) {
		t.Fatalf("expected %d streams, got %d", len(domain.Streams), len(list.Items))
	}
	for _, rs := range list.Items {
		if !rs.Paused || rs.NextDueAt != nil {
			t.Fatalf("expected %s paused with no due date, got %+v", rs.Stream, rs)
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/extension/file", map[string]any{
		"extended_due_date": "2025-10-15",
	}, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("file extension status %d: %s", res.StatusCode, string(data))
	}
	var filed domain.EngagementYear
	if err := json.Unmarshal(data, &filed); err != nil {
		t.Fatal(err)
	}
	if !filed.ExtensionFiled || filed.ExtendedDueDate == nil {
		t.Fatalf("expected filed extension, got %+v", filed)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/reminders", nil, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reminders status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	for _, rs := range list.Items {
		if rs.Paused {
			t.Fatalf("expected %s resumed after filing, got %+v", rs.Stream, rs)
		}
	}
}

func TestSweepDispatchesDueReminders(t *testing.T) {
	d := &recordingDispatcher{}
	srv, cleanup := newTestServer(t, Config{
		Auth:       AuthConfig{AllowLegacyActorHeader: true},
		Dispatcher: d,
	})
	defer cleanup()
	eng := ensureEngagement(t, srv, "c1")
	for _, target := range []string{"ENGAGED", "COLLECTING_DOCS"} {
		if res, data := transition(t, srv, eng.ID, target); res.StatusCode != http.StatusOK {
			t.Fatalf("transition %s status %d: %s", target, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reminders/due?stream=DOCUMENTS", nil, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("due status %d: %s", res.StatusCode, string(data))
	}
	var due ReminderList
	if err := json.Unmarshal(data, &due); err != nil {
		t.Fatal(err)
	}
	if len(due.Items) != 1 || due.Items[0].EngagementID != eng.ID {
		t.Fatalf("expected the documents reminder due, got %+v", due.Items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/reminders/sweep?stream=DOCUMENTS", nil, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sweep status %d: %s", res.StatusCode, string(data))
	}
	var report SweepResponse
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if report.Due != 1 || len(report.Sent) != 1 || len(d.got) != 1 {
		t.Fatalf("expected one reminder sent, got report %+v and %d dispatched", report, len(d.got))
	}
	if d.got[0].Stream != domain.StreamDocuments || d.got[0].Sequence != 1 {
		t.Fatalf("unexpected notice %+v", d.got[0])
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reminders/due?stream=DOCUMENTS", nil, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("due status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &due); err != nil {
		t.Fatal(err)
	}
	if len(due.Items) != 0 {
		t.Fatalf("expected nothing due after sweep, got %+v", due.Items)
	}
}
