package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/escrow"
	"bountyline/internal/migrate"
	"bountyline/internal/vault"
)

type testServer struct {
	URL    string
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
	registry := escrow.NewLocalRegistry(conn)
	dir := escrow.NewLocalDirectory(registry)
	ledger := vault.NewLedger(conn)
	e := engine.New(conn, ledger, dir)
	ctx := context.Background()
	err = e.ChangeBountySettings(ctx, engine.SettingsOptions{
		XPMultipliers:    []uint64{100, 300, 500, 1000},
		ExperienceLevels: []string{"Beginner", "Intermediate", "Advanced", "Expert"},
		BaseRate:         100,
		BountyDeadline:   2592000,
		BountyAllocator:  registry.Address(),
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	if err := ledger.Deposit(ctx, "", 1_000_000); err != nil {
		t.Fatalf("seed vault: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
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
	req.Header.Set("X-Actor-Id", "tester")
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

func TestFundAndFetchBounty(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/repos", map[string]any{
		"id": "acme-widgets",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add repo status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/bounties", map[string]any{
		"repo_ids":      []string{"acme-widgets"},
		"issue_numbers": []int64{1},
		"sizes":         []uint64{10},
		"token_types":   []int{1},
		"token_addrs":   []string{""},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("fund status %d: %s", res.StatusCode, string(data))
	}
	var funded struct {
		Items []struct {
			ExternalID int64 `json:"external_id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &funded); err != nil {
		t.Fatalf("unmarshal funded: %v", err)
	}
	if len(funded.Items) != 1 {
		t.Fatalf("expected 1 funded bounty, got %d", len(funded.Items))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/repos/acme-widgets/issues/1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get issue status %d: %s", res.StatusCode, string(data))
	}
	var issue IssueResponse
	if err := json.Unmarshal(data, &issue); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}
	if !issue.HasBounty || issue.BountySize != 10 {
		t.Fatalf("unexpected issue state: %+v", issue)
	}
}

func TestFundUnregisteredRepoRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/bounties", map[string]any{
		"repo_ids":      []string{"acme-unknown"},
		"issue_numbers": []int64{1},
		"sizes":         []uint64{10},
		"token_types":   []int{1},
		"token_addrs":   []string{""},
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", envelope.Error.Code)
	}
}

func TestDuplicateApplicationConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/repos", map[string]any{"id": "acme-widgets"}, nil); res.StatusCode != http.StatusCreated {
		t.Fatalf("add repo: %d %s", res.StatusCode, string(data))
	}
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/bounties", map[string]any{
		"repo_ids":      []string{"acme-widgets"},
		"issue_numbers": []int64{7},
		"sizes":         []uint64{25},
		"token_types":   []int{1},
		"token_addrs":   []string{""},
	}, nil); res.StatusCode != http.StatusCreated {
		t.Fatalf("fund: %d %s", res.StatusCode, string(data))
	}

	apply := func() (*http.Response, []byte) {
		return doJSON(t, client, http.MethodPost, srv.URL+"/v0/repos/acme-widgets/issues/7/applications", map[string]any{
			"metadata": "I can fix this",
		}, map[string]string{"X-Actor-Id": "0xabc"})
	}
	if res, data := apply(); res.StatusCode != http.StatusCreated {
		t.Fatalf("first apply: %d %s", res.StatusCode, string(data))
	}
	res, data := apply()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate apply, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "duplicate_application" {
		t.Fatalf("expected duplicate_application, got %q", envelope.Error.Code)
	}
}

func TestOpenBountyRejectsReview(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/repos", map[string]any{"id": "acme-widgets"}, nil); res.StatusCode != http.StatusCreated {
		t.Fatalf("add repo: %d %s", res.StatusCode, string(data))
	}
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/bounties", map[string]any{
		"repo_ids":      []string{"acme-widgets"},
		"issue_numbers": []int64{3},
		"sizes":         []uint64{5},
		"token_types":   []int{1},
		"token_addrs":   []string{""},
		"open":          true,
	}, nil); res.StatusCode != http.StatusCreated {
		t.Fatalf("fund open: %d %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/repos/acme-widgets/issues/3/applications/review", map[string]any{
		"applicant": "0xabc",
		"accept":    true,
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "open_bounty_not_assignable" {
		t.Fatalf("expected open_bounty_not_assignable, got %q", envelope.Error.Code)
	}
}
