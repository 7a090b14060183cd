package github

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/cookfed/internal/model"
)

func newTestClient(t *testing.T, apiServer, rawServer *httptest.Server, token string, maxFileSize int64) *Client {
	t.Helper()
	c := NewClient(&http.Client{Timeout: 5 * time.Second},
		NewQuotaLimiter(100, nil, slog.New(slog.DiscardHandler)),
		slog.New(slog.DiscardHandler), token, "Cookfed/1.0 Test", maxFileSize)
	if apiServer != nil {
		c.apiBase = apiServer.URL
	}
	if rawServer != nil {
		c.rawBase = rawServer.URL
	}
	return c
}

func TestClient_GetRepository(t *testing.T) {
	var gotAccept, gotUA, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/alice/recipes" {
			t.Errorf("リクエストパスが期待と異なります: %s", r.URL.Path)
		}
		gotAccept = r.Header.Get("Accept")
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("x-ratelimit-limit", "5000")
		w.Header().Set("x-ratelimit-remaining", "4999")
		w.Write([]byte(`{
			"id": 42,
			"full_name": "alice/recipes",
			"default_branch": "main",
			"archived": false,
			"html_url": "https://github.com/alice/recipes",
			"owner": {"login": "alice"}
		}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, nil, "secret-token", 0)
	repo, err := c.GetRepository(context.Background(), "alice", "recipes")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if gotAccept != "application/vnd.github.v3+json" {
		t.Errorf("Acceptヘッダが期待と異なります: %s", gotAccept)
	}
	if gotUA != "Cookfed/1.0 Test" {
		t.Errorf("User-Agentヘッダが期待と異なります: %s", gotUA)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorizationヘッダが期待と異なります: %s", gotAuth)
	}
	if repo.FullName != "alice/recipes" || repo.DefaultBranch != "main" {
		t.Errorf("リポジトリ情報が期待と異なります: %+v", repo)
	}
	if repo.Owner.Login != "alice" {
		t.Errorf("ownerが期待と異なります: %s", repo.Owner.Login)
	}

	// レスポンスヘッダでリミッター状態が更新されること
	limit, remaining, _ := c.limiter.Snapshot()
	if limit != 5000 || remaining != 4999 {
		t.Errorf("リミッター状態が更新されていません: limit=%d remaining=%d", limit, remaining)
	}
}

func TestClient_GetRepository_NoAuthHeaderWithoutToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("トークン未設定時にAuthorizationヘッダを送ってはいけません: %s", auth)
		}
		w.Write([]byte(`{"full_name": "alice/recipes"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, nil, "", 0)
	if _, err := c.GetRepository(context.Background(), "alice", "recipes"); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind model.ErrorKind
	}{
		{name: "404は未検出", status: http.StatusNotFound, wantKind: model.ErrKindNotFound},
		{name: "429は一時エラー", status: http.StatusTooManyRequests, wantKind: model.ErrKindTransient},
		{name: "503は一時エラー", status: http.StatusServiceUnavailable, wantKind: model.ErrKindTransient},
		{name: "403は恒久エラー", status: http.StatusForbidden, wantKind: model.ErrKindPermanentHTTP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := newTestClient(t, server, nil, "", 0)
			_, err := c.GetRepository(context.Background(), "alice", "recipes")
			if err == nil {
				t.Fatal("エラーが返るべきです")
			}
			if model.KindOf(err) != tt.wantKind {
				t.Errorf("エラー種別が期待と異なります: got=%s want=%s", model.KindOf(err), tt.wantKind)
			}
		})
	}
}

func TestClient_GetTree_Recursive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/repos/alice/recipes/git/trees/abc123") {
			t.Errorf("リクエストパスが期待と異なります: %s", r.URL.Path)
		}
		if r.URL.Query().Get("recursive") != "1" {
			t.Error("recursive=1が指定されるべきです")
		}
		w.Write([]byte(`{
			"sha": "abc123",
			"truncated": false,
			"tree": [
				{"path": "breakfast/pancakes.cook", "mode": "100644", "type": "blob", "sha": "f1", "size": 120},
				{"path": "breakfast", "mode": "040000", "type": "tree", "sha": "d1", "size": 0}
			]
		}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, nil, "", 0)
	tree, err := c.GetTree(context.Background(), "alice", "recipes", "abc123")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(tree.Entries) != 2 {
		t.Fatalf("エントリ数が期待と異なります: got=%d want=2", len(tree.Entries))
	}
	if tree.Entries[0].Path != "breakfast/pancakes.cook" || tree.Entries[0].Type != "blob" {
		t.Errorf("エントリが期待と異なります: %+v", tree.Entries[0])
	}
}

func TestClient_GetBranchHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/alice/recipes/commits/main" {
			t.Errorf("リクエストパスが期待と異なります: %s", r.URL.Path)
		}
		w.Write([]byte(`{"sha": "head1", "commit": {"message": "update", "tree": {"sha": "tree1"}}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, nil, "", 0)
	commit, err := c.GetBranchHead(context.Background(), "alice", "recipes", "main")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if commit.SHA != "head1" || commit.Commit.Tree.SHA != "tree1" {
		t.Errorf("コミット情報が期待と異なります: %+v", commit)
	}
}

func TestClient_DownloadRawContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/alice/recipes/main/breakfast/pancakes.cook" {
			t.Errorf("リクエストパスが期待と異なります: %s", r.URL.Path)
		}
		w.Write([]byte("Mix @flour{200%g} with @milk{300%ml}."))
	}))
	defer server.Close()

	c := newTestClient(t, nil, server, "", 1024)
	body, err := c.DownloadRawContent(context.Background(), "alice", "recipes", "main", "breakfast/pancakes.cook")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !strings.Contains(string(body), "@flour") {
		t.Errorf("本文が期待と異なります: %s", body)
	}
}

func TestClient_DownloadRawContent_SizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer server.Close()

	c := newTestClient(t, nil, server, "", 50)
	_, err := c.DownloadRawContent(context.Background(), "alice", "recipes", "main", "big.cook")
	if err == nil {
		t.Fatal("サイズ超過時はエラーが返るべきです")
	}
	if model.KindOf(err) != model.ErrKindSizeViolation {
		t.Errorf("エラー種別が期待と異なります: got=%s", model.KindOf(err))
	}
}

func TestClient_RawContentURL(t *testing.T) {
	c := NewClient(nil, nil, slog.New(slog.DiscardHandler), "", "ua", 0)
	got := c.RawContentURL("alice", "recipes", "main", "breakfast/pancakes.cook")
	want := "https://raw.githubusercontent.com/alice/recipes/main/breakfast/pancakes.cook"
	if got != want {
		t.Errorf("rawファイルURLが期待と異なります: got=%s want=%s", got, want)
	}
}
