package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/cookfed/internal/model"
)

const (
	defaultAPIBase = "https://api.github.com"
	defaultRawBase = "https://raw.githubusercontent.com"
	acceptHeader   = "application/vnd.github.v3+json"
)

// Client はGitHub REST APIの薄いラッパー。
// APIエンドポイントへのリクエストはQuotaLimiterを通し、
// raw.githubusercontent.comからのファイル取得はレートリミット対象外のため通さない。
type Client struct {
	httpClient  *http.Client
	limiter     *QuotaLimiter
	logger      *slog.Logger
	token       string
	userAgent   string
	maxFileSize int64

	// テスト時に差し替え可能なエンドポイント
	apiBase string
	rawBase string
}

// NewClient はGitHubクライアントを生成する。tokenが空の場合は未認証でアクセスする。
func NewClient(httpClient *http.Client, limiter *QuotaLimiter, logger *slog.Logger, token, userAgent string, maxFileSize int64) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient:  httpClient,
		limiter:     limiter,
		logger:      logger,
		token:       token,
		userAgent:   userAgent,
		maxFileSize: maxFileSize,
		apiBase:     defaultAPIBase,
		rawBase:     defaultRawBase,
	}
}

// GetRepository はリポジトリのメタデータを取得する。
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	var r Repository
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo))
	if err := c.getJSON(ctx, path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetBranchHead は指定ブランチの最新コミットを取得する。
func (c *Client) GetBranchHead(ctx context.Context, owner, repo, branch string) (*Commit, error) {
	var commit Commit
	path := fmt.Sprintf("/repos/%s/%s/commits/%s",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(branch))
	if err := c.getJSON(ctx, path, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}

// GetTree はツリーを再帰的に取得する。サブディレクトリ配下のエントリも
// フラットに含まれる。
func (c *Client) GetTree(ctx context.Context, owner, repo, treeSHA string) (*Tree, error) {
	var tree Tree
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(treeSHA))
	if err := c.getJSON(ctx, path, &tree); err != nil {
		return nil, err
	}
	if tree.Truncated {
		c.logger.Warn("ツリーが大きすぎて切り詰められました。一部のファイルが見えていません",
			"owner", owner, "repo", repo, "tree_sha", treeSHA)
	}
	return &tree, nil
}

// RawContentURL はraw.githubusercontent.com上のファイルURLを返す。
func (c *Client) RawContentURL(owner, repo, branch, filePath string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", c.rawBase, owner, repo, branch, filePath)
}

// DownloadRawContent はraw.githubusercontent.comからファイル本体を取得する。
// このホストはAPIレートリミットの対象外のためQuotaLimiterを通さない。
// maxFileSizeを超えるファイルはエラーとする。
func (c *Client) DownloadRawContent(ctx context.Context, owner, repo, branch, filePath string) ([]byte, error) {
	rawURL := c.RawContentURL(owner, repo, branch, filePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.WrapError(model.ErrKindTransient, "ファイルの取得に失敗しました", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp.StatusCode, rawURL); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}
	if c.maxFileSize > 0 && resp.ContentLength > c.maxFileSize {
		return nil, model.NewError(model.ErrKindSizeViolation,
			fmt.Sprintf("ファイルサイズが上限を超えています: %d bytes", resp.ContentLength))
	}

	limit := c.maxFileSize
	if limit <= 0 {
		limit = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, model.WrapError(model.ErrKindTransient, "レスポンスの読み取りに失敗しました", err)
	}
	if int64(len(body)) > limit {
		return nil, model.NewError(model.ErrKindSizeViolation,
			fmt.Sprintf("ファイルサイズが上限を超えています: %d bytesを超過", limit))
	}
	return body, nil
}

// getJSON はAPIエンドポイントへのGETリクエストを実行しJSONをデコードする。
// リクエスト前にレートリミット残量を確認し、レスポンスヘッダで状態を更新する。
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.WaitIfNeeded(ctx); err != nil {
			return err
		}
	}

	reqURL := c.apiBase + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.WrapError(model.ErrKindTransient, "GitHub APIへのリクエストに失敗しました", err)
	}
	defer resp.Body.Close()

	if c.limiter != nil {
		c.limiter.UpdateFromHeaders(resp.Header)
	}

	if err := c.checkStatus(resp.StatusCode, reqURL); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.WrapError(model.ErrKindTransient, "レスポンスの読み取りに失敗しました", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return model.WrapError(model.ErrKindParse, "レスポンスのパースに失敗しました", err)
	}
	return nil
}

// checkStatus はHTTPステータスコードをエラー種別に変換する。
// 429と5xxは再試行可能、404は未検出、それ以外の4xxは恒久エラーとする。
func (c *Client) checkStatus(status int, reqURL string) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusNotFound:
		return model.NewError(model.ErrKindNotFound,
			fmt.Sprintf("リソースが見つかりません: %s", reqURL))
	case status == http.StatusTooManyRequests || status >= 500:
		return model.NewError(model.ErrKindTransient,
			fmt.Sprintf("一時的なエラー: status=%d url=%s", status, reqURL))
	default:
		return model.NewError(model.ErrKindPermanentHTTP,
			fmt.Sprintf("GitHub APIがエラーを返しました: status=%d url=%s", status, reqURL))
	}
}
