package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/cookfed/internal/model"
)

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

const feedColumns = `id, url, title, author, etag, last_modified, status,
        error_count, error_message, last_fetch_at, created_at, updated_at`

func scanFeed(row interface{ Scan(...any) error }) (*model.Feed, error) {
	feed := &model.Feed{}
	var title, author, etag, errorMessage sql.NullString
	var lastModified, lastFetchAt sql.NullTime

	err := row.Scan(
		&feed.ID, &feed.URL, &title, &author,
		&etag, &lastModified, &feed.Status,
		&feed.ErrorCount, &errorMessage, &lastFetchAt,
		&feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	feed.Title = nullStringValue(title)
	feed.Author = nullStringValue(author)
	feed.ETag = nullStringValue(etag)
	feed.ErrorMessage = nullStringValue(errorMessage)
	feed.LastModified = nullTimeValue(lastModified)
	feed.LastFetchAt = nullTimeValue(lastFetchAt)

	return feed, nil
}

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id int64) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// FindByURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByURL(ctx context.Context, url string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE url = $1`, url))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードURLによるフィードの検索に失敗しました: %w", err)
	}
	return feed, nil
}

// Create はフィードを作成し、feed.IDに採番結果を書き込む。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO feeds (url, title, author, etag, last_modified, status,
		                    error_count, error_message, last_fetch_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		feed.URL, nullString(feed.Title), nullString(feed.Author),
		nullString(feed.ETag), nullTime(feed.LastModified), feed.Status,
		feed.ErrorCount, nullString(feed.ErrorMessage), nullTime(feed.LastFetchAt),
	).Scan(&feed.ID, &feed.CreatedAt, &feed.UpdatedAt)
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateMetadata はフィードのタイトルと著者を更新する。
func (r *PostgresFeedRepo) UpdateMetadata(ctx context.Context, id int64, title, author string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET title = $2, author = $3, updated_at = now() WHERE id = $1`,
		id, nullString(title), nullString(author),
	)
	if err != nil {
		return fmt.Errorf("フィードメタデータの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateFetchState はフィードのキャッシュトークンと最終フェッチ時刻を更新する。
func (r *PostgresFeedRepo) UpdateFetchState(ctx context.Context, id int64, etag string, lastModified *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    etag = $2,
		    last_modified = $3,
		    last_fetch_at = now(),
		    updated_at = now()
		 WHERE id = $1`,
		id, nullString(etag), nullTime(lastModified),
	)
	if err != nil {
		return fmt.Errorf("フェッチ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus はフィードの状態・エラー回数・エラーメッセージを更新する。
func (r *PostgresFeedRepo) UpdateStatus(ctx context.Context, id int64, status model.FeedStatus, errorCount int, errorMessage string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    status = $2,
		    error_count = $3,
		    error_message = $4,
		    updated_at = now()
		 WHERE id = $1`,
		id, status, errorCount, nullString(errorMessage),
	)
	if err != nil {
		return fmt.Errorf("フィード状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ListByStatus は指定状態のフィードをoffsetページネーションで取得する。
// statusが空文字列の場合は全フィードを対象とする。
func (r *PostgresFeedRepo) ListByStatus(ctx context.Context, status model.FeedStatus, limit, offset int) ([]*model.Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds`
	args := []any{limit, offset}
	if status != "" {
		query += ` WHERE status = $3`
		args = append(args, status)
	}
	query += ` ORDER BY id ASC LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィード一覧の読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// Delete は指定IDのフィードを削除する。関連レシピはCASCADE削除される。
func (r *PostgresFeedRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullTimeValue はsql.NullTimeから*time.Timeを取得する。
func nullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
