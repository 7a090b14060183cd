package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/cookfed/internal/model"
)

// PostgresRepoSourceRepo はPostgreSQLを使用したリポジトリソースリポジトリ。
type PostgresRepoSourceRepo struct {
	db *sql.DB
}

// NewPostgresRepoSourceRepo はPostgresRepoSourceRepoを生成する。
func NewPostgresRepoSourceRepo(db *sql.DB) *PostgresRepoSourceRepo {
	return &PostgresRepoSourceRepo{db: db}
}

const repoSourceColumns = `id, feed_id, repository_url, owner, repo_name,
        default_branch, last_commit_sha, created_at, updated_at`

func scanRepoSource(row interface{ Scan(...any) error }) (*model.RepositorySource, error) {
	source := &model.RepositorySource{}
	var lastCommitSHA sql.NullString

	err := row.Scan(
		&source.ID, &source.FeedID, &source.RepositoryURL,
		&source.Owner, &source.RepoName, &source.DefaultBranch,
		&lastCommitSHA, &source.CreatedAt, &source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	source.LastCommitSHA = nullStringValue(lastCommitSHA)
	return source, nil
}

// FindByID は指定IDのリポジトリソースを取得する。見つからない場合はnilを返す。
func (r *PostgresRepoSourceRepo) FindByID(ctx context.Context, id int64) (*model.RepositorySource, error) {
	source, err := scanRepoSource(r.db.QueryRowContext(ctx,
		`SELECT `+repoSourceColumns+` FROM repository_sources WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リポジトリソースの取得に失敗しました: %w", err)
	}
	return source, nil
}

// FindByOwnerRepo は (owner, repo) の組でリポジトリソースを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresRepoSourceRepo) FindByOwnerRepo(ctx context.Context, owner, repoName string) (*model.RepositorySource, error) {
	source, err := scanRepoSource(r.db.QueryRowContext(ctx,
		`SELECT `+repoSourceColumns+` FROM repository_sources
		 WHERE owner = $1 AND repo_name = $2`,
		owner, repoName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リポジトリソースの検索に失敗しました: %w", err)
	}
	return source, nil
}

// Create はリポジトリソースを作成し、source.IDに採番結果を書き込む。
func (r *PostgresRepoSourceRepo) Create(ctx context.Context, source *model.RepositorySource) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO repository_sources (feed_id, repository_url, owner, repo_name,
		                                 default_branch, last_commit_sha)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		source.FeedID, source.RepositoryURL, source.Owner, source.RepoName,
		source.DefaultBranch, nullString(source.LastCommitSHA),
	).Scan(&source.ID, &source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("リポジトリソースの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateDefaultBranch はデフォルトブランチ名を更新する。
func (r *PostgresRepoSourceRepo) UpdateDefaultBranch(ctx context.Context, id int64, branch string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE repository_sources SET default_branch = $2, updated_at = now() WHERE id = $1`,
		id, branch)
	if err != nil {
		return fmt.Errorf("デフォルトブランチの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateLastCommitSHA は最終インデックス済みコミットSHAを更新する。
func (r *PostgresRepoSourceRepo) UpdateLastCommitSHA(ctx context.Context, id int64, sha string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE repository_sources SET last_commit_sha = $2, updated_at = now() WHERE id = $1`,
		id, nullString(sha))
	if err != nil {
		return fmt.Errorf("コミットSHAの更新に失敗しました: %w", err)
	}
	return nil
}

// ListWithStats は全リポジトリソースをレシピ件数付きで返す。
func (r *PostgresRepoSourceRepo) ListWithStats(ctx context.Context) ([]*model.RepositorySourceWithStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT rs.id, rs.feed_id, rs.repository_url, rs.owner, rs.repo_name,
		        rs.default_branch, rs.last_commit_sha, rs.created_at, rs.updated_at,
		        COUNT(rr.id) AS recipe_count
		 FROM repository_sources rs
		 LEFT JOIN repository_recipes rr ON rs.id = rr.repository_source_id
		 GROUP BY rs.id
		 ORDER BY rs.owner ASC, rs.repo_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("リポジトリソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.RepositorySourceWithStats
	for rows.Next() {
		item := &model.RepositorySourceWithStats{}
		var lastCommitSHA sql.NullString
		if err := rows.Scan(
			&item.ID, &item.FeedID, &item.RepositoryURL,
			&item.Owner, &item.RepoName, &item.DefaultBranch,
			&lastCommitSHA, &item.CreatedAt, &item.UpdatedAt,
			&item.RecipeCount,
		); err != nil {
			return nil, fmt.Errorf("リポジトリソースの読み取りに失敗しました: %w", err)
		}
		item.LastCommitSHA = nullStringValue(lastCommitSHA)
		sources = append(sources, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リポジトリソース一覧の走査に失敗しました: %w", err)
	}
	return sources, nil
}

// Delete は指定IDのリポジトリソースを削除する。
func (r *PostgresRepoSourceRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM repository_sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("リポジトリソースの削除に失敗しました: %w", err)
	}
	return nil
}

const repoRecipeColumns = `id, recipe_id, repository_source_id, file_path,
        file_sha, raw_url, html_url`

func scanRepoRecipe(row interface{ Scan(...any) error }) (*model.RepositoryRecipe, error) {
	rec := &model.RepositoryRecipe{}
	var rawURL, htmlURL sql.NullString
	err := row.Scan(
		&rec.ID, &rec.RecipeID, &rec.RepositorySourceID,
		&rec.FilePath, &rec.FileSHA, &rawURL, &htmlURL,
	)
	if err != nil {
		return nil, err
	}
	rec.RawURL = nullStringValue(rawURL)
	rec.HTMLURL = nullStringValue(htmlURL)
	return rec, nil
}

// FindRecipeByPath は (リポジトリソース, ファイルパス) でレシピファイル対応を検索する。
// 見つからない場合はnilを返す。
func (r *PostgresRepoSourceRepo) FindRecipeByPath(ctx context.Context, sourceID int64, filePath string) (*model.RepositoryRecipe, error) {
	rec, err := scanRepoRecipe(r.db.QueryRowContext(ctx,
		`SELECT `+repoRecipeColumns+` FROM repository_recipes
		 WHERE repository_source_id = $1 AND file_path = $2`,
		sourceID, filePath))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("レシピファイル対応の検索に失敗しました: %w", err)
	}
	return rec, nil
}

// CreateRecipe はレシピファイル対応を作成する。
func (r *PostgresRepoSourceRepo) CreateRecipe(ctx context.Context, rec *model.RepositoryRecipe) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO repository_recipes (recipe_id, repository_source_id, file_path,
		                                 file_sha, raw_url, html_url)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		rec.RecipeID, rec.RepositorySourceID, rec.FilePath,
		rec.FileSHA, nullString(rec.RawURL), nullString(rec.HTMLURL),
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("レシピファイル対応の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateRecipeSHA はレシピファイルのblob SHAを更新する。
func (r *PostgresRepoSourceRepo) UpdateRecipeSHA(ctx context.Context, id int64, fileSHA string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE repository_recipes SET file_sha = $2 WHERE id = $1`,
		id, fileSHA)
	if err != nil {
		return fmt.Errorf("blob SHAの更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RepositorySourceRepository = (*PostgresRepoSourceRepo)(nil)
