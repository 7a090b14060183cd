package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/cookfed/internal/model"
)

// PostgresRecipeRepo はPostgreSQLを使用したレシピリポジトリ。
type PostgresRecipeRepo struct {
	db *sql.DB
}

// NewPostgresRecipeRepo はPostgresRecipeRepoを生成する。
func NewPostgresRecipeRepo(db *sql.DB) *PostgresRecipeRepo {
	return &PostgresRecipeRepo{db: db}
}

const recipeColumns = `id, feed_id, external_id, title, source_url, enclosure_url,
        content, summary, servings, total_time_minutes, active_time_minutes,
        difficulty, image_url, content_hash, content_etag, content_last_modified,
        feed_entry_updated, published_at, updated_at, indexed_at, created_at`

func scanRecipe(row interface{ Scan(...any) error }) (*model.Recipe, error) {
	recipe := &model.Recipe{}
	var sourceURL, enclosureURL, content, summary sql.NullString
	var difficulty, imageURL, contentHash, contentETag sql.NullString
	var servings, totalTime, activeTime sql.NullInt64
	var contentLastModified, feedEntryUpdated, publishedAt, updatedAt, indexedAt sql.NullTime

	err := row.Scan(
		&recipe.ID, &recipe.FeedID, &recipe.ExternalID, &recipe.Title,
		&sourceURL, &enclosureURL, &content, &summary,
		&servings, &totalTime, &activeTime, &difficulty,
		&imageURL, &contentHash, &contentETag, &contentLastModified,
		&feedEntryUpdated, &publishedAt, &updatedAt, &indexedAt,
		&recipe.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	recipe.SourceURL = nullStringValue(sourceURL)
	recipe.EnclosureURL = nullStringValue(enclosureURL)
	if content.Valid {
		recipe.Content = &content.String
	}
	recipe.Summary = nullStringValue(summary)
	recipe.Facts = model.RecipeFacts{
		Servings:          nullInt64Value(servings),
		TotalTimeMinutes:  nullInt64Value(totalTime),
		ActiveTimeMinutes: nullInt64Value(activeTime),
		Difficulty:        nullStringValue(difficulty),
	}
	recipe.ImageURL = nullStringValue(imageURL)
	recipe.ContentHash = nullStringValue(contentHash)
	recipe.ContentETag = nullStringValue(contentETag)
	recipe.ContentLastModified = nullTimeValue(contentLastModified)
	recipe.FeedEntryUpdated = nullTimeValue(feedEntryUpdated)
	recipe.PublishedAt = nullTimeValue(publishedAt)
	recipe.UpdatedAt = nullTimeValue(updatedAt)
	recipe.IndexedAt = nullTimeValue(indexedAt)

	return recipe, nil
}

// FindByID は指定IDのレシピを取得する。見つからない場合はnilを返す。
func (r *PostgresRecipeRepo) FindByID(ctx context.Context, id int64) (*model.Recipe, error) {
	recipe, err := scanRecipe(r.db.QueryRowContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("レシピの取得に失敗しました: %w", err)
	}
	return recipe, nil
}

// FindByFeedAndExternalID は同一性の鍵でレシピを検索する。見つからない場合はnilを返す。
func (r *PostgresRecipeRepo) FindByFeedAndExternalID(ctx context.Context, feedID int64, externalID string) (*model.Recipe, error) {
	recipe, err := scanRecipe(r.db.QueryRowContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes WHERE feed_id = $1 AND external_id = $2`,
		feedID, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部IDによるレシピの検索に失敗しました: %w", err)
	}
	return recipe, nil
}

// ListByContentHash は同一ダイジェストを持つレシピを返す。
func (r *PostgresRecipeRepo) ListByContentHash(ctx context.Context, contentHash string) ([]*model.Recipe, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes WHERE content_hash = $1 ORDER BY id ASC`,
		contentHash)
	if err != nil {
		return nil, fmt.Errorf("ダイジェストによるレシピの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var recipes []*model.Recipe
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("レシピの読み取りに失敗しました: %w", err)
		}
		recipes = append(recipes, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("レシピの走査に失敗しました: %w", err)
	}
	return recipes, nil
}

// Create は新規レシピを作成して返す。
func (r *PostgresRecipeRepo) Create(ctx context.Context, newRecipe *model.NewRecipe) (*model.Recipe, error) {
	var content sql.NullString
	if newRecipe.Content != nil {
		content = sql.NullString{String: *newRecipe.Content, Valid: true}
	}

	recipe := &model.Recipe{
		FeedID:              newRecipe.FeedID,
		ExternalID:          newRecipe.ExternalID,
		Title:               newRecipe.Title,
		SourceURL:           newRecipe.SourceURL,
		EnclosureURL:        newRecipe.EnclosureURL,
		Content:             newRecipe.Content,
		Summary:             newRecipe.Summary,
		Facts:               newRecipe.Facts,
		ImageURL:            newRecipe.ImageURL,
		ContentHash:         newRecipe.ContentHash,
		ContentETag:         newRecipe.ContentETag,
		ContentLastModified: newRecipe.ContentLastModified,
		FeedEntryUpdated:    newRecipe.FeedEntryUpdated,
		PublishedAt:         newRecipe.PublishedAt,
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO recipes (feed_id, external_id, title, source_url, enclosure_url,
		                      content, summary, servings, total_time_minutes,
		                      active_time_minutes, difficulty, image_url, content_hash,
		                      content_etag, content_last_modified, feed_entry_updated,
		                      published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING id, created_at`,
		newRecipe.FeedID, newRecipe.ExternalID, newRecipe.Title,
		nullString(newRecipe.SourceURL), nullString(newRecipe.EnclosureURL),
		content, nullString(newRecipe.Summary),
		nullInt64(newRecipe.Facts.Servings), nullInt64(newRecipe.Facts.TotalTimeMinutes),
		nullInt64(newRecipe.Facts.ActiveTimeMinutes), nullString(newRecipe.Facts.Difficulty),
		nullString(newRecipe.ImageURL), nullString(newRecipe.ContentHash),
		nullString(newRecipe.ContentETag), nullTime(newRecipe.ContentLastModified),
		nullTime(newRecipe.FeedEntryUpdated), nullTime(newRecipe.PublishedAt),
	).Scan(&recipe.ID, &recipe.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("レシピの作成に失敗しました: %w", err)
	}
	return recipe, nil
}

// UpdateContent は本文・ダイジェスト・キャッシュトークン・エントリタイムスタンプを更新する。
func (r *PostgresRecipeRepo) UpdateContent(ctx context.Context, id int64, content, contentHash, etag string, lastModified, entryUpdated *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recipes SET
		    content = $2,
		    content_hash = $3,
		    content_etag = $4,
		    content_last_modified = $5,
		    feed_entry_updated = $6,
		    updated_at = now()
		 WHERE id = $1`,
		id, content, nullString(contentHash), nullString(etag),
		nullTime(lastModified), nullTime(entryUpdated),
	)
	if err != nil {
		return fmt.Errorf("レシピ本文の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateFeedEntryTimestamp はエントリのupdatedタイムスタンプ追跡値のみを更新する。
func (r *PostgresRecipeRepo) UpdateFeedEntryTimestamp(ctx context.Context, id int64, entryUpdated *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recipes SET feed_entry_updated = $2 WHERE id = $1`,
		id, nullTime(entryUpdated),
	)
	if err != nil {
		return fmt.Errorf("エントリタイムスタンプの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateContentTokens はキャッシュトークンとエントリタイムスタンプのみを更新する。
// 本文とダイジェストは書き換えない。
func (r *PostgresRecipeRepo) UpdateContentTokens(ctx context.Context, id int64, etag string, lastModified, entryUpdated *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recipes SET
		    content_etag = $2,
		    content_last_modified = $3,
		    feed_entry_updated = $4
		 WHERE id = $1`,
		id, nullString(etag), nullTime(lastModified), nullTime(entryUpdated),
	)
	if err != nil {
		return fmt.Errorf("キャッシュトークンの更新に失敗しました: %w", err)
	}
	return nil
}

// MarkIndexed は検索インデックス投入時刻を記録する。
func (r *PostgresRecipeRepo) MarkIndexed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recipes SET indexed_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("インデックス時刻の記録に失敗しました: %w", err)
	}
	return nil
}

// DeleteByFeed は指定フィードの全レシピを削除し、削除したレシピIDを返す。
func (r *PostgresRecipeRepo) DeleteByFeed(ctx context.Context, feedID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM recipes WHERE feed_id = $1 RETURNING id`, feedID)
	if err != nil {
		return nil, fmt.Errorf("フィード配下レシピの削除に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("削除レシピIDの読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("削除レシピIDの走査に失敗しました: %w", err)
	}
	return ids, nil
}

// nullInt64 は*int64をsql.NullInt64に変換する。
func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// nullInt64Value はsql.NullInt64から*int64を取得する。
func nullInt64Value(nv sql.NullInt64) *int64 {
	if nv.Valid {
		v := nv.Int64
		return &v
	}
	return nil
}

// compile-time interface check
var _ RecipeRepository = (*PostgresRecipeRepo)(nil)
