package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresTagRepo はPostgreSQLを使用したタグリポジトリ。
type PostgresTagRepo struct {
	db *sql.DB
}

// NewPostgresTagRepo はPostgresTagRepoを生成する。
func NewPostgresTagRepo(db *sql.DB) *PostgresTagRepo {
	return &PostgresTagRepo{db: db}
}

// normalizeName はタグ・材料名を正規化する（trim + 小文字化）。
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// normalizeNames は名前リストを正規化し、空文字列と重複を除去する。
func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	var result []string
	for _, name := range names {
		n := normalizeName(name)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	return result
}

// SetRecipeTags はレシピのタグ集合を置き換える。
func (r *PostgresTagRepo) SetRecipeTags(ctx context.Context, recipeID int64, names []string) error {
	normalized := normalizeNames(names)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recipe_tags WHERE recipe_id = $1`, recipeID); err != nil {
		return fmt.Errorf("既存タグ関連の削除に失敗しました: %w", err)
	}

	for _, name := range normalized {
		var tagID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO tags (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`,
			name).Scan(&tagID)
		if err != nil {
			return fmt.Errorf("タグの取得または作成に失敗しました: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recipe_tags (recipe_id, tag_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			recipeID, tagID); err != nil {
			return fmt.Errorf("タグ関連の作成に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("タグ更新のコミットに失敗しました: %w", err)
	}
	return nil
}

// DeleteOrphans はどのレシピからも参照されないタグを削除し、削除件数を返す。
func (r *PostgresTagRepo) DeleteOrphans(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tags
		 WHERE NOT EXISTS (
		    SELECT 1 FROM recipe_tags rt WHERE rt.tag_id = tags.id
		 )`)
	if err != nil {
		return 0, fmt.Errorf("孤立タグの削除に失敗しました: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ TagRepository = (*PostgresTagRepo)(nil)
