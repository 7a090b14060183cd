package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/cookfed/internal/model"
)

// PostgresIngredientRepo はPostgreSQLを使用した材料リポジトリ。
type PostgresIngredientRepo struct {
	db *sql.DB
}

// NewPostgresIngredientRepo はPostgresIngredientRepoを生成する。
func NewPostgresIngredientRepo(db *sql.DB) *PostgresIngredientRepo {
	return &PostgresIngredientRepo{db: db}
}

// SetRecipeIngredients はレシピの材料集合を置き換える。
func (r *PostgresIngredientRepo) SetRecipeIngredients(ctx context.Context, recipeID int64, ingredients []model.RecipeIngredient) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recipe_ingredients WHERE recipe_id = $1`, recipeID); err != nil {
		return fmt.Errorf("既存材料関連の削除に失敗しました: %w", err)
	}

	seen := make(map[string]struct{}, len(ingredients))
	for _, ing := range ingredients {
		name := normalizeName(ing.Name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		var ingredientID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO ingredients (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`,
			name).Scan(&ingredientID)
		if err != nil {
			return fmt.Errorf("材料の取得または作成に失敗しました: %w", err)
		}

		var quantity sql.NullFloat64
		if ing.Quantity != nil {
			quantity = sql.NullFloat64{Float64: *ing.Quantity, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recipe_ingredients (recipe_id, ingredient_id, quantity, unit)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT DO NOTHING`,
			recipeID, ingredientID, quantity, nullString(ing.Unit)); err != nil {
			return fmt.Errorf("材料関連の作成に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("材料更新のコミットに失敗しました: %w", err)
	}
	return nil
}

// DeleteOrphans はどのレシピからも参照されない材料を削除し、削除件数を返す。
func (r *PostgresIngredientRepo) DeleteOrphans(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM ingredients
		 WHERE NOT EXISTS (
		    SELECT 1 FROM recipe_ingredients ri WHERE ri.ingredient_id = ingredients.id
		 )`)
	if err != nil {
		return 0, fmt.Errorf("孤立材料の削除に失敗しました: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ IngredientRepository = (*PostgresIngredientRepo)(nil)
