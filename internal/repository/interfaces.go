// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/cookfed/internal/model"
)

// FeedRepository はフィードデータの永続化インターフェース。
type FeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Feed, error)

	// FindByURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Feed, error)

	// Create はフィードを作成し、feed.IDに採番結果を書き込む。
	Create(ctx context.Context, feed *model.Feed) error

	// UpdateMetadata はフィードのタイトルと著者を更新する。
	UpdateMetadata(ctx context.Context, id int64, title, author string) error

	// UpdateFetchState はフィードのキャッシュトークンと最終フェッチ時刻を更新する。
	UpdateFetchState(ctx context.Context, id int64, etag string, lastModified *time.Time) error

	// UpdateStatus はフィードの状態・エラー回数・エラーメッセージを更新する。
	UpdateStatus(ctx context.Context, id int64, status model.FeedStatus, errorCount int, errorMessage string) error

	// ListByStatus は指定状態のフィードをoffsetページネーションで取得する。
	// statusが空文字列の場合は全フィードを対象とする。
	ListByStatus(ctx context.Context, status model.FeedStatus, limit, offset int) ([]*model.Feed, error)

	// Delete は指定IDのフィードを削除する。関連レシピはCASCADE削除される。
	Delete(ctx context.Context, id int64) error
}

// RecipeRepository はレシピデータの永続化インターフェース。
// (feed_id, external_id) の組が同一性の鍵となる。
type RecipeRepository interface {
	// FindByID は指定IDのレシピを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Recipe, error)

	// FindByFeedAndExternalID は同一性の鍵でレシピを検索する。見つからない場合はnilを返す。
	FindByFeedAndExternalID(ctx context.Context, feedID int64, externalID string) (*model.Recipe, error)

	// ListByContentHash は同一ダイジェストを持つレシピ（ソース横断の重複）を返す。
	ListByContentHash(ctx context.Context, contentHash string) ([]*model.Recipe, error)

	// Create は新規レシピを作成して返す。
	Create(ctx context.Context, newRecipe *model.NewRecipe) (*model.Recipe, error)

	// UpdateContent は本文・ダイジェスト・コンテンツ用キャッシュトークン・
	// エントリタイムスタンプを更新する。
	UpdateContent(ctx context.Context, id int64, content, contentHash, etag string, lastModified, entryUpdated *time.Time) error

	// UpdateFeedEntryTimestamp はエントリのupdatedタイムスタンプ追跡値のみを更新する。
	// 条件付きフェッチがNotModifiedを返した場合に使用する。
	UpdateFeedEntryTimestamp(ctx context.Context, id int64, entryUpdated *time.Time) error

	// UpdateContentTokens はコンテンツ用キャッシュトークンとエントリタイムスタンプ
	// 追跡値のみを更新する。本文とダイジェストは書き換えない
	// （ダイジェスト一致時のコメント・空白のみの変更で使用する）。
	UpdateContentTokens(ctx context.Context, id int64, etag string, lastModified, entryUpdated *time.Time) error

	// MarkIndexed は検索インデックス投入時刻を記録する。
	MarkIndexed(ctx context.Context, id int64) error

	// DeleteByFeed は指定フィードの全レシピを削除し、削除したレシピIDを返す。
	DeleteByFeed(ctx context.Context, feedID int64) ([]int64, error)
}

// TagRepository はタグの永続化インターフェース。
// タグ名はtrim + 小文字化で正規化されてから保存される。
type TagRepository interface {
	// SetRecipeTags はレシピのタグ集合を置き換える。
	SetRecipeTags(ctx context.Context, recipeID int64, names []string) error

	// DeleteOrphans はどのレシピからも参照されないタグを削除し、削除件数を返す。
	DeleteOrphans(ctx context.Context) (int64, error)
}

// IngredientRepository は材料の永続化インターフェース。
// 材料名はtrim + 小文字化で正規化されてから保存される。
type IngredientRepository interface {
	// SetRecipeIngredients はレシピの材料集合を置き換える。
	SetRecipeIngredients(ctx context.Context, recipeID int64, ingredients []model.RecipeIngredient) error

	// DeleteOrphans はどのレシピからも参照されない材料を削除し、削除件数を返す。
	DeleteOrphans(ctx context.Context) (int64, error)
}

// RepositorySourceRepository はリポジトリソースとレシピファイル対応の
// 永続化インターフェース。
type RepositorySourceRepository interface {
	// FindByID は指定IDのリポジトリソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.RepositorySource, error)

	// FindByOwnerRepo は (owner, repo) の組でリポジトリソースを検索する。
	// 見つからない場合はnilを返す。
	FindByOwnerRepo(ctx context.Context, owner, repoName string) (*model.RepositorySource, error)

	// Create はリポジトリソースを作成し、source.IDに採番結果を書き込む。
	Create(ctx context.Context, source *model.RepositorySource) error

	// UpdateDefaultBranch はデフォルトブランチ名を更新する。
	UpdateDefaultBranch(ctx context.Context, id int64, branch string) error

	// UpdateLastCommitSHA は最終インデックス済みコミットSHAを更新する。
	// バッチコミット成功後にのみ呼び出すこと。
	UpdateLastCommitSHA(ctx context.Context, id int64, sha string) error

	// ListWithStats は全リポジトリソースをレシピ件数付きで返す。
	ListWithStats(ctx context.Context) ([]*model.RepositorySourceWithStats, error)

	// Delete は指定IDのリポジトリソースを削除する。
	// 関連するレシピファイル対応はCASCADE削除される。
	Delete(ctx context.Context, id int64) error

	// FindRecipeByPath は (リポジトリソース, ファイルパス) でレシピファイル対応を検索する。
	// 見つからない場合はnilを返す。
	FindRecipeByPath(ctx context.Context, sourceID int64, filePath string) (*model.RepositoryRecipe, error)

	// CreateRecipe はレシピファイル対応を作成する。
	CreateRecipe(ctx context.Context, rec *model.RepositoryRecipe) error

	// UpdateRecipeSHA はレシピファイルのblob SHAを更新する。
	UpdateRecipeSHA(ctx context.Context, id int64, fileSHA string) error
}
