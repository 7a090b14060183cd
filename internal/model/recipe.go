// Package model はドメインモデルを定義する。
package model

import "time"

// Recipe はフィードまたはリポジトリから取り込まれた1件のレシピを表す。
// (FeedID, ExternalID) の組が同一性の鍵で、UPSERTはこの鍵に対して行う。
// ExternalIDはフィードの場合はエントリのguid/id、リポジトリの場合はファイルパス。
type Recipe struct {
	ID         int64
	FeedID     int64
	ExternalID string
	Title      string
	SourceURL  string
	// EnclosureURL はレシピマークアップ本体へのリンク。
	EnclosureURL string
	// Content はレシピマークアップ本文。フェッチ前はnil。
	Content *string
	Summary string
	Facts   RecipeFacts
	ImageURL string
	// ContentHash は正規化済みタイトル+本文のダイジェスト。
	// ソース横断の重複検出に使用する（重複行は保存したまま検索可能にする）。
	ContentHash string
	// ContentETag / ContentLastModified はコンテンツURL用のキャッシュトークン。
	// フィード自身のトークンとは別管理。
	ContentETag         string
	ContentLastModified *time.Time
	// FeedEntryUpdated はフィードエントリのupdatedタイムスタンプの追跡値。
	FeedEntryUpdated *time.Time
	PublishedAt      *time.Time
	UpdatedAt        *time.Time
	IndexedAt        *time.Time
	CreatedAt        time.Time
}

// RecipeFacts はレシピマークアップから抽出される構造化メタデータ。
// すべて任意項目のため、ゼロ値（nil）は未設定を意味する。
type RecipeFacts struct {
	Servings          *int64
	TotalTimeMinutes  *int64
	ActiveTimeMinutes *int64
	Difficulty        string
}

// NewRecipe はレシピ作成時の入力データを表す。
type NewRecipe struct {
	FeedID              int64
	ExternalID          string
	Title               string
	SourceURL           string
	EnclosureURL        string
	Content             *string
	Summary             string
	Facts               RecipeFacts
	ImageURL            string
	ContentHash         string
	ContentETag         string
	ContentLastModified *time.Time
	FeedEntryUpdated    *time.Time
	PublishedAt         *time.Time
}

// Tag はレシピに付与される正規化済み（trim + 小文字化）のタグ。
type Tag struct {
	ID   int64
	Name string
}

// Ingredient は正規化済みの材料名。レシピと多対多で結び付く。
type Ingredient struct {
	ID   int64
	Name string
}

// RecipeIngredient はレシピ1件に対する材料と分量の組。
type RecipeIngredient struct {
	Name     string
	Quantity *float64
	Unit     string
}

// ParsedFeed はフィードパーサーが返す正規化済みフィード。
type ParsedFeed struct {
	Title   string
	Author  string
	Updated *time.Time
	Entries []ParsedEntry
}

// ParsedEntry はフィード内の1エントリ。
// EnclosureURLが空のエントリはレシピに対応しない（スキップ対象）。
type ParsedEntry struct {
	ID           string
	Title        string
	Summary      string
	SourceURL    string
	EnclosureURL string
	ImageURL     string
	PublishedAt  *time.Time
	UpdatedAt    *time.Time
	Tags         []string
}

// CrawlResult は1フィードのクロール結果カウンタ。
type CrawlResult struct {
	FeedID         int64
	NewRecipes     int
	UpdatedRecipes int
	SkippedRecipes int
}
