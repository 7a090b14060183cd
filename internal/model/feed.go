// Package model はドメインモデルを定義する。
package model

import "time"

// Feed は定期クロール対象のレシピフィード（RSS/Atom）を表す。
// URLはシステム全体で一意。
type Feed struct {
	ID           int64
	URL          string
	Title        string
	Author       string
	ETag         string
	LastModified *time.Time
	Status       FeedStatus
	ErrorCount   int
	ErrorMessage string
	LastFetchAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FeedStatus はフィードのライフサイクル状態を表す。
type FeedStatus string

const (
	// FeedStatusActive はクロール対象のアクティブ状態。
	FeedStatusActive FeedStatus = "active"
	// FeedStatusDisabled は設定同期により無効化された状態。
	FeedStatusDisabled FeedStatus = "disabled"
	// FeedStatusError はフェッチ/パース失敗によるエラー状態。
	// 次回のフェッチ成功でactiveに戻る。
	FeedStatusError FeedStatus = "error"
)

// RepositorySource はソースコードリポジトリを源泉とするフィードを表す。
// (Owner, RepoName) の組はシステム全体で一意で、Feedと1対1に対応する。
// LastCommitSHAが最新コミットと一致する場合、再インデックスは何も行わない。
type RepositorySource struct {
	ID            int64
	FeedID        int64
	RepositoryURL string
	Owner         string
	RepoName      string
	DefaultBranch string
	LastCommitSHA string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RepositoryRecipe はリポジトリ内の1レシピファイルとRecipeの対応を表す。
// (RepositorySourceID, FilePath) の組で識別し、FileSHAの比較で
// ダウンロード省略を判定する。
type RepositoryRecipe struct {
	ID                 int64
	RecipeID           int64
	RepositorySourceID int64
	FilePath           string
	FileSHA            string
	RawURL             string
	HTMLURL            string
}

// RepositorySourceWithStats はリポジトリソースとレシピ件数を結合したモデル。
type RepositorySourceWithStats struct {
	RepositorySource
	RecipeCount int
}
