// Package cooklang はレシピマークアップのセマンティックパーサーとの
// 連携インターフェースを定義する。
//
// パース処理自体は外部コラボレータであり、本パッケージは型と
// インターフェースのみを提供する。クロールとインデックスの各コンポーネントは
// Parserを注入されて使用し、テストではスタブ実装を用いる。
package cooklang

// Ingredient はマークアップから抽出された材料1件。
type Ingredient struct {
	Name     string
	Quantity *float64
	Unit     string
}

// Metadata はマークアップのメタデータ行から抽出される構造化情報。
// 任意項目はnil/空で未設定を表す。自由形式のメタデータはCustomに残す。
type Metadata struct {
	Servings          *int64
	TotalTimeMinutes  *int64
	ActiveTimeMinutes *int64
	Difficulty        string
	Image             string
	Tags              []string
	Custom            []KV
}

// KV は自由形式メタデータのキーと値の組。
type KV struct {
	Key   string
	Value string
}

// Recipe はパース済みレシピの構造化表現。
type Recipe struct {
	Ingredients []Ingredient
	Steps       []string
	Metadata    *Metadata
}

// Parser はレシピマークアップのセマンティックパース機能のインターフェース。
// 実装はマークアップ本文を受け取り、材料・手順・メタデータを抽出して返す。
type Parser interface {
	Parse(content string) (*Recipe, error)
}
