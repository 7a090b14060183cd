// Package search はレシピの全文検索インデックスを提供する。
// インデックスはディスク上のbleveインデックスで、データベースが正とし
// インデックスは再構築可能な派生データとして扱う。
package search

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	// DefaultLimit はlimit未指定時の1ページあたりの件数。
	DefaultLimit = 20
	// MaxLimit は1ページあたりの件数の上限。超過分はこの値に丸める。
	MaxLimit = 100
)

// Document は検索インデックスに投入する1レシピ分のドキュメント。
// スキーマは固定で、全フィールドをこの構造体経由で投入する。
type Document struct {
	ID           int64
	Title        string
	Summary      string
	Instructions string
	Ingredients  []string
	Tags         []string
	Difficulty   string
	Servings     *int64
	TotalTime    *int64
	FilePath     string
}

// fields はbleveに渡すマップ表現を返す。
// nilの数値フィールドは投入しない（未設定として検索対象外になる）。
func (d *Document) fields() map[string]any {
	m := map[string]any{
		"id":           d.ID,
		"title":        d.Title,
		"summary":      d.Summary,
		"instructions": d.Instructions,
		"ingredients":  d.Ingredients,
		"tags":         d.Tags,
		"file_path":    d.FilePath,
	}
	if d.Difficulty != "" {
		m["difficulty"] = d.Difficulty
	}
	if d.Servings != nil {
		m["servings"] = float64(*d.Servings)
	}
	if d.TotalTime != nil {
		m["total_time"] = float64(*d.TotalTime)
	}
	return m
}

// Hit は検索結果の1件。IDはレシピのデータベースIDに対応する。
type Hit struct {
	ID    int64
	Score float64
}

// Results は1回の検索のページング済み結果。
type Results struct {
	Hits       []Hit
	Total      uint64
	Page       int
	Limit      int
	TotalPages int
}

// Index はbleveインデックスのラッパー。並行アクセスはbleve側で安全。
type Index struct {
	idx bleve.Index
}

// buildMapping は固定スキーマのインデックスマッピングを構築する。
// difficultyは完全一致検索のためkeywordアナライザを使用する。
func buildMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	numericField := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("id", numericField)
	doc.AddFieldMappingsAt("title", textField)
	doc.AddFieldMappingsAt("summary", textField)
	doc.AddFieldMappingsAt("instructions", textField)
	doc.AddFieldMappingsAt("ingredients", textField)
	doc.AddFieldMappingsAt("tags", textField)
	doc.AddFieldMappingsAt("difficulty", keywordField)
	doc.AddFieldMappingsAt("servings", numericField)
	doc.AddFieldMappingsAt("total_time", numericField)
	doc.AddFieldMappingsAt("file_path", textField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Open は指定パスのインデックスを開く。存在しない場合は新規作成する。
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist || os.IsNotExist(err) {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("検索インデックスのオープンに失敗しました: %w", err)
	}
	return &Index{idx: idx}, nil
}

// OpenInMemory はディスクに書き込まないインデックスを開く。テスト用。
func OpenInMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("インメモリインデックスの作成に失敗しました: %w", err)
	}
	return &Index{idx: idx}, nil
}

// Close はインデックスを閉じる。
func (i *Index) Close() error {
	return i.idx.Close()
}

// Batch は複数ドキュメントの変更を1回のコミットにまとめる。
// コミットまでは検索結果に反映されない。
type Batch struct {
	batch *bleve.Batch
}

// NewBatch は空のバッチを生成する。
func (i *Index) NewBatch() *Batch {
	return &Batch{batch: i.idx.NewBatch()}
}

// Add はドキュメントをバッチに追加する。
// 同一IDの既存ドキュメントは削除してから追加する（部分更新は行わない）。
func (b *Batch) Add(doc *Document) error {
	docID := strconv.FormatInt(doc.ID, 10)
	b.batch.Delete(docID)
	if err := b.batch.Index(docID, doc.fields()); err != nil {
		return fmt.Errorf("ドキュメントのバッチ追加に失敗しました: %w", err)
	}
	return nil
}

// Delete はドキュメントの削除をバッチに追加する。
func (b *Batch) Delete(id int64) {
	b.batch.Delete(strconv.FormatInt(id, 10))
}

// Size はバッチ内の操作数を返す。
func (b *Batch) Size() int {
	return b.batch.Size()
}

// Commit はバッチの内容をインデックスに適用する。
// 適用はバッチ単位でアトミックに行われる。
func (i *Index) Commit(b *Batch) error {
	if err := i.idx.Batch(b.batch); err != nil {
		return fmt.Errorf("バッチのコミットに失敗しました: %w", err)
	}
	return nil
}

// IndexDocuments は複数ドキュメントを1バッチでコミットする。
// 呼び出し側から見て全件が一度に検索可能になる。
func (i *Index) IndexDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := i.NewBatch()
	for _, doc := range docs {
		if err := batch.Add(doc); err != nil {
			return err
		}
	}
	return i.Commit(batch)
}

// DeleteDocuments は複数ドキュメントの削除を1バッチでコミットする。
func (i *Index) DeleteDocuments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	batch := i.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return i.Commit(batch)
}

// DeleteOne は単一ドキュメントを即時に削除する。
func (i *Index) DeleteOne(id int64) error {
	if err := i.idx.Delete(strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗しました: %w", err)
	}
	return nil
}

// DocCount はインデックス内のドキュメント数を返す。
func (i *Index) DocCount() (uint64, error) {
	return i.idx.DocCount()
}

// Search はクエリ文字列でインデックスを検索する。
// クエリが空の場合は全件を対象とする。
// クエリ構文はbleveのquery string構文で、フィールド指定
// （例: "tags:dinner difficulty:easy total_time:<=60"）を含められる。
// pageは1始まり。limitは上限MaxLimitに丸められ、0以下はDefaultLimitになる。
func (i *Index) Search(ctx context.Context, queryStr string, page, limit int) (*Results, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page < 1 {
		page = 1
	}

	var req *bleve.SearchRequest
	if strings.TrimSpace(queryStr) == "" {
		req = bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), limit, (page-1)*limit, false)
	} else {
		req = bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(queryStr), limit, (page-1)*limit, false)
	}

	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("検索の実行に失敗しました: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			// 数値以外のdocIDは混入しない前提だが、破損時はスキップする
			continue
		}
		hits = append(hits, Hit{ID: id, Score: h.Score})
	}

	totalPages := 0
	if res.Total > 0 {
		totalPages = int(math.Ceil(float64(res.Total) / float64(limit)))
	}

	return &Results{
		Hits:       hits,
		Total:      res.Total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}
