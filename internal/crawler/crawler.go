// Package crawler はフィードの定期クロールとレシピの取り込みを提供する。
// フェッチャー、フィードパーサー、ドメイン別レート制限、
// 変更検出つきのエントリ処理、スケジューラを含む。
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/cookfed/internal/contenthash"
	"github.com/hitoshi/cookfed/internal/cooklang"
	"github.com/hitoshi/cookfed/internal/metrics"
	"github.com/hitoshi/cookfed/internal/model"
	"github.com/hitoshi/cookfed/internal/repository"
	"github.com/hitoshi/cookfed/internal/search"
)

// feedAccept はフィード取得時のAcceptヘッダー。
const feedAccept = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// ContentFetcher はHTTPフェッチのインターフェース。
type ContentFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// RecipeIndexer は検索インデックスへの投入インターフェース。
// 実装は複数ドキュメントを1バッチでコミットする。
type RecipeIndexer interface {
	IndexDocuments(ctx context.Context, docs []*search.Document) error
	DeleteDocuments(ctx context.Context, ids []int64) error
}

// Sanitizer はHTMLサニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// entryOutcome は1エントリの処理結果の分類。
type entryOutcome int

const (
	// outcomeNew は新規レシピの作成。
	outcomeNew entryOutcome = iota
	// outcomeUpdated は本文変更によるレシピ更新（再インデックスあり）。
	outcomeUpdated
	// outcomeSkippedUnchanged はエントリタイムスタンプ一致によるスキップ。
	outcomeSkippedUnchanged
	// outcomeSkippedNotModified はコンテンツURLの304によるスキップ。
	outcomeSkippedNotModified
	// outcomeSkippedSameDigest は正規化ダイジェスト一致によるスキップ
	// （コメントや空白のみの変更）。
	outcomeSkippedSameDigest
)

// Crawler は1フィードのクロールを実行する。
// フィードの条件付きGET、エントリごとの変更検出、レシピのUPSERT、
// 検索インデックスへのバッチ投入を行う。
type Crawler struct {
	feedRepo       repository.FeedRepository
	recipeRepo     repository.RecipeRepository
	tagRepo        repository.TagRepository
	ingredientRepo repository.IngredientRepository
	fetcher        ContentFetcher
	indexer        RecipeIndexer
	sanitizer      Sanitizer
	cookParser     cooklang.Parser
	collector      metrics.MetricsCollector
	logger         *slog.Logger
	maxRecipeSize  int64
}

// NewCrawler はCrawlerの新しいインスタンスを生成する。
// cookParserはnil可。nilの場合、材料とメタデータの抽出は行わない。
// maxRecipeSizeはレシピ本文フェッチのサイズ上限。0以下の場合は
// フェッチャーの既定上限（フィード用）をそのまま使用する。
func NewCrawler(
	feedRepo repository.FeedRepository,
	recipeRepo repository.RecipeRepository,
	tagRepo repository.TagRepository,
	ingredientRepo repository.IngredientRepository,
	fetcher ContentFetcher,
	indexer RecipeIndexer,
	sanitizer Sanitizer,
	cookParser cooklang.Parser,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxRecipeSize int64,
) *Crawler {
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Crawler{
		feedRepo:       feedRepo,
		recipeRepo:     recipeRepo,
		tagRepo:        tagRepo,
		ingredientRepo: ingredientRepo,
		fetcher:        fetcher,
		indexer:        indexer,
		sanitizer:      sanitizer,
		cookParser:     cookParser,
		collector:      collector,
		logger:         logger,
		maxRecipeSize:  maxRecipeSize,
	}
}

// CrawlFeed はフィードを1回クロールする。
// フィード自体が304の場合はエントリ処理を行わずに戻る。
// エントリ単位のエラーはログに記録して次のエントリへ進む
// （1エントリの失敗がフィード全体を失敗させることはない）。
func (c *Crawler) CrawlFeed(ctx context.Context, feed *model.Feed) (*model.CrawlResult, error) {
	start := time.Now()
	result := &model.CrawlResult{FeedID: feed.ID}

	fetchRes, err := c.fetcher.Fetch(ctx, FetchRequest{
		URL:          feed.URL,
		ETag:         feed.ETag,
		LastModified: feed.LastModified,
		Accept:       feedAccept,
	})
	if err != nil {
		c.recordFeedError(ctx, feed, err)
		c.collector.RecordCrawlFailure(string(model.KindOf(err)))
		return nil, fmt.Errorf("フィードのフェッチに失敗しました: %w", err)
	}

	if fetchRes.NotModified {
		c.logger.Info("フィードは未変更です（304）",
			slog.Int64("feed_id", feed.ID),
			slog.String("feed_url", feed.URL),
		)
		if err := c.feedRepo.UpdateFetchState(ctx, feed.ID, feed.ETag, feed.LastModified); err != nil {
			c.logger.Error("フェッチ状態の更新に失敗しました",
				slog.Int64("feed_id", feed.ID),
				slog.String("error", err.Error()),
			)
		}
		c.collector.RecordCrawlSuccess()
		return result, nil
	}

	parsed, err := ParseFeed(fetchRes.Body)
	if err != nil {
		c.recordFeedError(ctx, feed, err)
		c.collector.RecordCrawlFailure(string(model.ErrKindParse))
		return nil, fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}

	if parsed.Title != "" || parsed.Author != "" {
		if err := c.feedRepo.UpdateMetadata(ctx, feed.ID, parsed.Title, parsed.Author); err != nil {
			c.logger.Error("フィードメタデータの更新に失敗しました",
				slog.Int64("feed_id", feed.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	var docs []*search.Document
	var indexedIDs []int64

	for i := range parsed.Entries {
		entry := &parsed.Entries[i]

		if entry.EnclosureURL == "" {
			c.logger.Debug("マークアップへのリンクがないエントリをスキップします",
				slog.Int64("feed_id", feed.ID),
				slog.String("entry_id", entry.ID),
			)
			continue
		}
		if entry.ID == "" {
			c.logger.Warn("同一性の鍵がないエントリをスキップします",
				slog.Int64("feed_id", feed.ID),
				slog.String("entry_title", entry.Title),
			)
			continue
		}

		doc, recipeID, outcome, err := c.processEntry(ctx, feed, entry)
		if err != nil {
			// エントリ単位の失敗は記録して継続する
			c.logger.Error("エントリの処理に失敗しました",
				slog.Int64("feed_id", feed.ID),
				slog.String("entry_id", entry.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch outcome {
		case outcomeNew:
			result.NewRecipes++
		case outcomeUpdated:
			result.UpdatedRecipes++
		default:
			result.SkippedRecipes++
		}

		if doc != nil {
			docs = append(docs, doc)
			indexedIDs = append(indexedIDs, recipeID)
		}
	}

	// 検索インデックスへの反映はフィード単位の1バッチで行う
	if len(docs) > 0 {
		if err := c.indexer.IndexDocuments(ctx, docs); err != nil {
			c.logger.Error("検索インデックスへの投入に失敗しました",
				slog.Int64("feed_id", feed.ID),
				slog.Int("docs", len(docs)),
				slog.String("error", err.Error()),
			)
		} else {
			c.collector.RecordIndexCommit(len(docs))
			for _, id := range indexedIDs {
				if err := c.recipeRepo.MarkIndexed(ctx, id); err != nil {
					c.logger.Error("インデックス時刻の記録に失敗しました",
						slog.Int64("recipe_id", id),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}

	// クロール成功: エラー状態をリセットしてキャッシュトークンを保存する
	if feed.Status != model.FeedStatusActive || feed.ErrorCount > 0 {
		if err := c.feedRepo.UpdateStatus(ctx, feed.ID, model.FeedStatusActive, 0, ""); err != nil {
			c.logger.Error("フィード状態の更新に失敗しました",
				slog.Int64("feed_id", feed.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := c.feedRepo.UpdateFetchState(ctx, feed.ID, fetchRes.ETag, fetchRes.LastModified); err != nil {
		c.logger.Error("フェッチ状態の更新に失敗しました",
			slog.Int64("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
	}

	c.collector.RecordCrawlSuccess()
	c.collector.RecordRecipes(result.NewRecipes, result.UpdatedRecipes, result.SkippedRecipes)

	c.logger.Info("フィードクロールが完了しました",
		slog.Int64("feed_id", feed.ID),
		slog.String("feed_url", feed.URL),
		slog.Int("new", result.NewRecipes),
		slog.Int("updated", result.UpdatedRecipes),
		slog.Int("skipped", result.SkippedRecipes),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return result, nil
}

// recordFeedError はフィードのエラー状態を記録する。
func (c *Crawler) recordFeedError(ctx context.Context, feed *model.Feed, cause error) {
	if err := c.feedRepo.UpdateStatus(ctx, feed.ID, model.FeedStatusError, feed.ErrorCount+1, cause.Error()); err != nil {
		c.logger.Error("フィードエラー状態の記録に失敗しました",
			slog.Int64("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
	}
}

// processEntry は1エントリを変更検出付きで処理する。
// 判定の流れ:
//  1. 既存レシピなし → マークアップを取得して新規作成
//  2. shouldFetchContentがfalse → ネットワークアクセスなしでスキップ
//  3. それ以外 → コンテンツURLへ条件付きGET
//     3a. 304 → タイムスタンプ追跡値のみ更新
//     3b. 取得した本文の正規化ダイジェストが一致 → トークン更新のみ、本文は書き換えない
//     3c. ダイジェストが変化 → 本文更新と再インデックス
func (c *Crawler) processEntry(ctx context.Context, feed *model.Feed, entry *model.ParsedEntry) (*search.Document, int64, entryOutcome, error) {
	existing, err := c.recipeRepo.FindByFeedAndExternalID(ctx, feed.ID, entry.ID)
	if err != nil {
		return nil, 0, 0, err
	}

	if existing == nil {
		return c.createRecipe(ctx, feed, entry)
	}

	if !shouldFetchContent(entry.UpdatedAt, existing.FeedEntryUpdated) {
		return nil, existing.ID, outcomeSkippedUnchanged, nil
	}

	fetchRes, err := c.fetcher.Fetch(ctx, FetchRequest{
		URL:          entry.EnclosureURL,
		ETag:         existing.ContentETag,
		LastModified: existing.ContentLastModified,
		MaxSize:      c.maxRecipeSize,
	})
	if err != nil {
		return nil, 0, 0, err
	}

	if fetchRes.NotModified {
		// タイムスタンプは動いたが本文は未変更
		if err := c.recipeRepo.UpdateFeedEntryTimestamp(ctx, existing.ID, entry.UpdatedAt); err != nil {
			return nil, 0, 0, err
		}
		return nil, existing.ID, outcomeSkippedNotModified, nil
	}

	content := string(fetchRes.Body)
	digest := contenthash.Calculate(entry.Title, &content)

	if digest == existing.ContentHash {
		// コメント・空白のみの変更。レシピ行の本文は書き換えず、
		// キャッシュトークンとタイムスタンプ追跡値のみ更新する
		if err := c.recipeRepo.UpdateContentTokens(ctx, existing.ID,
			fetchRes.ETag, fetchRes.LastModified, entry.UpdatedAt); err != nil {
			return nil, 0, 0, err
		}
		return nil, existing.ID, outcomeSkippedSameDigest, nil
	}

	// 本文が実質的に変化した: 更新して再インデックス対象にする
	if err := c.recipeRepo.UpdateContent(ctx, existing.ID, content, digest,
		fetchRes.ETag, fetchRes.LastModified, entry.UpdatedAt); err != nil {
		return nil, 0, 0, err
	}

	extracted := c.extractRecipeData(feed, entry, content)
	if err := c.storeRelations(ctx, existing.ID, extracted); err != nil {
		return nil, 0, 0, err
	}

	doc := c.buildDocument(existing.ID, entry, content, extracted)
	return doc, existing.ID, outcomeUpdated, nil
}

// createRecipe はエントリから新規レシピを作成する。
func (c *Crawler) createRecipe(ctx context.Context, feed *model.Feed, entry *model.ParsedEntry) (*search.Document, int64, entryOutcome, error) {
	fetchRes, err := c.fetcher.Fetch(ctx, FetchRequest{URL: entry.EnclosureURL, MaxSize: c.maxRecipeSize})
	if err != nil {
		return nil, 0, 0, err
	}
	if fetchRes.NotModified {
		// キャッシュトークンなしのリクエストに304が返るのはサーバー側の異常
		return nil, 0, 0, model.NewError(model.ErrKindInternal, "条件なしGETに304が返されました")
	}

	content := string(fetchRes.Body)
	digest := contenthash.Calculate(entry.Title, &content)
	extracted := c.extractRecipeData(feed, entry, content)

	recipe, err := c.recipeRepo.Create(ctx, &model.NewRecipe{
		FeedID:              feed.ID,
		ExternalID:          entry.ID,
		Title:               entry.Title,
		SourceURL:           entry.SourceURL,
		EnclosureURL:        entry.EnclosureURL,
		Content:             &content,
		Summary:             extracted.summary,
		Facts:               extracted.facts,
		ImageURL:            extracted.imageURL,
		ContentHash:         digest,
		ContentETag:         fetchRes.ETag,
		ContentLastModified: fetchRes.LastModified,
		FeedEntryUpdated:    entry.UpdatedAt,
		PublishedAt:         entry.PublishedAt,
	})
	if err != nil {
		return nil, 0, 0, err
	}

	if err := c.storeRelations(ctx, recipe.ID, extracted); err != nil {
		return nil, 0, 0, err
	}

	c.reportDuplicates(ctx, recipe.ID, digest)

	doc := c.buildDocument(recipe.ID, entry, content, extracted)
	return doc, recipe.ID, outcomeNew, nil
}

// reportDuplicates は同一ダイジェストを持つ既存レシピ（ソース横断の重複）を
// ログに記録する。検出の失敗は取り込みを妨げない。
func (c *Crawler) reportDuplicates(ctx context.Context, recipeID int64, digest string) {
	dups, err := c.recipeRepo.ListByContentHash(ctx, digest)
	if err != nil {
		c.logger.Warn("重複レシピの検索に失敗しました",
			slog.Int64("recipe_id", recipeID),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(dups) <= 1 {
		return
	}
	dupIDs := make([]int64, 0, len(dups)-1)
	for _, d := range dups {
		if d.ID != recipeID {
			dupIDs = append(dupIDs, d.ID)
		}
	}
	c.logger.Info("同一ダイジェストのレシピを検出しました",
		slog.Int64("recipe_id", recipeID),
		slog.String("content_hash", digest),
		slog.Any("duplicate_ids", dupIDs),
	)
}

// extractedData はエントリとマークアップから抽出した付帯情報。
type extractedData struct {
	summary     string
	facts       model.RecipeFacts
	imageURL    string
	tags        []string
	ingredients []model.RecipeIngredient
}

// extractRecipeData はエントリとマークアップ本文から付帯情報を抽出する。
// セマンティックパーサーが未設定またはパース失敗の場合は
// フィード側の情報のみを使用する。
func (c *Crawler) extractRecipeData(feed *model.Feed, entry *model.ParsedEntry, content string) *extractedData {
	data := &extractedData{
		summary:  c.sanitizer.Sanitize(entry.Summary),
		tags:     append([]string(nil), entry.Tags...),
		imageURL: entry.ImageURL,
	}

	if c.cookParser != nil {
		parsed, err := c.cookParser.Parse(content)
		if err != nil {
			c.logger.Warn("マークアップのセマンティックパースに失敗しました",
				slog.Int64("feed_id", feed.ID),
				slog.String("entry_id", entry.ID),
				slog.String("error", err.Error()),
			)
		} else if parsed != nil {
			for _, ing := range parsed.Ingredients {
				data.ingredients = append(data.ingredients, model.RecipeIngredient{
					Name:     ing.Name,
					Quantity: ing.Quantity,
					Unit:     ing.Unit,
				})
			}
			if meta := parsed.Metadata; meta != nil {
				data.facts = model.RecipeFacts{
					Servings:          meta.Servings,
					TotalTimeMinutes:  meta.TotalTimeMinutes,
					ActiveTimeMinutes: meta.ActiveTimeMinutes,
					Difficulty:        meta.Difficulty,
				}
				data.tags = append(data.tags, meta.Tags...)
				if data.imageURL == "" && meta.Image != "" {
					data.imageURL = meta.Image
				}
			}
		}
	}

	data.imageURL = resolveImageURL(data.imageURL, entry.EnclosureURL)

	return data
}

// storeRelations はタグと材料の関連を置き換える。
func (c *Crawler) storeRelations(ctx context.Context, recipeID int64, data *extractedData) error {
	if err := c.tagRepo.SetRecipeTags(ctx, recipeID, data.tags); err != nil {
		return err
	}
	if err := c.ingredientRepo.SetRecipeIngredients(ctx, recipeID, data.ingredients); err != nil {
		return err
	}
	return nil
}

// buildDocument は検索インデックス投入用のドキュメントを構築する。
func (c *Crawler) buildDocument(recipeID int64, entry *model.ParsedEntry, content string, data *extractedData) *search.Document {
	ingredientNames := make([]string, 0, len(data.ingredients))
	for _, ing := range data.ingredients {
		ingredientNames = append(ingredientNames, ing.Name)
	}
	return &search.Document{
		ID:           recipeID,
		Title:        entry.Title,
		Summary:      data.summary,
		Instructions: content,
		Ingredients:  ingredientNames,
		Tags:         data.tags,
		Difficulty:   data.facts.Difficulty,
		Servings:     data.facts.Servings,
		TotalTime:    data.facts.TotalTimeMinutes,
	}
}

// shouldFetchContent はエントリのupdatedと保存済み追跡値から
// コンテンツフェッチの要否を決定する。判定表:
//   - 両方あり: エントリ側が厳密に新しい場合のみフェッチ
//   - エントリのみあり: 追跡を開始するためフェッチ
//   - エントリになし: 判定材料がないため条件付きGETへフォールバック
//     （保存済みのETag/Last-Modifiedが304で変更を検出する）
func shouldFetchContent(entryUpdated, stored *time.Time) bool {
	switch {
	case entryUpdated != nil && stored != nil:
		return entryUpdated.After(*stored)
	case entryUpdated != nil:
		return true
	default:
		return true
	}
}

// resolveImageURL は画像URLをエンクロージャURL基準で絶対URLに解決する。
// すでに絶対URLの場合はそのまま返す。解決できない場合は空文字列を返す。
func resolveImageURL(imageURL, baseURL string) string {
	if imageURL == "" {
		return ""
	}
	if strings.HasPrefix(imageURL, "http://") || strings.HasPrefix(imageURL, "https://") {
		return imageURL
	}
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return ""
	}
	ref, err := url.Parse(imageURL)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
