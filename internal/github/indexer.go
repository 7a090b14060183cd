// Package github はGitHubリポジトリをレシピソースとして取り込む。
// リポジトリの登録、.cookファイルの走査とダウンロード、
// コミットSHAベースの差分検出、検索インデックスへの投入を行う。
package github

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/cookfed/internal/contenthash"
	"github.com/hitoshi/cookfed/internal/cooklang"
	"github.com/hitoshi/cookfed/internal/metrics"
	"github.com/hitoshi/cookfed/internal/model"
	"github.com/hitoshi/cookfed/internal/repository"
	"github.com/hitoshi/cookfed/internal/search"
)

// defaultConcurrency はファイルダウンロードの並列数の既定値。
const defaultConcurrency = 10

// recipeFileSuffix はレシピマークアップファイルの拡張子。
const recipeFileSuffix = ".cook"

// imageExtensions はレシピと同名の画像ファイルとして認識する拡張子。
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// APIClient はGitHub APIクライアントのインターフェース。
type APIClient interface {
	GetRepository(ctx context.Context, owner, repo string) (*Repository, error)
	GetBranchHead(ctx context.Context, owner, repo, branch string) (*Commit, error)
	GetTree(ctx context.Context, owner, repo, treeSHA string) (*Tree, error)
	DownloadRawContent(ctx context.Context, owner, repo, branch, filePath string) ([]byte, error)
	RawContentURL(owner, repo, branch, filePath string) string
}

// SearchIndexer は検索インデックスへの投入インターフェース。
type SearchIndexer interface {
	IndexDocuments(ctx context.Context, docs []*search.Document) error
	DeleteDocuments(ctx context.Context, ids []int64) error
}

// Indexer はGitHubリポジトリのレシピ取り込みを実行する。
type Indexer struct {
	client         APIClient
	feedRepo       repository.FeedRepository
	recipeRepo     repository.RecipeRepository
	tagRepo        repository.TagRepository
	ingredientRepo repository.IngredientRepository
	sourceRepo     repository.RepositorySourceRepository
	searchIndexer  SearchIndexer
	cookParser     cooklang.Parser
	collector      metrics.MetricsCollector
	logger         *slog.Logger
	concurrency    int
}

// NewIndexer はIndexerの新しいインスタンスを生成する。
// cookParserはnil可。concurrencyが0以下の場合は既定値を使用する。
func NewIndexer(
	client APIClient,
	feedRepo repository.FeedRepository,
	recipeRepo repository.RecipeRepository,
	tagRepo repository.TagRepository,
	ingredientRepo repository.IngredientRepository,
	sourceRepo repository.RepositorySourceRepository,
	searchIndexer SearchIndexer,
	cookParser cooklang.Parser,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	concurrency int,
) *Indexer {
	if collector == nil {
		collector = metrics.Noop{}
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Indexer{
		client:         client,
		feedRepo:       feedRepo,
		recipeRepo:     recipeRepo,
		tagRepo:        tagRepo,
		ingredientRepo: ingredientRepo,
		sourceRepo:     sourceRepo,
		searchIndexer:  searchIndexer,
		cookParser:     cookParser,
		collector:      collector,
		logger:         logger,
		concurrency:    concurrency,
	}
}

// AddRepository はリポジトリURLを検証してレシピソースとして登録する。
// すでに登録済みの場合は既存のソースを返す。
// アーカイブ済みリポジトリは登録できない。
func (ix *Indexer) AddRepository(ctx context.Context, repoURL string) (*model.RepositorySource, error) {
	owner, repoName, err := ParseRepositoryURL(repoURL)
	if err != nil {
		return nil, err
	}

	existing, err := ix.sourceRepo.FindByOwnerRepo(ctx, owner, repoName)
	if err != nil {
		return nil, fmt.Errorf("リポジトリソースの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	repo, err := ix.client.GetRepository(ctx, owner, repoName)
	if err != nil {
		return nil, fmt.Errorf("リポジトリ情報の取得に失敗しました: %w", err)
	}
	if repo.Archived {
		return nil, model.NewError(model.ErrKindValidation,
			fmt.Sprintf("アーカイブ済みリポジトリは登録できません: %s", repo.FullName))
	}

	feed := &model.Feed{
		URL:    repoURL,
		Title:  repo.FullName,
		Author: repo.Owner.Login,
		Status: model.FeedStatusActive,
	}
	if err := ix.feedRepo.Create(ctx, feed); err != nil {
		return nil, fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}

	source := &model.RepositorySource{
		FeedID:        feed.ID,
		RepositoryURL: repoURL,
		Owner:         owner,
		RepoName:      repoName,
		DefaultBranch: repo.DefaultBranch,
	}
	if err := ix.sourceRepo.Create(ctx, source); err != nil {
		return nil, fmt.Errorf("リポジトリソースの作成に失敗しました: %w", err)
	}

	ix.logger.Info("リポジトリソースを登録しました",
		slog.Int64("source_id", source.ID),
		slog.String("repository", repo.FullName),
		slog.String("default_branch", repo.DefaultBranch),
	)
	return source, nil
}

// RemoveRepository はリポジトリソースと配下の全レシピを削除する。
// 検索インデックスからも対応するドキュメントを除去する。
func (ix *Indexer) RemoveRepository(ctx context.Context, owner, repoName string) error {
	source, err := ix.sourceRepo.FindByOwnerRepo(ctx, owner, repoName)
	if err != nil {
		return fmt.Errorf("リポジトリソースの検索に失敗しました: %w", err)
	}
	if source == nil {
		return model.NewError(model.ErrKindNotFound,
			fmt.Sprintf("リポジトリソースが見つかりません: %s/%s", owner, repoName))
	}

	deletedIDs, err := ix.recipeRepo.DeleteByFeed(ctx, source.FeedID)
	if err != nil {
		return fmt.Errorf("レシピの削除に失敗しました: %w", err)
	}
	if err := ix.searchIndexer.DeleteDocuments(ctx, deletedIDs); err != nil {
		ix.logger.Error("検索インデックスからの削除に失敗しました",
			slog.Int64("source_id", source.ID),
			slog.String("error", err.Error()),
		)
	}
	// フィード削除でリポジトリソースもCASCADE削除される
	if err := ix.feedRepo.Delete(ctx, source.FeedID); err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}

	ix.logger.Info("リポジトリソースを削除しました",
		slog.String("owner", owner),
		slog.String("repo", repoName),
		slog.Int("deleted_recipes", len(deletedIDs)),
	)
	return nil
}

// ListRepositories は登録済みリポジトリソースをレシピ件数付きで返す。
func (ix *Indexer) ListRepositories(ctx context.Context) ([]*model.RepositorySourceWithStats, error) {
	return ix.sourceRepo.ListWithStats(ctx)
}

// IndexRepository はリポジトリを1回インデックスする。
// デフォルトブランチの最新コミットSHAが前回と同一なら何もしない。
// ツリーから.cookファイルを抽出し、blob SHAが変化したファイルのみ
// ダウンロードして取り込む。検索インデックスへの反映はリポジトリ単位の
// 1バッチで行い、バッチコミット成功後にのみコミットSHAを保存する。
func (ix *Indexer) IndexRepository(ctx context.Context, source *model.RepositorySource) (*model.CrawlResult, error) {
	start := time.Now()
	result := &model.CrawlResult{FeedID: source.FeedID}

	feed, err := ix.feedRepo.FindByID(ctx, source.FeedID)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}

	// デフォルトブランチは登録後に変わりうるため、毎回最新の値へ追従する
	if err := ix.refreshDefaultBranch(ctx, source); err != nil {
		ix.collector.RecordCrawlFailure(string(model.KindOf(err)))
		ix.recordSourceError(ctx, feed, err)
		return nil, err
	}

	head, err := ix.client.GetBranchHead(ctx, source.Owner, source.RepoName, source.DefaultBranch)
	if err != nil {
		ix.collector.RecordCrawlFailure(string(model.KindOf(err)))
		ix.recordSourceError(ctx, feed, err)
		return nil, fmt.Errorf("ブランチ先頭コミットの取得に失敗しました: %w", err)
	}

	if head.SHA == source.LastCommitSHA {
		ix.logger.Info("コミットSHAが前回と同一のためスキップします",
			slog.Int64("source_id", source.ID),
			slog.String("commit_sha", head.SHA),
		)
		ix.collector.RecordCrawlSuccess()
		return result, nil
	}

	tree, err := ix.client.GetTree(ctx, source.Owner, source.RepoName, head.Commit.Tree.SHA)
	if err != nil {
		ix.collector.RecordCrawlFailure(string(model.KindOf(err)))
		ix.recordSourceError(ctx, feed, err)
		return nil, fmt.Errorf("ツリーの取得に失敗しました: %w", err)
	}

	cookFiles, imagesByStem := splitTreeEntries(tree.Entries)

	type fileResult struct {
		doc      *search.Document
		recipeID int64
		outcome  fileOutcome
		err      error
		path     string
	}

	// 並列数を制限しつつ全ファイルを処理する
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []fileResult
	)
	sem := make(chan struct{}, ix.concurrency)

	for _, entry := range cookFiles {
		wg.Add(1)
		sem <- struct{}{}
		go func(entry TreeEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			doc, recipeID, outcome, err := ix.processFile(ctx, source, entry, imagesByStem)
			mu.Lock()
			results = append(results, fileResult{doc: doc, recipeID: recipeID, outcome: outcome, err: err, path: entry.Path})
			mu.Unlock()
		}(entry)
	}
	wg.Wait()

	var docs []*search.Document
	var indexedIDs []int64
	for _, r := range results {
		if r.err != nil {
			// ファイル単位の失敗は記録して継続する
			ix.logger.Error("ファイルの取り込みに失敗しました",
				slog.Int64("source_id", source.ID),
				slog.String("file_path", r.path),
				slog.String("error", r.err.Error()),
			)
			continue
		}
		switch r.outcome {
		case fileNew:
			result.NewRecipes++
		case fileUpdated:
			result.UpdatedRecipes++
		default:
			result.SkippedRecipes++
		}
		if r.doc != nil {
			docs = append(docs, r.doc)
			indexedIDs = append(indexedIDs, r.recipeID)
		}
	}

	// 検索インデックスへの反映はリポジトリ単位の1バッチで行う
	if len(docs) > 0 {
		if err := ix.searchIndexer.IndexDocuments(ctx, docs); err != nil {
			ix.recordSourceError(ctx, feed, err)
			return nil, fmt.Errorf("検索インデックスへの投入に失敗しました: %w", err)
		}
		ix.collector.RecordIndexCommit(len(docs))
		for _, id := range indexedIDs {
			if err := ix.recipeRepo.MarkIndexed(ctx, id); err != nil {
				ix.logger.Error("インデックス時刻の記録に失敗しました",
					slog.Int64("recipe_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	// バッチコミットが成功した場合にのみSHAを前進させる。
	// 失敗時は次回実行で同じコミットを再処理する。
	if err := ix.sourceRepo.UpdateLastCommitSHA(ctx, source.ID, head.SHA); err != nil {
		return nil, fmt.Errorf("コミットSHAの保存に失敗しました: %w", err)
	}

	// インデックス成功: フィードのエラー状態をリセットする
	if feed != nil && (feed.Status != model.FeedStatusActive || feed.ErrorCount > 0) {
		if err := ix.feedRepo.UpdateStatus(ctx, feed.ID, model.FeedStatusActive, 0, ""); err != nil {
			ix.logger.Error("フィード状態の更新に失敗しました",
				slog.Int64("feed_id", feed.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	ix.collector.RecordCrawlSuccess()
	ix.collector.RecordRecipes(result.NewRecipes, result.UpdatedRecipes, result.SkippedRecipes)

	ix.logger.Info("リポジトリのインデックスが完了しました",
		slog.Int64("source_id", source.ID),
		slog.String("commit_sha", head.SHA),
		slog.Int("new", result.NewRecipes),
		slog.Int("updated", result.UpdatedRecipes),
		slog.Int("skipped", result.SkippedRecipes),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}

// refreshDefaultBranch はリポジトリの現在のデフォルトブランチを取得し、
// 保存済みの値と異なる場合は更新する。
func (ix *Indexer) refreshDefaultBranch(ctx context.Context, source *model.RepositorySource) error {
	repo, err := ix.client.GetRepository(ctx, source.Owner, source.RepoName)
	if err != nil {
		return fmt.Errorf("リポジトリ情報の取得に失敗しました: %w", err)
	}
	if repo.DefaultBranch == "" || repo.DefaultBranch == source.DefaultBranch {
		return nil
	}

	ix.logger.Info("デフォルトブランチの変更を検出しました",
		slog.Int64("source_id", source.ID),
		slog.String("old_branch", source.DefaultBranch),
		slog.String("new_branch", repo.DefaultBranch),
	)
	if err := ix.sourceRepo.UpdateDefaultBranch(ctx, source.ID, repo.DefaultBranch); err != nil {
		return fmt.Errorf("デフォルトブランチの更新に失敗しました: %w", err)
	}
	source.DefaultBranch = repo.DefaultBranch
	return nil
}

// recordSourceError はリポジトリ単位の失敗をフィードのエラー状態として記録する。
func (ix *Indexer) recordSourceError(ctx context.Context, feed *model.Feed, cause error) {
	if feed == nil {
		return
	}
	if err := ix.feedRepo.UpdateStatus(ctx, feed.ID, model.FeedStatusError, feed.ErrorCount+1, cause.Error()); err != nil {
		ix.logger.Error("フィードエラー状態の記録に失敗しました",
			slog.Int64("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
	}
}

// fileOutcome は1ファイルの処理結果の分類。
type fileOutcome int

const (
	fileNew fileOutcome = iota
	fileUpdated
	fileSkippedSameSHA
	fileSkippedSameDigest
)

// processFile は1つの.cookファイルを変更検出付きで処理する。
// blob SHAが前回と同一ならダウンロード自体を省略する。
func (ix *Indexer) processFile(ctx context.Context, source *model.RepositorySource, entry TreeEntry, imagesByStem map[string]string) (*search.Document, int64, fileOutcome, error) {
	repoRec, err := ix.sourceRepo.FindRecipeByPath(ctx, source.ID, entry.Path)
	if err != nil {
		return nil, 0, 0, err
	}
	if repoRec != nil && repoRec.FileSHA == entry.SHA {
		return nil, repoRec.RecipeID, fileSkippedSameSHA, nil
	}

	body, err := ix.client.DownloadRawContent(ctx, source.Owner, source.RepoName, source.DefaultBranch, entry.Path)
	if err != nil {
		return nil, 0, 0, err
	}

	content := string(body)
	title := titleFromPath(entry.Path)
	digest := contenthash.Calculate(title, &content)
	rawURL := ix.client.RawContentURL(source.Owner, source.RepoName, source.DefaultBranch, entry.Path)
	htmlURL := fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s",
		source.Owner, source.RepoName, source.DefaultBranch, entry.Path)

	extracted := ix.extractFileData(source, entry.Path, content, imagesByStem)

	existing, err := ix.recipeRepo.FindByFeedAndExternalID(ctx, source.FeedID, entry.Path)
	if err != nil {
		return nil, 0, 0, err
	}

	var recipeID int64
	outcome := fileUpdated

	if existing == nil {
		recipe, err := ix.recipeRepo.Create(ctx, &model.NewRecipe{
			FeedID:       source.FeedID,
			ExternalID:   entry.Path,
			Title:        title,
			SourceURL:    htmlURL,
			EnclosureURL: rawURL,
			Content:      &content,
			Facts:        extracted.facts,
			ImageURL:     extracted.imageURL,
			ContentHash:  digest,
		})
		if err != nil {
			return nil, 0, 0, err
		}
		recipeID = recipe.ID
		outcome = fileNew
	} else {
		recipeID = existing.ID
		if digest == existing.ContentHash {
			// コメント・空白のみの変更。レシピ行は書き換えず、
			// blob SHAのみ前進させて再インデックスもしない
			outcome = fileSkippedSameDigest
		} else if err := ix.recipeRepo.UpdateContent(ctx, existing.ID, content, digest, "", nil, nil); err != nil {
			return nil, 0, 0, err
		}
	}

	if err := ix.upsertRecipeMapping(ctx, source, repoRec, recipeID, entry, rawURL, htmlURL); err != nil {
		return nil, 0, 0, err
	}

	if outcome == fileSkippedSameDigest {
		return nil, recipeID, outcome, nil
	}

	if err := ix.tagRepo.SetRecipeTags(ctx, recipeID, extracted.tags); err != nil {
		return nil, 0, 0, err
	}
	if err := ix.ingredientRepo.SetRecipeIngredients(ctx, recipeID, extracted.ingredients); err != nil {
		return nil, 0, 0, err
	}

	ingredientNames := make([]string, 0, len(extracted.ingredients))
	for _, ing := range extracted.ingredients {
		ingredientNames = append(ingredientNames, ing.Name)
	}
	doc := &search.Document{
		ID:           recipeID,
		Title:        title,
		Instructions: content,
		Ingredients:  ingredientNames,
		Tags:         extracted.tags,
		Difficulty:   extracted.facts.Difficulty,
		Servings:     extracted.facts.Servings,
		TotalTime:    extracted.facts.TotalTimeMinutes,
		FilePath:     entry.Path,
	}
	return doc, recipeID, outcome, nil
}

// upsertRecipeMapping はレシピとファイルパスの対応を作成または更新する。
func (ix *Indexer) upsertRecipeMapping(ctx context.Context, source *model.RepositorySource, existing *model.RepositoryRecipe, recipeID int64, entry TreeEntry, rawURL, htmlURL string) error {
	if existing == nil {
		return ix.sourceRepo.CreateRecipe(ctx, &model.RepositoryRecipe{
			RecipeID:           recipeID,
			RepositorySourceID: source.ID,
			FilePath:           entry.Path,
			FileSHA:            entry.SHA,
			RawURL:             rawURL,
			HTMLURL:            htmlURL,
		})
	}
	return ix.sourceRepo.UpdateRecipeSHA(ctx, existing.ID, entry.SHA)
}

// fileData はマークアップから抽出した付帯情報。
type fileData struct {
	facts       model.RecipeFacts
	imageURL    string
	tags        []string
	ingredients []model.RecipeIngredient
}

// extractFileData はマークアップ本文から付帯情報を抽出する。
// 画像はメタデータ指定を優先し、なければ同名の画像ファイルを使用する。
func (ix *Indexer) extractFileData(source *model.RepositorySource, filePath, content string, imagesByStem map[string]string) *fileData {
	data := &fileData{}

	if ix.cookParser != nil {
		parsed, err := ix.cookParser.Parse(content)
		if err != nil {
			ix.logger.Warn("マークアップのセマンティックパースに失敗しました",
				slog.Int64("source_id", source.ID),
				slog.String("file_path", filePath),
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
				if meta.Image != "" {
					data.imageURL = ix.resolveRepoImage(source, filePath, meta.Image)
				}
			}
		}
	}

	if data.imageURL == "" {
		stem := strings.TrimSuffix(filePath, recipeFileSuffix)
		if imagePath, ok := imagesByStem[stem]; ok {
			data.imageURL = ix.client.RawContentURL(source.Owner, source.RepoName, source.DefaultBranch, imagePath)
		}
	}
	return data
}

// resolveRepoImage はメタデータの画像指定を絶対URLに解決する。
// 相対パスの場合はレシピファイルのディレクトリ基準でrawファイルURLを組み立てる。
func (ix *Indexer) resolveRepoImage(source *model.RepositorySource, filePath, image string) string {
	if strings.HasPrefix(image, "http://") || strings.HasPrefix(image, "https://") {
		return image
	}
	joined := path.Join(path.Dir(filePath), image)
	return ix.client.RawContentURL(source.Owner, source.RepoName, source.DefaultBranch, joined)
}

// splitTreeEntries はツリーから.cookファイルと画像ファイルを振り分ける。
// 画像は拡張子を除いたパスをキーとするマップで返し、
// レシピファイルと同名の画像の検出に使用する。
func splitTreeEntries(entries []TreeEntry) (cookFiles []TreeEntry, imagesByStem map[string]string) {
	imagesByStem = make(map[string]string)
	for _, entry := range entries {
		if entry.Type != "blob" {
			continue
		}
		if strings.HasSuffix(entry.Path, recipeFileSuffix) {
			cookFiles = append(cookFiles, entry)
			continue
		}
		ext := strings.ToLower(path.Ext(entry.Path))
		for _, imgExt := range imageExtensions {
			if ext == imgExt {
				imagesByStem[strings.TrimSuffix(entry.Path, path.Ext(entry.Path))] = entry.Path
				break
			}
		}
	}
	return cookFiles, imagesByStem
}

// titleFromPath はファイルパスからレシピタイトルを導出する。
// 拡張子を除いたファイル名のハイフンとアンダースコアを空白に置き換える。
func titleFromPath(filePath string) string {
	base := strings.TrimSuffix(path.Base(filePath), recipeFileSuffix)
	base = strings.ReplaceAll(base, "-", " ")
	base = strings.ReplaceAll(base, "_", " ")
	return strings.TrimSpace(base)
}
