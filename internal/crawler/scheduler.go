package crawler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/cookfed/internal/model"
	"github.com/hitoshi/cookfed/internal/repository"
)

// batchSize は1バッチで取得するフィード数。
// 全件を一度にメモリへ載せないためのoffsetページネーション単位。
const batchSize = 50

// FeedCrawler はフィードクロールの実行インターフェース。
type FeedCrawler interface {
	CrawlFeed(ctx context.Context, feed *model.Feed) (*model.CrawlResult, error)
}

// OrphanCleaner は孤立レコードの削除インターフェース。
type OrphanCleaner interface {
	DeleteOrphans(ctx context.Context) (int64, error)
}

// Scheduler はクロールサイクルの定期実行を行う。
// サイクルごとにアクティブなフィードをバッチ単位で取得し、
// バッチ内は逐次クロールする（並列性はフィード間ではなく
// ドメイン別レート制限との組み合わせで制御する）。
// サイクルの最後に孤立したタグと材料を削除する。
type Scheduler struct {
	feedRepo   repository.FeedRepository
	crawler    FeedCrawler
	tagCleaner OrphanCleaner
	ingCleaner OrphanCleaner
	logger     *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	feedRepo repository.FeedRepository,
	crawler FeedCrawler,
	tagCleaner OrphanCleaner,
	ingCleaner OrphanCleaner,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		feedRepo:   feedRepo,
		crawler:    crawler,
		tagCleaner: tagCleaner,
		ingCleaner: ingCleaner,
		logger:     logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("クロールスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunCycle(ctx); err != nil {
		s.logger.Error("クロールサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("クロールスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				s.logger.Error("クロールサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunCycle はクロールサイクルを1回実行する。
// active状態に加えてerror状態のフィードも対象にする
// （次のフェッチ成功でactiveに戻る）。
func (s *Scheduler) RunCycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	start := time.Now()
	logger := s.logger.With(slog.String("cycle_id", cycleID))

	logger.Info("クロールサイクルを開始します")

	// クロール対象を先に確定させる。クロール中のerror→active遷移で
	// ページネーションの下から行がずれたり、activeパスで失敗したフィードが
	// 同一サイクルのerrorパスで再クロールされたりしないよう、
	// 状態を変更する前にスナップショットを取る。
	feeds, err := s.collectFeeds(ctx)
	if err != nil {
		return err
	}

	var total model.CrawlResult
	var crawled, failed int

	for _, feed := range feeds {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := s.crawler.CrawlFeed(ctx, feed)
		if err != nil {
			failed++
			logger.Error("フィードクロールに失敗しました",
				slog.Int64("feed_id", feed.ID),
				slog.String("feed_url", feed.URL),
				slog.String("error", err.Error()),
			)
			continue
		}
		crawled++
		total.NewRecipes += result.NewRecipes
		total.UpdatedRecipes += result.UpdatedRecipes
		total.SkippedRecipes += result.SkippedRecipes
	}

	s.cleanupOrphans(ctx, logger)

	logger.Info("クロールサイクルが完了しました",
		slog.Int("feeds_crawled", crawled),
		slog.Int("feeds_failed", failed),
		slog.Int("recipes_new", total.NewRecipes),
		slog.Int("recipes_updated", total.UpdatedRecipes),
		slog.Int("recipes_skipped", total.SkippedRecipes),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// collectFeeds はクロール対象（active状態とerror状態）のフィードを
// バッチ単位で取得してスナップショットとして返す。IDで重複を除去する。
func (s *Scheduler) collectFeeds(ctx context.Context) ([]*model.Feed, error) {
	var snapshot []*model.Feed
	seen := make(map[int64]struct{})

	for _, status := range []model.FeedStatus{model.FeedStatusActive, model.FeedStatusError} {
		offset := 0
		for {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			feeds, err := s.feedRepo.ListByStatus(ctx, status, batchSize, offset)
			if err != nil {
				return nil, err
			}
			if len(feeds) == 0 {
				break
			}

			for _, feed := range feeds {
				if _, ok := seen[feed.ID]; ok {
					continue
				}
				seen[feed.ID] = struct{}{}
				snapshot = append(snapshot, feed)
			}

			if len(feeds) < batchSize {
				break
			}
			offset += batchSize
		}
	}

	return snapshot, nil
}

// cleanupOrphans はサイクル末尾の孤立レコード掃除を行う。
func (s *Scheduler) cleanupOrphans(ctx context.Context, logger *slog.Logger) {
	if tags, err := s.tagCleaner.DeleteOrphans(ctx); err != nil {
		logger.Error("孤立タグの削除に失敗しました", slog.String("error", err.Error()))
	} else if tags > 0 {
		logger.Info("孤立タグを削除しました", slog.Int64("count", tags))
	}
	if ings, err := s.ingCleaner.DeleteOrphans(ctx); err != nil {
		logger.Error("孤立材料の削除に失敗しました", slog.String("error", err.Error()))
	} else if ings > 0 {
		logger.Info("孤立材料を削除しました", slog.Int64("count", ings))
	}
}
