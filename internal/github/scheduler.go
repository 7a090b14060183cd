package github

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/cookfed/internal/model"
	"github.com/hitoshi/cookfed/internal/repository"
)

// RepositoryIndexer はリポジトリ取り込みのインターフェース。
type RepositoryIndexer interface {
	IndexRepository(ctx context.Context, source *model.RepositorySource) (*model.CrawlResult, error)
}

// Scheduler は登録済みリポジトリの定期インデックスを実行する。
type Scheduler struct {
	sourceRepo repository.RepositorySourceRepository
	indexer    RepositoryIndexer
	logger     *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(sourceRepo repository.RepositorySourceRepository, indexer RepositoryIndexer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sourceRepo: sourceRepo,
		indexer:    indexer,
		logger:     logger,
	}
}

// Start は指定間隔でインデックスサイクルを実行する。
// 起動直後に1回実行し、以降はティッカーに従う。
// コンテキストのキャンセルで停止する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("リポジトリインデックススケジューラを開始します",
		slog.String("interval", interval.String()),
	)

	s.RunCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リポジトリインデックススケジューラを停止します")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle は全リポジトリソースを1回ずつインデックスする。
// 1ソースの失敗はログに記録して次のソースへ進む。
func (s *Scheduler) RunCycle(ctx context.Context) {
	cycleID := uuid.NewString()
	logger := s.logger.With(slog.String("cycle_id", cycleID))

	sources, err := s.sourceRepo.ListWithStats(ctx)
	if err != nil {
		logger.Error("リポジトリソース一覧の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	var created, updated, skipped, failed int
	for _, src := range sources {
		if ctx.Err() != nil {
			logger.Info("キャンセルによりインデックスサイクルを中断します")
			return
		}
		result, err := s.indexer.IndexRepository(ctx, &src.RepositorySource)
		if err != nil {
			failed++
			logger.Error("リポジトリのインデックスに失敗しました",
				slog.Int64("source_id", src.ID),
				slog.String("repository", src.Owner+"/"+src.RepoName),
				slog.String("error", err.Error()),
			)
			continue
		}
		created += result.NewRecipes
		updated += result.UpdatedRecipes
		skipped += result.SkippedRecipes
	}

	logger.Info("リポジトリインデックスサイクルが完了しました",
		slog.Int("sources", len(sources)),
		slog.Int("new", created),
		slog.Int("updated", updated),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
	)
}
