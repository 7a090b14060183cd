// Package feedsync はfeeds.tomlの宣言内容とデータベースの
// フィード登録状態を同期する。
package feedsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/hitoshi/cookfed/internal/model"
	"github.com/hitoshi/cookfed/internal/repository"
)

// listBatchSize は無効化パスでのフィード一覧取得のページサイズ。
const listBatchSize = 100

// EntryTypeFeed / EntryTypeGitHub はfeeds.tomlエントリの種別。
const (
	EntryTypeFeed   = "feed"
	EntryTypeGitHub = "github"
)

// FeedEntry はfeeds.tomlの1エントリ。
// typeを省略した場合は通常のフィードとして扱う。
type FeedEntry struct {
	URL   string `mapstructure:"url"`
	Type  string `mapstructure:"type"`
	Title string `mapstructure:"title"`
}

// SyncReport は1回の同期の結果カウンタ。
type SyncReport struct {
	Added     int
	Updated   int
	Disabled  int
	ReEnabled int
	Unchanged int
	Errors    []string
}

// RepositoryRegistrar はGitHubリポジトリの登録インターフェース。
type RepositoryRegistrar interface {
	AddRepository(ctx context.Context, repoURL string) (*model.RepositorySource, error)
}

// URLValidator は登録時のURL検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Syncer はfeeds.tomlとデータベースの同期を実行する。
type Syncer struct {
	feedRepo  repository.FeedRepository
	registrar RepositoryRegistrar
	validator URLValidator
	logger    *slog.Logger
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
// registrarがnilの場合、github種別のエントリはエラーとして報告される。
func NewSyncer(feedRepo repository.FeedRepository, registrar RepositoryRegistrar, validator URLValidator, logger *slog.Logger) *Syncer {
	return &Syncer{
		feedRepo:  feedRepo,
		registrar: registrar,
		validator: validator,
		logger:    logger,
	}
}

// LoadFeedsFile はfeeds.tomlを読み込んでエントリ一覧を返す。
func LoadFeedsFile(path string) ([]FeedEntry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("フィード設定ファイルの読み込みに失敗しました: %w", err)
	}

	var entries []FeedEntry
	if err := v.UnmarshalKey("feeds", &entries); err != nil {
		return nil, fmt.Errorf("フィード設定のパースに失敗しました: %w", err)
	}
	return entries, nil
}

// SyncFromFile はfeeds.tomlを読み込んで同期を実行する。
func (s *Syncer) SyncFromFile(ctx context.Context, path string) (*SyncReport, error) {
	entries, err := LoadFeedsFile(path)
	if err != nil {
		return nil, err
	}
	return s.Sync(ctx, entries)
}

// Sync は宣言されたエントリ一覧とデータベースを突き合わせる。
//   - 未登録のエントリは追加する
//   - 無効化済みで再宣言されたフィードは再有効化する
//   - タイトル指定が変わったフィードは更新する
//   - ファイルから消えたフィードは無効化する（削除はしない）
//
// エントリ単位のエラーはレポートに記録して続行する。
func (s *Syncer) Sync(ctx context.Context, entries []FeedEntry) (*SyncReport, error) {
	report := &SyncReport{}
	desired := make(map[string]FeedEntry, len(entries))

	for _, entry := range entries {
		url := strings.TrimSpace(entry.URL)
		if url == "" {
			report.Errors = append(report.Errors, "URLが空のエントリがあります")
			continue
		}
		if _, ok := desired[url]; ok {
			report.Errors = append(report.Errors, fmt.Sprintf("URLが重複しています: %s", url))
			continue
		}
		desired[url] = entry

		if err := s.syncEntry(ctx, url, entry, report); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", url, err))
			s.logger.Error("エントリの同期に失敗しました",
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.disableMissing(ctx, desired, report); err != nil {
		return report, err
	}

	s.logger.Info("フィード設定の同期が完了しました",
		slog.Int("added", report.Added),
		slog.Int("updated", report.Updated),
		slog.Int("disabled", report.Disabled),
		slog.Int("re_enabled", report.ReEnabled),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// syncEntry は1エントリを登録状態に反映する。
func (s *Syncer) syncEntry(ctx context.Context, url string, entry FeedEntry, report *SyncReport) error {
	if s.validator != nil {
		if err := s.validator.ValidateURL(url); err != nil {
			return fmt.Errorf("URL検証に失敗しました: %w", err)
		}
	}

	existing, err := s.feedRepo.FindByURL(ctx, url)
	if err != nil {
		return fmt.Errorf("フィードの検索に失敗しました: %w", err)
	}

	if existing == nil {
		return s.addEntry(ctx, url, entry, report)
	}

	switch {
	case existing.Status == model.FeedStatusDisabled:
		if err := s.feedRepo.UpdateStatus(ctx, existing.ID, model.FeedStatusActive, 0, ""); err != nil {
			return fmt.Errorf("フィードの再有効化に失敗しました: %w", err)
		}
		report.ReEnabled++
		s.logger.Info("フィードを再有効化しました", slog.Int64("feed_id", existing.ID), slog.String("url", url))
	case entry.Title != "" && entry.Title != existing.Title:
		if err := s.feedRepo.UpdateMetadata(ctx, existing.ID, entry.Title, existing.Author); err != nil {
			return fmt.Errorf("フィードタイトルの更新に失敗しました: %w", err)
		}
		report.Updated++
	default:
		report.Unchanged++
	}
	return nil
}

// addEntry は未登録のエントリを追加する。
func (s *Syncer) addEntry(ctx context.Context, url string, entry FeedEntry, report *SyncReport) error {
	entryType := entry.Type
	if entryType == "" {
		entryType = EntryTypeFeed
	}

	switch entryType {
	case EntryTypeGitHub:
		if s.registrar == nil {
			return fmt.Errorf("リポジトリ登録が構成されていません")
		}
		if _, err := s.registrar.AddRepository(ctx, url); err != nil {
			return fmt.Errorf("リポジトリの登録に失敗しました: %w", err)
		}
	case EntryTypeFeed:
		feed := &model.Feed{
			URL:    url,
			Title:  entry.Title,
			Status: model.FeedStatusActive,
		}
		if err := s.feedRepo.Create(ctx, feed); err != nil {
			return fmt.Errorf("フィードの作成に失敗しました: %w", err)
		}
	default:
		return fmt.Errorf("不明なエントリ種別です: %s", entryType)
	}

	report.Added++
	s.logger.Info("フィードを追加しました", slog.String("url", url), slog.String("type", entryType))
	return nil
}

// disableMissing はファイルから消えたフィードを無効化する。
func (s *Syncer) disableMissing(ctx context.Context, desired map[string]FeedEntry, report *SyncReport) error {
	offset := 0
	for {
		feeds, err := s.feedRepo.ListByStatus(ctx, "", listBatchSize, offset)
		if err != nil {
			return fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
		}
		for _, feed := range feeds {
			if _, ok := desired[feed.URL]; ok {
				continue
			}
			if feed.Status == model.FeedStatusDisabled {
				continue
			}
			if err := s.feedRepo.UpdateStatus(ctx, feed.ID, model.FeedStatusDisabled, feed.ErrorCount, feed.ErrorMessage); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: 無効化に失敗しました: %v", feed.URL, err))
				continue
			}
			report.Disabled++
			s.logger.Info("設定から消えたフィードを無効化しました",
				slog.Int64("feed_id", feed.ID),
				slog.String("url", feed.URL),
			)
		}
		if len(feeds) < listBatchSize {
			return nil
		}
		offset += listBatchSize
	}
}
