// Package importer は移行元ユーザーの一括移行処理を提供する。
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hitoshi/usermigrator/internal/model"
)

// defaultMaxConcurrency は並列数未指定時の最大並列数。
const defaultMaxConcurrency = 4

// UserReconciler は1ユーザーの移行処理インターフェース。
type UserReconciler interface {
	Reconcile(ctx context.Context, legacy *model.LegacyUser, realm string) (*model.LocalUser, error)
}

// ImportResult は1ユーザー分の移行結果を表す。
type ImportResult struct {
	Username string `json:"username"`
	UserID   string `json:"userId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Summary は一括移行の集計結果を表す。Resultsは入力と同じ順序で並ぶ。
type Summary struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []ImportResult `json:"results"`
}

// Importer は移行元ユーザーを並列に移行する。
// 1ユーザーの失敗で一括処理全体を中断しない。
type Importer struct {
	reconciler     UserReconciler
	logger         *slog.Logger
	maxConcurrency int
}

// NewImporter はImporterの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewImporter(reconciler UserReconciler, logger *slog.Logger, maxConcurrency int) *Importer {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Importer{
		reconciler:     reconciler,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Run は指定レルムへ移行元ユーザーを一括移行する。
// semaphoreパターンで最大並列数を制御する。コンテキストがキャンセルされた場合、
// 未着手のユーザーはキャンセルエラーとして記録する。
func (im *Importer) Run(ctx context.Context, realm string, users []*model.LegacyUser) Summary {
	start := time.Now()
	results := make([]ImportResult, len(users))

	im.logger.Info("一括移行を開始します",
		slog.String("realm", realm),
		slog.Int("user_count", len(users)),
		slog.Int("max_concurrency", im.maxConcurrency),
	)

	sem := make(chan struct{}, im.maxConcurrency)
	var wg sync.WaitGroup

	for i, u := range users {
		results[i].Username = usernameOf(u)

		select {
		case <-ctx.Done():
			results[i].Error = ctx.Err().Error()
			continue
		case sem <- struct{}{}: // semaphore取得（ブロック）
		}

		wg.Add(1)
		go func(i int, u *model.LegacyUser) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			user, err := im.reconciler.Reconcile(ctx, u, realm)
			if err != nil {
				im.logger.Error("ユーザーの移行に失敗しました",
					slog.String("realm", realm),
					slog.String("username", results[i].Username),
					slog.String("error", err.Error()),
				)
				results[i].Error = err.Error()
				return
			}
			results[i].UserID = user.ID
		}(i, u)
	}

	wg.Wait()

	summary := Summary{Total: len(users), Results: results}
	for _, r := range results {
		if r.Error == "" {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	im.logger.Info("一括移行が完了しました",
		slog.String("realm", realm),
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return summary
}

func usernameOf(u *model.LegacyUser) string {
	if u == nil {
		return ""
	}
	return u.Username
}

// LoadFile は移行元ユーザーのJSON配列ファイルを読み込む。
func LoadFile(path string) ([]*model.LegacyUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	var users []*model.LegacyUser
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to parse import file %s: %w", path, err)
	}
	return users, nil
}
