package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/usermigrator/internal/model"
	"github.com/hitoshi/usermigrator/internal/repository"
)

// LegacySource は移行元システムへの問い合わせインターフェース。
type LegacySource interface {
	FindByUsername(ctx context.Context, username string) (*model.LegacyUser, error)
	ValidatePassword(ctx context.Context, username, password string) (bool, error)
}

// Service は初回ログイン時の移行フローを提供する。
type Service struct {
	users      repository.UserStore
	legacy     LegacySource
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewService はServiceを生成する。
func NewService(users repository.UserStore, legacy LegacySource, reconciler *Reconciler, logger *slog.Logger) *Service {
	return &Service{
		users:      users,
		legacy:     legacy,
		reconciler: reconciler,
		logger:     logger,
	}
}

// MigrateByUsername はユーザー名で移行先ユーザーを取得する。
// 移行済み（federation linkあり）のユーザーはそのまま返す。ローカルに存在しないか、
// 途中で失敗してfederation linkが未設定のユーザーは移行元から取得して整合処理をやり直す。
func (s *Service) MigrateByUsername(ctx context.Context, realm, username string) (*model.LocalUser, error) {
	if isBlank(username) {
		return nil, model.NewInvalidRequestError("username is required")
	}

	existing, err := s.users.FindByUsername(ctx, realm, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find local user: %w", err)
	}
	if existing != nil && existing.FederationLink != "" {
		s.logger.Debug("移行済みユーザーのため移行元を参照しません",
			slog.String("username", username),
			slog.String("realm", realm),
			slog.String("federation_link", existing.FederationLink),
		)
		return existing, nil
	}

	legacyUser, err := s.legacy.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch legacy user: %w", err)
	}
	if legacyUser == nil {
		// 移行元に存在しないローカル専用ユーザー
		if existing != nil {
			return existing, nil
		}
		return nil, model.NewLegacyUserNotFoundError(username)
	}

	user, err := s.reconciler.Reconcile(ctx, legacyUser, realm)
	if err != nil {
		return nil, translateReconcileError(err)
	}
	return user, nil
}

// Login は移行元システムでパスワードを検証した上で移行先ユーザーを返す。
func (s *Service) Login(ctx context.Context, realm, username, password string) (*model.LocalUser, error) {
	if isBlank(username) || password == "" {
		return nil, model.NewInvalidRequestError("username and password are required")
	}

	ok, err := s.legacy.ValidatePassword(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("failed to validate password: %w", err)
	}
	if !ok {
		s.logger.Info("移行元システムでの認証に失敗しました",
			slog.String("username", username),
			slog.String("realm", realm),
		)
		return nil, model.NewInvalidCredentialsError()
	}

	return s.MigrateByUsername(ctx, realm, username)
}

// translateReconcileError は整合処理のエラーをAPIエラーに変換する。
// 変換対象でないエラーはそのまま返す。
func translateReconcileError(err error) error {
	var integrityErr *model.IntegrityError
	if errors.As(err, &integrityErr) {
		return model.NewIntegrityViolationError(integrityErr)
	}
	if errors.Is(err, model.ErrUsernameRequired) {
		return model.NewInvalidLegacyUserError(err.Error())
	}
	return err
}
