package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/usermigrator/internal/event"
	"github.com/hitoshi/usermigrator/internal/model"
	"github.com/hitoshi/usermigrator/internal/repository"
)

// 整合処理の結果種別（メトリクスラベル）
const (
	ResultSuccess   = "success"
	ResultIntegrity = "integrity_error"
	ResultInvalid   = "invalid"
	ResultError     = "error"
)

// MetricsRecorder は移行処理のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordReconcile(result string, duration time.Duration)
	RecordGroupCreated()
	RecordMappingDropped(kind string)
}

type nopMetrics struct{}

func (nopMetrics) RecordReconcile(string, time.Duration) {}
func (nopMetrics) RecordGroupCreated()                   {}
func (nopMetrics) RecordMappingDropped(string)           {}

// ProfileEmitter は移行イベントの送信インターフェース。
// Emitは呼び出し元をブロックしてはならない。
type ProfileEmitter interface {
	Emit(profile *event.MigrationProfile) bool
}

// Reconciler は移行元ユーザーを移行先ユーザーとして作成・更新する。
// プロバイダー設定ごとに1インスタンスを生成し、インスタンス間で状態を共有しない。
type Reconciler struct {
	users      repository.UserStore
	mapper     *Mapper
	emitter    ProfileEmitter
	providerID string
	logger     *slog.Logger
	metrics    MetricsRecorder
}

// NewReconciler はReconcilerを生成する。
// providerIDは作成したユーザーのfederation linkに設定する。
func NewReconciler(
	users repository.UserStore,
	mapper *Mapper,
	emitter ProfileEmitter,
	providerID string,
	logger *slog.Logger,
	metrics MetricsRecorder,
) *Reconciler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Reconciler{
		users:      users,
		mapper:     mapper,
		emitter:    emitter,
		providerID: providerID,
		logger:     logger,
		metrics:    metrics,
	}
}

// Reconcile は移行元ユーザーから移行先ユーザーを作成または特定し、属性・ロール・グループを反映する。
//
// 既存ユーザーのユーザー名が移行元と一致しない場合は*model.IntegrityErrorを返し、
// 一切の変更を行わない。ロール・グループの解決・付与の失敗と移行イベントの送信失敗は
// 整合処理の失敗として扱わない。移行イベントはユーザーの保存に成功した後にのみ送信する。
func (r *Reconciler) Reconcile(ctx context.Context, legacy *model.LegacyUser, realm string) (*model.LocalUser, error) {
	start := time.Now()

	user, err := r.reconcile(ctx, legacy, realm)

	result := ResultSuccess
	var integrityErr *model.IntegrityError
	switch {
	case err == nil:
	case errors.As(err, &integrityErr):
		result = ResultIntegrity
	case errors.Is(err, model.ErrUsernameRequired):
		result = ResultInvalid
	default:
		result = ResultError
	}
	r.metrics.RecordReconcile(result, time.Since(start))

	return user, err
}

func (r *Reconciler) reconcile(ctx context.Context, legacy *model.LegacyUser, realm string) (*model.LocalUser, error) {
	if legacy == nil || isBlank(legacy.Username) {
		return nil, model.ErrUsernameRequired
	}

	r.logger.Info("移行先ユーザーを作成します",
		slog.String("username", legacy.Username),
		slog.String("realm", realm),
	)

	// 1. ユーザーの作成または特定
	var user *model.LocalUser
	var err error
	if legacy.ID == "" {
		user, err = r.users.AddUser(ctx, realm, legacy.Username)
	} else {
		user, err = r.users.AddUserWithID(ctx, realm, legacy.ID, legacy.Username, true, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create local user: %w", err)
	}

	// 2. 同一性の検証（不一致の場合は以降の変更を一切行わない）
	if user.Username != legacy.Username {
		r.logger.Error("既存ユーザーと移行元ユーザーのユーザー名が一致しません",
			slog.String("user_id", user.ID),
			slog.String("local_username", user.Username),
			slog.String("legacy_username", legacy.Username),
		)
		return nil, &model.IntegrityError{
			LocalUsername:  user.Username,
			LegacyUsername: legacy.Username,
		}
	}

	// 3. federation link
	user.FederationLink = r.providerID

	// 4. スカラー属性の上書き
	user.Enabled = legacy.Enabled
	user.Email = legacy.Email
	user.EmailVerified = legacy.EmailVerified
	user.FirstName = legacy.FirstName
	user.LastName = legacy.LastName

	// 5. 任意属性の上書き
	for name, values := range legacy.Attributes {
		user.SetAttribute(name, values)
	}

	// 6. ロール・グループの付与（個別の失敗はその付与のみ破棄する）
	for _, role := range r.mapper.ResolveRoles(ctx, legacy.Roles, realm) {
		if err := r.users.GrantRole(ctx, user.ID, role.ID); err != nil {
			r.logger.Warn("ロールの付与に失敗したため破棄します",
				slog.String("user_id", user.ID),
				slog.String("role", role.Name),
				slog.String("error", err.Error()),
			)
			r.metrics.RecordMappingDropped(dropKindRole)
			continue
		}
		user.GrantRole(role.Name)
	}
	for _, group := range r.mapper.ResolveGroups(ctx, legacy.Groups, realm) {
		if err := r.users.JoinGroup(ctx, user.ID, group.ID); err != nil {
			r.logger.Warn("グループへの参加に失敗したため破棄します",
				slog.String("user_id", user.ID),
				slog.String("group", group.Name),
				slog.String("error", err.Error()),
			)
			r.metrics.RecordMappingDropped(dropKindGroup)
			continue
		}
		user.JoinGroup(group.Name)
	}

	// 7. 移行後は次回ログイン時にパスワード再設定を要求する
	user.AddRequiredAction(model.RequiredActionUpdatePassword)

	if err := r.users.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update local user: %w", err)
	}

	// 8. 移行イベント（ベストエフォート、保存に成功した場合のみ）
	if legacy.HasLegacyUserData() {
		r.emitProfile(user.ID, legacy)
	}

	r.logger.Info("移行先ユーザーの作成が完了しました",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
		slog.Int("role_count", len(user.Roles)),
		slog.Int("group_count", len(user.Groups)),
	)

	return user, nil
}

// emitProfile は移行イベントを構築して送信キューに渡す。
// 構築に失敗した場合はログに記録してイベントを送信しない。
func (r *Reconciler) emitProfile(userID string, legacy *model.LegacyUser) {
	if r.emitter == nil {
		return
	}

	profile, err := event.BuildProfile(userID, legacy.LegacyUserData)
	if err != nil {
		r.logger.Warn("移行イベントの構築に失敗したため送信しません",
			slog.String("user_id", userID),
			slog.String("username", legacy.Username),
			slog.String("error", err.Error()),
		)
		return
	}

	r.emitter.Emit(profile)
}
