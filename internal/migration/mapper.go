// Package migration は移行元ユーザーを移行先ユーザーとして整合させる中核ロジックを提供する。
// ユーザーの作成/特定、ロール・グループの対応付け、移行イベントの発行を含む。
package migration

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/usermigrator/internal/model"
	"github.com/hitoshi/usermigrator/internal/policy"
	"github.com/hitoshi/usermigrator/internal/repository"
)

// ドロップ理由の種別（メトリクスラベル）
const (
	dropKindRole  = "role"
	dropKindGroup = "group"
)

// Mapper は移行元のロール名・グループ名を移行先のロール・グループに解決する。
type Mapper struct {
	realms  repository.RealmStore
	policy  *policy.MappingPolicy
	logger  *slog.Logger
	metrics MetricsRecorder
}

// NewMapper はMapperを生成する。metricsはnilでもよい。
func NewMapper(realms repository.RealmStore, p *policy.MappingPolicy, logger *slog.Logger, metrics MetricsRecorder) *Mapper {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Mapper{
		realms:  realms,
		policy:  p,
		logger:  logger,
		metrics: metrics,
	}
}

// ResolveRoles はロール名一覧を移行先ロールに解決する。
// 対応表で置換し、存在しないロールは作成せずに除外する。
// 解決できなかった名前はエラーにせず結果から除外する。
func (m *Mapper) ResolveRoles(ctx context.Context, names []string, realm string) []*model.Role {
	var roles []*model.Role
	seen := make(map[string]bool)

	for _, name := range names {
		mapped, ok := m.policy.MapRole(name)
		if !ok {
			m.logger.Debug("対応表にないロールを除外しました", slog.String("role", name))
			m.metrics.RecordMappingDropped(dropKindRole)
			continue
		}
		if isBlank(mapped) {
			m.metrics.RecordMappingDropped(dropKindRole)
			continue
		}

		role, err := m.realms.FindRoleByName(ctx, realm, mapped)
		if err != nil {
			m.logger.Warn("ロールの検索に失敗しました",
				slog.String("realm", realm),
				slog.String("role", mapped),
				slog.String("error", err.Error()),
			)
			m.metrics.RecordMappingDropped(dropKindRole)
			continue
		}
		if role == nil {
			m.logger.Info("移行先にロールが存在しないため除外しました",
				slog.String("realm", realm),
				slog.String("role", mapped),
			)
			m.metrics.RecordMappingDropped(dropKindRole)
			continue
		}

		if seen[role.ID] {
			continue
		}
		seen[role.ID] = true
		roles = append(roles, role)
	}

	return roles
}

// ResolveGroups はグループ名一覧を移行先グループに解決する。
// 既存グループとは大文字小文字を区別せずに照合し、存在しない場合は指定名のまま作成する。
// 同一呼び出し内で作成・発見したグループは後続の名前でも再利用する。
func (m *Mapper) ResolveGroups(ctx context.Context, names []string, realm string) []*model.Group {
	if len(names) == 0 {
		return nil
	}

	known, err := m.realms.ListGroups(ctx, realm)
	if err != nil {
		m.logger.Warn("グループ一覧の取得に失敗したためグループを付与しません",
			slog.String("realm", realm),
			slog.String("error", err.Error()),
		)
		for range names {
			m.metrics.RecordMappingDropped(dropKindGroup)
		}
		return nil
	}

	var groups []*model.Group
	seen := make(map[string]bool)

	for _, name := range names {
		mapped, ok := m.policy.MapGroup(name)
		if !ok {
			m.logger.Debug("対応表にないグループを除外しました", slog.String("group", name))
			m.metrics.RecordMappingDropped(dropKindGroup)
			continue
		}
		if isBlank(mapped) {
			m.metrics.RecordMappingDropped(dropKindGroup)
			continue
		}

		group := findGroupFold(known, mapped)
		if group != nil {
			m.logger.Info("既存グループを使用します",
				slog.String("group", group.Name),
				slog.String("group_id", group.ID),
			)
		} else {
			group, err = m.realms.CreateGroup(ctx, realm, mapped)
			if err != nil {
				m.logger.Warn("グループの作成に失敗しました",
					slog.String("realm", realm),
					slog.String("group", mapped),
					slog.String("error", err.Error()),
				)
				m.metrics.RecordMappingDropped(dropKindGroup)
				continue
			}
			m.logger.Info("グループを作成しました",
				slog.String("group", group.Name),
				slog.String("group_id", group.ID),
			)
			m.metrics.RecordGroupCreated()
			known = append(known, group)
		}

		if seen[group.ID] {
			continue
		}
		seen[group.ID] = true
		groups = append(groups, group)
	}

	return groups
}

func findGroupFold(groups []*model.Group, name string) *model.Group {
	for _, g := range groups {
		if strings.EqualFold(g.Name, name) {
			return g
		}
	}
	return nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
