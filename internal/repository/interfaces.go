// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/usermigrator/internal/model"
)

// UserStore は移行先ユーザーの永続化インターフェース。
type UserStore interface {
	// AddUser はユーザー名のみでユーザーを作成する。IDはストアが採番する。
	// 同一レルムに同名ユーザーが存在する場合は既存ユーザーを返す。
	AddUser(ctx context.Context, realm, username string) (*model.LocalUser, error)

	// AddUserWithID は指定IDでユーザーを作成する。
	// 同一IDのユーザーが既に存在する場合は既存ユーザーをそのまま返す（ユーザー名の検証は呼び出し側が行う）。
	// addDefaultRolesがtrueの場合はレルムのデフォルトロールを付与する。
	// addDefaultRequiredActionsがtrueの場合はVERIFY_EMAILを付与する。
	AddUserWithID(ctx context.Context, realm, id, username string, addDefaultRoles, addDefaultRequiredActions bool) (*model.LocalUser, error)

	// FindByUsername はレルム内のユーザーをユーザー名で検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, realm, username string) (*model.LocalUser, error)

	// UpdateUser はスカラー属性、federation link、属性、必須アクションを上書き保存する。
	UpdateUser(ctx context.Context, user *model.LocalUser) error

	// GrantRole はユーザーにロールを付与する。付与済みの場合は何もしない。
	GrantRole(ctx context.Context, userID, roleID string) error

	// JoinGroup はユーザーをグループに参加させる。参加済みの場合は何もしない。
	JoinGroup(ctx context.Context, userID, groupID string) error
}

// RealmStore はレルム内のロール・グループの永続化インターフェース。
type RealmStore interface {
	// FindRoleByName は完全一致でロールを検索する。見つからない場合はnilを返す。
	FindRoleByName(ctx context.Context, realm, name string) (*model.Role, error)

	// ListGroups はレルム内の全グループを返す。
	ListGroups(ctx context.Context, realm string) ([]*model.Group, error)

	// CreateGroup は指定名のグループを作成する。
	// 大文字小文字を区別せず同名のグループが既に存在する場合は既存グループを返す。
	CreateGroup(ctx context.Context, realm, name string) (*model.Group, error)
}
