// Package model はドメインモデルを定義する。
package model

import "time"

// RequiredAction は次回認証時にユーザーへ要求するアクションを表す。
type RequiredAction string

const (
	// RequiredActionUpdatePassword はパスワード再設定を要求する。
	// 移行直後のユーザーには必ず付与する。
	RequiredActionUpdatePassword RequiredAction = "UPDATE_PASSWORD"
	// RequiredActionVerifyEmail はメールアドレス確認を要求する。
	RequiredActionVerifyEmail RequiredAction = "VERIFY_EMAIL"
)

// LocalUser は移行先IdPのユーザーを表す。
// 永続化はUserStoreが担い、Reconcilerは指示されたフィールドのみを書き換える。
type LocalUser struct {
	ID              string              `json:"id"`
	Realm           string              `json:"realm"`
	Username        string              `json:"username"`
	Enabled         bool                `json:"enabled"`
	Email           string              `json:"email"`
	EmailVerified   bool                `json:"emailVerified"`
	FirstName       string              `json:"firstName"`
	LastName        string              `json:"lastName"`
	Attributes      map[string][]string `json:"attributes,omitempty"`
	Roles           []string            `json:"roles,omitempty"`
	Groups          []string            `json:"groups,omitempty"`
	RequiredActions []RequiredAction    `json:"requiredActions,omitempty"`
	FederationLink  string              `json:"federationLink,omitempty"` // 作成元プロバイダー設定のID
	CreatedAt       time.Time           `json:"createdAt"`
}

// SetAttribute は属性を上書きする。
func (u *LocalUser) SetAttribute(name string, values []string) {
	if u.Attributes == nil {
		u.Attributes = make(map[string][]string)
	}
	copied := make([]string, len(values))
	copy(copied, values)
	u.Attributes[name] = copied
}

// AddRequiredAction は必須アクションを追加する。既に存在する場合は何もしない。
func (u *LocalUser) AddRequiredAction(action RequiredAction) {
	for _, a := range u.RequiredActions {
		if a == action {
			return
		}
	}
	u.RequiredActions = append(u.RequiredActions, action)
}

// HasRequiredAction は指定の必須アクションが設定されているかを返す。
func (u *LocalUser) HasRequiredAction(action RequiredAction) bool {
	for _, a := range u.RequiredActions {
		if a == action {
			return true
		}
	}
	return false
}

// GrantRole はロール名を付与済みとして記録する。
func (u *LocalUser) GrantRole(name string) {
	for _, r := range u.Roles {
		if r == name {
			return
		}
	}
	u.Roles = append(u.Roles, name)
}

// JoinGroup はグループ名を参加済みとして記録する。
func (u *LocalUser) JoinGroup(name string) {
	for _, g := range u.Groups {
		if g == name {
			return
		}
	}
	u.Groups = append(u.Groups, name)
}

// Role はレルム内のロールを表す。ロールは移行時に自動作成しない。
type Role struct {
	ID        string
	Realm     string
	Name      string
	IsDefault bool
}

// Group はレルム内のグループを表す。
type Group struct {
	ID        string
	Realm     string
	Name      string
	CreatedAt time.Time
}
