package model

// LegacyUser は移行元システムから取得したユーザー情報を表す。
// 取得後は不変として扱う。
type LegacyUser struct {
	// ID が空の場合は移行先で新規IDを採番する。
	ID            string              `json:"id"`
	Username      string              `json:"username"`
	Email         string              `json:"email"`
	EmailVerified bool                `json:"emailVerified"`
	Enabled       bool                `json:"enabled"`
	FirstName     string              `json:"firstName"`
	LastName      string              `json:"lastName"`
	Roles         []string            `json:"roles"`
	Groups        []string            `json:"groups"`
	Attributes    map[string][]string `json:"attributes"`
	// LegacyUserData は移行イベント専用の追加プロフィール情報。
	LegacyUserData map[string]string `json:"legacyUserData"`
}

// HasLegacyUserData は移行イベントを発行すべき追加データがあるかを返す。
func (u *LegacyUser) HasLegacyUserData() bool {
	return len(u.LegacyUserData) > 0
}
