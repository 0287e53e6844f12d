// Package policy は移行ポリシー設定（ロール/グループ対応表と未対応名の扱い）を解決する。
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// プロバイダー設定のプロパティ名
const (
	RoleMapProperty               = "ROLE_MAP"
	GroupMapProperty              = "GROUP_MAP"
	MigrateUnmappedRolesProperty  = "MIGRATE_UNMAPPED_ROLES"
	MigrateUnmappedGroupsProperty = "MIGRATE_UNMAPPED_GROUPS"
)

// ComponentConfig はプロバイダー設定の生データ（キーごとに1つ以上の値）を表す。
type ComponentConfig map[string][]string

// GetList は指定キーの値一覧を返す。未設定の場合はnilを返す。
func (c ComponentConfig) GetList(key string) []string {
	return c[key]
}

// GetFirst は指定キーの先頭の値を返す。未設定の場合は空文字を返す。
func (c ComponentConfig) GetFirst(key string) string {
	values := c[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// FromEnv は環境変数からComponentConfigを構築する。
// 対応表はカンマ区切りで指定する（例: ROLE_MAP="admin:realm-admin,user:member"）。
func FromEnv(getenv func(string) string) ComponentConfig {
	cfg := make(ComponentConfig)
	for _, key := range []string{RoleMapProperty, GroupMapProperty} {
		if v := getenv(key); v != "" {
			cfg[key] = splitList(v)
		}
	}
	for _, key := range []string{MigrateUnmappedRolesProperty, MigrateUnmappedGroupsProperty} {
		if v := getenv(key); v != "" {
			cfg[key] = []string{v}
		}
	}
	return cfg
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			values = append(values, p)
		}
	}
	return values
}

// configValues はスカラーと配列の両方を受け付けるYAML値。
type configValues []string

// UnmarshalYAML はyaml.Unmarshalerを実装する。
func (v *configValues) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = configValues{node.Value}
		return nil
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return err
		}
		*v = configValues(values)
		return nil
	default:
		return fmt.Errorf("line %d: expected scalar or sequence", node.Line)
	}
}

// ParseYAML はYAML形式のポリシー定義からComponentConfigを構築する。
//
//	ROLE_MAP:
//	  - "admin:realm-admin"
//	MIGRATE_UNMAPPED_GROUPS: true
func ParseYAML(data []byte) (ComponentConfig, error) {
	var raw map[string]configValues
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse policy yaml: %w", err)
	}
	cfg := make(ComponentConfig, len(raw))
	for k, v := range raw {
		cfg[k] = []string(v)
	}
	return cfg, nil
}

// LoadFile はYAMLファイルからComponentConfigを読み込む。
func LoadFile(path string) (ComponentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParseYAML(data)
}

// Merge はoverrideの値でbaseを上書きした新しいComponentConfigを返す。
func Merge(base, override ComponentConfig) ComponentConfig {
	merged := make(ComponentConfig, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
