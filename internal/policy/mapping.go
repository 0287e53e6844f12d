package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedMapping は"legacy:local"形式として解釈できない対応表エントリを表す。
var ErrMalformedMapping = errors.New("malformed mapping entry")

// MappingPolicy はプロバイダー設定1つ分の移行ポリシー。
// 構築後は読み取り専用として扱う。
type MappingPolicy struct {
	roleMap               map[string]string
	groupMap              map[string]string
	migrateUnmappedRoles  bool
	migrateUnmappedGroups bool
}

// NewMappingPolicy はComponentConfigからMappingPolicyを構築する。
// 不正な対応表エントリがある場合は起動時エラーとして返す。
func NewMappingPolicy(cfg ComponentConfig) (*MappingPolicy, error) {
	roleMap, err := ParseMapping(cfg, RoleMapProperty)
	if err != nil {
		return nil, err
	}
	groupMap, err := ParseMapping(cfg, GroupMapProperty)
	if err != nil {
		return nil, err
	}

	return &MappingPolicy{
		roleMap:               roleMap,
		groupMap:              groupMap,
		migrateUnmappedRoles:  parseFlag(cfg.GetFirst(MigrateUnmappedRolesProperty)),
		migrateUnmappedGroups: parseFlag(cfg.GetFirst(MigrateUnmappedGroupsProperty)),
	}, nil
}

// ParseMapping は指定プロパティの"legacy:local"ペア一覧を対応表に変換する。
// 最初のコロンで分割する。ローカル名が空のエントリは「移行しない」指定として許可する。
func ParseMapping(cfg ComponentConfig, property string) (map[string]string, error) {
	mapping := make(map[string]string)
	for _, entry := range cfg.GetList(property) {
		if strings.TrimSpace(entry) == "" {
			continue
		}

		legacy, local, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %s: %q has no ':' separator", ErrMalformedMapping, property, entry)
		}
		if legacy == "" {
			return nil, fmt.Errorf("%w: %s: %q has an empty legacy name", ErrMalformedMapping, property, entry)
		}
		if strings.Contains(local, ":") {
			return nil, fmt.Errorf("%w: %s: %q contains more than one ':'", ErrMalformedMapping, property, entry)
		}
		if existing, dup := mapping[legacy]; dup && existing != local {
			return nil, fmt.Errorf("%w: %s: %q is mapped to both %q and %q", ErrMalformedMapping, property, legacy, existing, local)
		}

		mapping[legacy] = local
	}
	return mapping, nil
}

// parseFlag は"true"（大文字小文字を区別しない）のみを真とする。
func parseFlag(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// MapRole は移行元ロール名を移行先ロール名に変換する。
// 対応表にない名前で未対応ロールの移行が無効の場合はokがfalseになる。
func (p *MappingPolicy) MapRole(name string) (string, bool) {
	return lookup(p.roleMap, p.migrateUnmappedRoles, name)
}

// MapGroup は移行元グループ名を移行先グループ名に変換する。
func (p *MappingPolicy) MapGroup(name string) (string, bool) {
	return lookup(p.groupMap, p.migrateUnmappedGroups, name)
}

func lookup(mapping map[string]string, migrateUnmapped bool, name string) (string, bool) {
	if mapped, ok := mapping[name]; ok {
		return mapped, true
	}
	if !migrateUnmapped {
		return "", false
	}
	return name, true
}

// MigrateUnmappedRoles は対応表にないロールを移行するかを返す。
func (p *MappingPolicy) MigrateUnmappedRoles() bool { return p.migrateUnmappedRoles }

// MigrateUnmappedGroups は対応表にないグループを移行するかを返す。
func (p *MappingPolicy) MigrateUnmappedGroups() bool { return p.migrateUnmappedGroups }

// RoleMap はロール対応表のコピーを返す。
func (p *MappingPolicy) RoleMap() map[string]string { return copyMap(p.roleMap) }

// GroupMap はグループ対応表のコピーを返す。
func (p *MappingPolicy) GroupMap() map[string]string { return copyMap(p.groupMap) }

func copyMap(m map[string]string) map[string]string {
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
