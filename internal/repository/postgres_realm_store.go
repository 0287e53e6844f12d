package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/usermigrator/internal/model"
)

// PostgresRealmStore はPostgreSQLを使用したロール・グループストア。
type PostgresRealmStore struct {
	db *sql.DB
}

// NewPostgresRealmStore はPostgresRealmStoreを生成する。
func NewPostgresRealmStore(db *sql.DB) *PostgresRealmStore {
	return &PostgresRealmStore{db: db}
}

// FindRoleByName は完全一致でロールを検索する。見つからない場合はnilを返す。
func (s *PostgresRealmStore) FindRoleByName(ctx context.Context, realm, name string) (*model.Role, error) {
	role := &model.Role{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, realm, name, is_default FROM roles WHERE realm = $1 AND name = $2`,
		realm, name,
	).Scan(&role.ID, &role.Realm, &role.Name, &role.IsDefault)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find role: %w", err)
	}
	return role, nil
}

// ListGroups はレルム内の全グループを作成順に返す。
func (s *PostgresRealmStore) ListGroups(ctx context.Context, realm string) ([]*model.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, realm, name, created_at FROM groups WHERE realm = $1 ORDER BY created_at, id`,
		realm,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*model.Group
	for rows.Next() {
		g := &model.Group{}
		if err := rows.Scan(&g.ID, &g.Realm, &g.Name, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	return groups, nil
}

// CreateGroup は指定名のグループを作成する。
// (realm, lower(name))のユニーク制約に衝突した場合は作成せず既存グループを返すため、
// 同名グループを同時に作成しようとしても重複しない。
func (s *PostgresRealmStore) CreateGroup(ctx context.Context, realm, name string) (*model.Group, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (realm, name)
		 VALUES ($1, $2)
		 ON CONFLICT (realm, lower(name)) DO NOTHING`,
		realm, name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}

	g := &model.Group{}
	err = s.db.QueryRowContext(ctx,
		`SELECT id, realm, name, created_at FROM groups WHERE realm = $1 AND lower(name) = lower($2)`,
		realm, name,
	).Scan(&g.ID, &g.Realm, &g.Name, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to find group after insert: %w", err)
	}
	return g, nil
}

// compile-time interface check
var _ RealmStore = (*PostgresRealmStore)(nil)
