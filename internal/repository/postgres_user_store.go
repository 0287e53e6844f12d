package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/hitoshi/usermigrator/internal/model"
)

// PostgresUserStore はPostgreSQLを使用したユーザーストア。
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore はPostgresUserStoreを生成する。
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

// AddUser はユーザー名のみでユーザーを作成する。IDはDBが採番する。
// 同一レルムに同名ユーザーが存在する場合は既存ユーザーを返す。
func (s *PostgresUserStore) AddUser(ctx context.Context, realm, username string) (*model.LocalUser, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (realm, username)
		 VALUES ($1, $2)
		 ON CONFLICT (realm, username) DO NOTHING`,
		realm, username,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	user, err := s.FindByUsername(ctx, realm, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found after insert: %s", username)
	}
	return user, nil
}

// AddUserWithID は指定IDでユーザーを作成する。
// 同一IDのユーザーが既に存在する場合は何も変更せず既存ユーザーを返す。
func (s *PostgresUserStore) AddUserWithID(ctx context.Context, realm, id, username string, addDefaultRoles, addDefaultRequiredActions bool) (*model.LocalUser, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var insertedID string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (id, realm, username)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING id`,
		id, realm, username,
	).Scan(&insertedID)

	inserted := true
	if err == sql.ErrNoRows {
		inserted = false
	} else if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	if inserted && addDefaultRoles {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_role_mappings (user_id, role_id)
			 SELECT $1, id FROM roles WHERE realm = $2 AND is_default
			 ON CONFLICT DO NOTHING`,
			id, realm,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to grant default roles: %w", err)
		}
	}

	if inserted && addDefaultRequiredActions {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_required_actions (user_id, action)
			 VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			id, string(model.RequiredActionVerifyEmail),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to add default required actions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	user, err := s.findOne(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found after insert: %s", id)
	}
	return user, nil
}

// FindByUsername はレルム内のユーザーをユーザー名で検索する。見つからない場合はnilを返す。
func (s *PostgresUserStore) FindByUsername(ctx context.Context, realm, username string) (*model.LocalUser, error) {
	return s.findOne(ctx, `WHERE realm = $1 AND username = $2`, realm, username)
}

func (s *PostgresUserStore) findOne(ctx context.Context, where string, args ...any) (*model.LocalUser, error) {
	user := &model.LocalUser{}
	var federationLink sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, realm, username, enabled, email, email_verified, first_name, last_name, federation_link, created_at
		 FROM users `+where,
		args...,
	).Scan(
		&user.ID, &user.Realm, &user.Username, &user.Enabled, &user.Email, &user.EmailVerified,
		&user.FirstName, &user.LastName, &federationLink, &user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user.FederationLink = federationLink.String

	if err := s.loadRelations(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// loadRelations は属性、必須アクション、ロール名、グループ名を読み込む。
func (s *PostgresUserStore) loadRelations(ctx context.Context, user *model.LocalUser) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM user_attributes WHERE user_id = $1 ORDER BY name, position`,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load attributes: %w", err)
	}
	attrs := make(map[string][]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan attribute: %w", err)
		}
		attrs[name] = append(attrs[name], value)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate attributes: %w", err)
	}
	if len(attrs) > 0 {
		user.Attributes = attrs
	}

	actions, err := s.queryStrings(ctx,
		`SELECT action FROM user_required_actions WHERE user_id = $1 ORDER BY action`, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load required actions: %w", err)
	}
	for _, a := range actions {
		user.RequiredActions = append(user.RequiredActions, model.RequiredAction(a))
	}

	user.Roles, err = s.queryStrings(ctx,
		`SELECT r.name FROM user_role_mappings m JOIN roles r ON r.id = m.role_id
		 WHERE m.user_id = $1 ORDER BY r.name`, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load roles: %w", err)
	}

	user.Groups, err = s.queryStrings(ctx,
		`SELECT g.name FROM user_group_memberships m JOIN groups g ON g.id = m.group_id
		 WHERE m.user_id = $1 ORDER BY g.name`, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}

	return nil
}

func (s *PostgresUserStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// UpdateUser はスカラー属性、federation link、属性、必須アクションを同一トランザクションで上書き保存する。
func (s *PostgresUserStore) UpdateUser(ctx context.Context, user *model.LocalUser) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var federationLink sql.NullString
	if user.FederationLink != "" {
		federationLink = sql.NullString{String: user.FederationLink, Valid: true}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE users
		 SET enabled = $2, email = $3, email_verified = $4, first_name = $5, last_name = $6,
		     federation_link = $7, updated_at = now()
		 WHERE id = $1`,
		user.ID, user.Enabled, user.Email, user.EmailVerified, user.FirstName, user.LastName, federationLink,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", user.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_attributes WHERE user_id = $1`, user.ID); err != nil {
		return fmt.Errorf("failed to clear attributes: %w", err)
	}
	names := make([]string, 0, len(user.Attributes))
	for name := range user.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for i, value := range user.Attributes[name] {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO user_attributes (user_id, name, position, value) VALUES ($1, $2, $3, $4)`,
				user.ID, name, i, value,
			)
			if err != nil {
				return fmt.Errorf("failed to insert attribute %s: %w", name, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_required_actions WHERE user_id = $1`, user.ID); err != nil {
		return fmt.Errorf("failed to clear required actions: %w", err)
	}
	for _, action := range user.RequiredActions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_required_actions (user_id, action) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			user.ID, string(action),
		)
		if err != nil {
			return fmt.Errorf("failed to insert required action: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GrantRole はユーザーにロールを付与する。付与済みの場合は何もしない。
func (s *PostgresUserStore) GrantRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_role_mappings (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

// JoinGroup はユーザーをグループに参加させる。参加済みの場合は何もしない。
func (s *PostgresUserStore) JoinGroup(ctx context.Context, userID, groupID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_group_memberships (user_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, groupID,
	)
	if err != nil {
		return fmt.Errorf("failed to join group: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserStore = (*PostgresUserStore)(nil)
