package migration

import (
	"bytes"
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/usermigrator/internal/event"
	"github.com/hitoshi/usermigrator/internal/model"
	"github.com/hitoshi/usermigrator/internal/policy"
)

// --- モック定義 ---

// memUserStore はUserStoreのインメモリ実装。
// 返却するユーザーはコピーなので、UpdateUserを呼ぶまでストアの状態は変わらない。
type memUserStore struct {
	mu           sync.Mutex
	users        map[string]*model.LocalUser
	defaultRoles []string

	grants      []string // "userID:roleID"
	joins       []string // "userID:groupID"
	updateCalls int

	updateUserFn func(ctx context.Context, user *model.LocalUser) error
	findFn       func(ctx context.Context, realm, username string) (*model.LocalUser, error)
	grantRoleFn  func(ctx context.Context, userID, roleID string) error
	joinGroupFn  func(ctx context.Context, userID, groupID string) error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]*model.LocalUser)}
}

func cloneUser(u *model.LocalUser) *model.LocalUser {
	c := *u
	c.Attributes = maps.Clone(u.Attributes)
	c.Roles = slices.Clone(u.Roles)
	c.Groups = slices.Clone(u.Groups)
	c.RequiredActions = slices.Clone(u.RequiredActions)
	return &c
}

func (s *memUserStore) put(u *model.LocalUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = cloneUser(u)
}

func (s *memUserStore) get(id string) *model.LocalUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	return cloneUser(u)
}

func (s *memUserStore) AddUser(ctx context.Context, realm, username string) (*model.LocalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Realm == realm && u.Username == username {
			return cloneUser(u), nil
		}
	}
	u := &model.LocalUser{ID: uuid.NewString(), Realm: realm, Username: username, CreatedAt: time.Now()}
	s.users[u.ID] = u
	return cloneUser(u), nil
}

func (s *memUserStore) AddUserWithID(ctx context.Context, realm, id, username string, addDefaultRoles, addDefaultRequiredActions bool) (*model.LocalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return cloneUser(u), nil
	}
	u := &model.LocalUser{ID: id, Realm: realm, Username: username, CreatedAt: time.Now()}
	if addDefaultRoles {
		for _, r := range s.defaultRoles {
			u.GrantRole(r)
		}
	}
	if addDefaultRequiredActions {
		u.AddRequiredAction(model.RequiredActionVerifyEmail)
	}
	s.users[id] = u
	return cloneUser(u), nil
}

func (s *memUserStore) FindByUsername(ctx context.Context, realm, username string) (*model.LocalUser, error) {
	if s.findFn != nil {
		return s.findFn(ctx, realm, username)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Realm == realm && u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (s *memUserStore) UpdateUser(ctx context.Context, user *model.LocalUser) error {
	if s.updateUserFn != nil {
		if err := s.updateUserFn(ctx, user); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *memUserStore) GrantRole(ctx context.Context, userID, roleID string) error {
	if s.grantRoleFn != nil {
		if err := s.grantRoleFn(ctx, userID, roleID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, userID+":"+roleID)
	return nil
}

func (s *memUserStore) JoinGroup(ctx context.Context, userID, groupID string) error {
	if s.joinGroupFn != nil {
		if err := s.joinGroupFn(ctx, userID, groupID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins = append(s.joins, userID+":"+groupID)
	return nil
}

// memRealmStore はRealmStoreのインメモリ実装。
// CreateGroupは大文字小文字を区別せず一意性を保証する。
type memRealmStore struct {
	mu          sync.Mutex
	roles       map[string]*model.Role
	groups      []*model.Group
	createCalls int
	listCalls   int

	findRoleErr error
	listErr     error
	createErr   error
}

func newMemRealmStore(roleNames ...string) *memRealmStore {
	s := &memRealmStore{roles: make(map[string]*model.Role)}
	for _, name := range roleNames {
		s.roles[name] = &model.Role{ID: "role-" + name, Realm: "test", Name: name}
	}
	return s
}

func (s *memRealmStore) addGroup(name string) *model.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &model.Group{ID: uuid.NewString(), Realm: "test", Name: name, CreatedAt: time.Now()}
	s.groups = append(s.groups, g)
	return g
}

func (s *memRealmStore) groupNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.groups))
	for _, g := range s.groups {
		names = append(names, g.Name)
	}
	return names
}

func (s *memRealmStore) FindRoleByName(ctx context.Context, realm, name string) (*model.Role, error) {
	if s.findRoleErr != nil {
		return nil, s.findRoleErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[name], nil
}

func (s *memRealmStore) ListGroups(ctx context.Context, realm string) ([]*model.Group, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	return slices.Clone(s.groups), nil
}

func (s *memRealmStore) CreateGroup(ctx context.Context, realm, name string) (*model.Group, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	for _, g := range s.groups {
		if strings.EqualFold(g.Name, name) {
			return g, nil
		}
	}
	g := &model.Group{ID: uuid.NewString(), Realm: realm, Name: name, CreatedAt: time.Now()}
	s.groups = append(s.groups, g)
	return g, nil
}

// mockEmitter はProfileEmitterのテスト用モック。
type mockEmitter struct {
	mu       sync.Mutex
	profiles []*event.MigrationProfile
	accept   bool
}

func (m *mockEmitter) Emit(profile *event.MigrationProfile) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = append(m.profiles, profile)
	return m.accept
}

func (m *mockEmitter) emitted() []*event.MigrationProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.profiles)
}

// mockMetrics はMetricsRecorderのテスト用モック。
type mockMetrics struct {
	mu           sync.Mutex
	results      []string
	groupCreated int
	dropped      map[string]int
}

func (m *mockMetrics) RecordReconcile(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}

func (m *mockMetrics) RecordGroupCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupCreated++
}

func (m *mockMetrics) RecordMappingDropped(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped == nil {
		m.dropped = make(map[string]int)
	}
	m.dropped[kind]++
}

// --- ヘルパー ---

const testProviderID = "legacy-user-provider"

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestPolicy(t *testing.T, cfg policy.ComponentConfig) *policy.MappingPolicy {
	t.Helper()
	p, err := policy.NewMappingPolicy(cfg)
	if err != nil {
		t.Fatalf("NewMappingPolicy returned error: %v", err)
	}
	return p
}

type fixture struct {
	users      *memUserStore
	realms     *memRealmStore
	emitter    *mockEmitter
	metrics    *mockMetrics
	logs       *bytes.Buffer
	mapper     *Mapper
	reconciler *Reconciler
}

func newFixture(t *testing.T, cfg policy.ComponentConfig, roleNames ...string) *fixture {
	t.Helper()
	f := &fixture{
		users:   newMemUserStore(),
		realms:  newMemRealmStore(roleNames...),
		emitter: &mockEmitter{accept: true},
		metrics: &mockMetrics{},
		logs:    &bytes.Buffer{},
	}
	logger := newTestLogger(f.logs)
	f.mapper = NewMapper(f.realms, newTestPolicy(t, cfg), logger, f.metrics)
	f.reconciler = NewReconciler(f.users, f.mapper, f.emitter, testProviderID, logger, f.metrics)
	return f
}
