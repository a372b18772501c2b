package account

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// -- Mock Repository --

type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]*User
	seq   int
	err   error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*User)}
}

func (m *mockUserRepo) add(u *User) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if u.CustomUserID == "" {
		u.CustomUserID = fmt.Sprintf("PT-%06d", m.seq)
	}
	if u.Role == "" {
		u.Role = RolePatient
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	u.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Second)
	m.users[u.UID] = u
	return u
}

func (m *mockUserRepo) Upsert(_ context.Context, u *User) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	existing, ok := m.users[u.UID]
	m.mu.Unlock()
	if !ok {
		cp := *u
		*u = *m.add(&cp)
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.Email != "" {
		existing.Email = u.Email
	}
	if u.DisplayName != "" {
		existing.DisplayName = u.DisplayName
	}
	*u = *existing
	return nil
}

func (m *mockUserRepo) GetByUID(_ context.Context, uid string) (*User, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByCustomID(_ context.Context, customID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.CustomUserID == customID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockUserRepo) SetActive(_ context.Context, uid string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return ErrNotFound
	}
	u.IsArchived, u.Archived = !active, !active
	u.Status = StatusActive
	if !active {
		u.Status = StatusInactive
	}
	return nil
}

func (m *mockUserRepo) List(_ context.Context, limit, offset int) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*User
	for _, u := range m.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return []*User{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockUserRepo) ListInactive(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if u.IsInactive() {
			out = append(out, u)
		}
	}
	return out, nil
}

type mockDirectory struct {
	disabled map[string]bool
	err      error
}

func (d *mockDirectory) SetDisabled(_ context.Context, uid string, disabled bool) error {
	if d.err != nil {
		return d.err
	}
	d.disabled[uid] = disabled
	return nil
}

func newTestService() (*Service, *mockUserRepo, *mockDirectory) {
	repo := newMockUserRepo()
	dir := &mockDirectory{disabled: make(map[string]bool)}
	return NewService(repo, dir, zerolog.Nop()), repo, dir
}

// -- Tests --

func TestUser_IsInactive(t *testing.T) {
	tests := []struct {
		name string
		user User
		want bool
	}{
		{"active", User{Status: StatusActive}, false},
		{"is_archived", User{Status: StatusActive, IsArchived: true}, true},
		{"archived", User{Status: StatusActive, Archived: true}, true},
		{"status Inactive", User{Status: "Inactive"}, true},
		{"status lowercase", User{Status: "inactive"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.IsInactive(); got != tt.want {
				t.Errorf("IsInactive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegister_Idempotent(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Register(ctx, "u1", "ana@example.com", "Ana")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if first.Role != RolePatient || first.Status != StatusActive || first.CustomUserID != "PT-000001" {
		t.Errorf("unexpected user %+v", first)
	}

	// An admin promoted out of band keeps the role on re-registration.
	repo.users["u1"].Role = RoleAdmin
	second, err := svc.Register(ctx, "u1", "", "Ana Cruz")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if second.Role != RoleAdmin || second.Email != "ana@example.com" || second.DisplayName != "Ana Cruz" {
		t.Errorf("unexpected user after re-register %+v", second)
	}
	if len(repo.users) != 1 {
		t.Errorf("expected one user, got %d", len(repo.users))
	}
}

func TestRegister_RequiresUID(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Register(context.Background(), "", "a@b.c", ""); err == nil {
		t.Fatal("expected error without uid")
	}
}

func TestCheckStatus(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	repo.add(&User{UID: "active"})
	repo.add(&User{UID: "gone", IsArchived: true})

	cases := map[string]AccountStatus{
		"active":  AccountActive,
		"gone":    AccountInactive,
		"missing": AccountNotFound,
	}
	for uid, want := range cases {
		got, err := svc.CheckStatus(ctx, uid)
		if err != nil {
			t.Fatalf("CheckStatus(%s): %v", uid, err)
		}
		if got != want {
			t.Errorf("CheckStatus(%s) = %s, want %s", uid, got, want)
		}
	}

	repo.err = errors.New("connection refused")
	if _, err := svc.CheckStatus(ctx, "active"); err == nil {
		t.Error("expected repository error to surface")
	}
}

func TestDeactivate_ByCustomID(t *testing.T) {
	svc, repo, dir := newTestService()
	u := repo.add(&User{UID: "u1"})

	got, err := svc.Deactivate(context.Background(), Ref{CustomID: u.CustomUserID})
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if !got.IsInactive() || got.Status != StatusInactive {
		t.Errorf("expected inactive user, got %+v", got)
	}
	if !repo.users["u1"].IsArchived || !repo.users["u1"].Archived {
		t.Error("expected both archive flags stored")
	}
	if !dir.disabled["u1"] {
		t.Error("expected identity disabled")
	}
}

func TestReactivate(t *testing.T) {
	svc, repo, dir := newTestService()
	repo.add(&User{UID: "u1", Status: StatusInactive, IsArchived: true, Archived: true})
	dir.disabled["u1"] = true

	got, err := svc.Reactivate(context.Background(), Ref{UID: "u1"})
	if err != nil {
		t.Fatalf("Reactivate: %v", err)
	}
	if got.IsInactive() {
		t.Errorf("expected active user, got %+v", got)
	}
	if dir.disabled["u1"] {
		t.Error("expected identity enabled")
	}
}

func TestDeactivate_DirectoryFailureKeepsRecord(t *testing.T) {
	svc, repo, dir := newTestService()
	repo.add(&User{UID: "u1"})
	dir.err = errors.New("user not present in directory")

	if _, err := svc.Deactivate(context.Background(), Ref{UID: "u1"}); err != nil {
		t.Fatalf("directory failure should not fail deactivation: %v", err)
	}
	if !repo.users["u1"].IsInactive() {
		t.Error("expected record to be deactivated")
	}
}

func TestDeactivate_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Deactivate(context.Background(), Ref{UID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Deactivate(context.Background(), Ref{}); err == nil {
		t.Error("expected error for empty ref")
	}
}

func TestRef_String(t *testing.T) {
	if got := (Ref{UID: "abc"}).String(); got != "uid=abc" {
		t.Errorf("got %q", got)
	}
	if got := (Ref{CustomID: "PT-000002"}).String(); got != "customUserId=PT-000002" {
		t.Errorf("got %q", got)
	}
}
