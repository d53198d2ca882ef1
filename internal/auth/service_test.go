package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
	"github.com/hitoshi/librarian/internal/repository/memory"
)

// --- モック定義 ---

type mockSessionRepo struct {
	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) FindPrincipal(_ context.Context, _ string) (*model.Principal, error) {
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(_ context.Context, _ string) error {
	return nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context, _ int) (int64, error) {
	return 0, nil
}

// --- compile-time interface checks ---
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ PasswordHasher = (*BcryptHasher)(nil)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewService(store.Users(), store.Sessions(), NewBcryptHasher(bcrypt.MinCost), ServiceConfig{SessionMaxAge: 3600})
	return svc, store
}

// --- テスト ---

func TestSignup_CreatesMemberAndSession(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	user, session, err := svc.Signup(ctx, SignupInput{Name: " Alice ", Email: " Alice@Example.COM ", Password: "secret1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Role != model.RoleMember {
		t.Errorf("Role = %q, want member", user.Role)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Email = %q, want lower-cased", user.Email)
	}
	if user.Name != "Alice" {
		t.Errorf("Name = %q, want trimmed", user.Name)
	}
	if user.PasswordHash == "secret1" || user.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(session.ID))
	}

	p, err := store.Sessions().FindPrincipal(ctx, session.ID)
	if err != nil || p == nil || p.UserID != user.ID {
		t.Fatalf("session should resolve to new user: %+v, %v", p, err)
	}
}

func TestSignup_Validation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name  string
		input SignupInput
	}{
		{"名前なし", SignupInput{Name: "  ", Email: "a@example.com", Password: "secret1"}},
		{"メールなし", SignupInput{Name: "A", Email: "", Password: "secret1"}},
		{"メール形式不正", SignupInput{Name: "A", Email: "not-an-email", Password: "secret1"}},
		{"パスワードが短い", SignupInput{Name: "A", Email: "a@example.com", Password: "12345"}},
		{"パスワードが長すぎる", SignupInput{Name: "A", Email: "a@example.com", Password: strings.Repeat("x", 73)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Signup(context.Background(), tt.input)
			if !model.IsKind(err, model.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSignup_DuplicateEmail_ReturnsConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Signup(ctx, SignupInput{Name: "A", Email: "a@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("first signup failed: %v", err)
	}
	_, _, err := svc.Signup(ctx, SignupInput{Name: "B", Email: "A@example.com", Password: "secret2"})
	if !model.IsKind(err, model.KindConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	registered, _, err := svc.Signup(ctx, SignupInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	user, session, err := svc.Login(ctx, "A@EXAMPLE.com", "secret1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if user.ID != registered.ID || session == nil {
		t.Errorf("login returned user %q session %v", user.ID, session)
	}

	_, _, err = svc.Login(ctx, "a@example.com", "wrong-password")
	if !model.IsKind(err, model.KindUnauthorized) {
		t.Errorf("wrong password: expected unauthorized, got %v", err)
	}
	_, _, err = svc.Login(ctx, "nobody@example.com", "secret1")
	if !model.IsKind(err, model.KindUnauthorized) {
		t.Errorf("unknown email: expected unauthorized, got %v", err)
	}
}

func TestCreateAdmin_AssignsAdminRole(t *testing.T) {
	svc, _ := newTestService(t)

	admin, err := svc.CreateAdmin(context.Background(), SignupInput{Name: "Root", Email: "root@example.com", Password: "changeme"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admin.IsAdmin() {
		t.Errorf("Role = %q, want admin", admin.Role)
	}
}

func TestLogoutAndGetCurrentUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, session, err := svc.Signup(ctx, SignupInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	current, err := svc.GetCurrentUser(ctx, session.ID)
	if err != nil || current.ID != user.ID {
		t.Fatalf("GetCurrentUser = %v, %v", current, err)
	}

	if err := svc.Logout(ctx, session.ID); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := svc.GetCurrentUser(ctx, session.ID); !model.IsKind(err, model.KindUnauthorized) {
		t.Errorf("after logout: expected unauthorized, got %v", err)
	}
	if _, err := svc.GetCurrentUser(ctx, ""); !model.IsKind(err, model.KindUnauthorized) {
		t.Errorf("empty session: expected unauthorized, got %v", err)
	}
	if err := svc.Logout(ctx, ""); err == nil {
		t.Error("expected error for empty session ID")
	}
}

func TestSignup_SessionSaveFailure_PropagatesError(t *testing.T) {
	store := memory.NewStore()
	sessions := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			return errors.New("db down")
		},
	}
	svc := NewService(store.Users(), sessions, NewBcryptHasher(bcrypt.MinCost), ServiceConfig{SessionMaxAge: 60})

	_, _, err := svc.Signup(context.Background(), SignupInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("expected wrapped db error, got %v", err)
	}
}

func TestBcryptHasher_Compare(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("secret1")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if err := h.Compare(hash, "secret1"); err != nil {
		t.Errorf("expected match, got %v", err)
	}
	if err := h.Compare(hash, "secret2"); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("expected ErrPasswordMismatch, got %v", err)
	}
}
