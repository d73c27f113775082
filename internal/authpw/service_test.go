package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"pdca/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users map[string]store.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if user, ok := m.users[email]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if _, ok := m.users[user.Email]; ok {
		return store.User{}, store.ErrConflict
	}
	user.ID = "user-" + user.Email
	m.users[user.Email] = user
	return user, nil
}

func newTestService(m *mockUserStore) *Service {
	svc := NewService(m)
	svc.cost = bcrypt.MinCost
	return svc
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := newTestService(mockStore)

	t.Run("successful registration", func(t *testing.T) {
		user, err := svc.Register(ctx, RegisterRequest{
			Email:      "  Test@Example.com ",
			Password:   "password123",
			FullName:   "Test User",
			Department: "Ops",
		})
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if user.Email != "test@example.com" {
			t.Errorf("expected normalized email, got %s", user.Email)
		}
		if user.Role != "Employee" {
			t.Errorf("expected Employee role, got %s", user.Role)
		}
		if !user.IsActive {
			t.Error("expected new user to be active")
		}
		if user.PasswordHash == "password123" {
			t.Error("password stored in plain text")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterRequest{Email: "test@example.com", Password: "password123", FullName: "Other"})
		if !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("Register() error = %v, want ErrEmailTaken", err)
		}
	})

	invalid := []struct {
		name  string
		req   RegisterRequest
		field string
	}{
		{name: "missing email", req: RegisterRequest{Password: "password123", FullName: "A"}, field: "email"},
		{name: "bad email", req: RegisterRequest{Email: "nope", Password: "password123", FullName: "A"}, field: "email"},
		{name: "missing name", req: RegisterRequest{Email: "a@example.com", Password: "password123"}, field: "full_name"},
		{name: "short password", req: RegisterRequest{Email: "a@example.com", Password: "short", FullName: "A"}, field: "password"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Register() error = %v, want ValidationError", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("ValidationError.Field = %s, want %s", verr.Field, tc.field)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	cases := map[string]bool{
		"test@example.com":          true,
		`"john doe"@example.com`:    true,
		"a@b":                       false,
		"user@localhost":            false,
		"x@[127.0.0.1]":             false,
		"Ana <ana@example.com>":     false,
		"":                          false,
		"first.last+tag@example.io": true,
	}
	for email, want := range cases {
		if got := ValidEmail(email); got != want {
			t.Errorf("ValidEmail(%q) = %v, want %v", email, got, want)
		}
	}
}

func TestRegisterRejectsHostOnlyAddress(t *testing.T) {
	svc := newTestService(newMockUserStore())
	_, err := svc.Register(context.Background(), RegisterRequest{Email: "user@localhost", Password: "password123", FullName: "A"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "email" {
		t.Fatalf("Register(user@localhost) error = %v, want email ValidationError", err)
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := newTestService(mockStore)

	if _, err := svc.Register(ctx, RegisterRequest{Email: "test@example.com", Password: "password123", FullName: "Test User"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		user, err := svc.SignIn(ctx, "TEST@example.com", "password123")
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if user.Email != "test@example.com" {
			t.Errorf("expected email test@example.com, got %s", user.Email)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, "test@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("SignIn() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("SignIn() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("inactive user", func(t *testing.T) {
		user := mockStore.users["test@example.com"]
		user.IsActive = false
		mockStore.users["test@example.com"] = user
		if _, err := svc.SignIn(ctx, "test@example.com", "password123"); !errors.Is(err, ErrInactiveUser) {
			t.Fatalf("SignIn() error = %v, want ErrInactiveUser", err)
		}
	})
}

func TestTemporaryPassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		password, err := TemporaryPassword()
		if err != nil {
			t.Fatalf("TemporaryPassword() error = %v", err)
		}
		if len(password) < MinPasswordLength {
			t.Fatalf("TemporaryPassword() = %q, shorter than %d", password, MinPasswordLength)
		}
		seen[password] = true
	}
	if len(seen) < 2 {
		t.Fatal("TemporaryPassword() returned the same value repeatedly")
	}
}
