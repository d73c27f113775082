// Package authpw provides email/password registration and sign-in.
package authpw

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"pdca/api/internal/rbac"
	"pdca/api/internal/store"
)

const MinPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInactiveUser       = errors.New("account is disabled")
)

var emailRule = validator.New()

// ValidEmail applies the same rule as the `email` tag on request bodies, so
// imported accounts and registered accounts accept the same addresses.
func ValidEmail(email string) bool {
	return emailRule.Var(email, "required,email") == nil
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

type RegisterRequest struct {
	Email      string
	Password   string
	FullName   string
	Department string
}

// Register creates an active Employee account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	email := NormalizeEmail(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" {
		return store.User{}, &ValidationError{Field: "email", Message: "is required"}
	}
	if !ValidEmail(email) {
		return store.User{}, &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	if fullName == "" {
		return store.User{}, &ValidationError{Field: "full_name", Message: "is required"}
	}
	if len(req.Password) < MinPasswordLength {
		return store.User{}, &ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return store.User{}, ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}

	user, err := s.store.CreateUser(ctx, store.User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         string(rbac.RoleEmployee),
		Department:   strings.TrimSpace(req.Department),
		IsActive:     true,
	})
	if errors.Is(err, store.ErrConflict) {
		return store.User{}, ErrEmailTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user. Unknown emails and wrong passwords are
// reported the same way.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return store.User{}, ErrInactiveUser
	}
	return user, nil
}

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const passwordAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// TemporaryPassword returns a random password for imported accounts.
func TemporaryPassword() (string, error) {
	const length = 14
	out := make([]byte, length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
