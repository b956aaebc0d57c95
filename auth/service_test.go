package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:       "alice@example.com",
		Password:    "supersafe",
		DisplayName: "Alice",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if user.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, user.Email)
	}
	if user.Role != RoleCustomer {
		t.Fatalf("register: expected default role %s got %s", RoleCustomer, user.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	tokenUserID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenUserID != user.ID {
		t.Fatalf("verify token: expected %q got %q", user.ID, tokenUserID)
	}
	if tokenRole != RoleCustomer {
		t.Fatalf("verify token: expected role %s got %s", RoleCustomer, tokenRole)
	}
}

func TestService_RegisterAgent(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "bob@example.com",
		Password:    "supersafe",
		DisplayName: "Bob's Plumbing",
		Role:        RoleAgent,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != RoleAgent {
		t.Fatalf("expected agent role, got %s", user.Role)
	}
}

func TestService_AdminCannotSelfRegister(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "mallory@example.com",
		Password:    "supersafe",
		DisplayName: "Mallory",
		Role:        RoleAdmin,
	})
	if !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("expected ErrRoleNotAllowed, got %v", err)
	}
}

func TestService_EnsureAdmin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	ctx := context.Background()

	admin, err := svc.EnsureAdmin(ctx, "ops@example.com", "supersafe", "")
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if admin.Role != RoleAdmin {
		t.Fatalf("expected admin role, got %s", admin.Role)
	}

	again, err := svc.EnsureAdmin(ctx, "ops@example.com", "supersafe", "")
	if err != nil {
		t.Fatalf("ensure admin twice: %v", err)
	}
	if again.ID != admin.ID {
		t.Fatal("expected existing admin to be returned")
	}

	if _, err := svc.Register(ctx, RegisterRequest{Email: "c@example.com", Password: "supersafe", DisplayName: "C"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.EnsureAdmin(ctx, "c@example.com", "supersafe", ""); err == nil {
		t.Fatal("expected refusal to promote an existing customer")
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		Password:    "short",
		DisplayName: "Alice",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "",
		Password:    "strongpassword",
		DisplayName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "x@example.com",
		Password:    "strongpassword",
		DisplayName: "X",
		Role:        "broker",
	}); err == nil {
		t.Fatal("expected validation error for unknown role")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:       "alice@example.com",
		Password:    "strongpassword",
		DisplayName: "Alice",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_ExpiredToken(t *testing.T) {
	repo := newFakeRepository()
	issued := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(repo, "test-secret").WithClock(func() time.Time { return issued })
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "supersafe", DisplayName: "A"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := svc.Login(ctx, LoginRequest{Email: "a@example.com", Password: "supersafe"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	svc.WithClock(func() time.Time { return issued.Add(25 * time.Hour) })
	if _, _, err := svc.VerifyToken(res.Token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

type fakeRepository struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByEmail[strings.ToLower(params.Email)]; exists {
		return User{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++

	user := User{
		ID:           id,
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.usersByEmail[strings.ToLower(user.Email)] = user
	f.usersByID[user.ID] = user

	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
