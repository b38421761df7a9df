package httpapi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"warungpos/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
	listErr error
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Active: true, CreatedAt: time.Now().UTC()},
		},
	}

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, _ := store.ListUsers(context.Background())
	if len(users) != 1 || !isPasswordHash(users[0].Password) {
		t.Fatalf("expected password to be upgraded to a bcrypt hash, got %+v", users)
	}
	if store.updates != 1 {
		t.Fatalf("expected exactly one upgrade write, got %d", store.updates)
	}
}

func TestLoginIssuesTokenCarryingRole(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)
	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "Sari", Password: "rahasia1"}); err != nil {
		t.Fatalf("create cashier: %v", err)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " sari ", Password: "rahasia1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "sari" || actor.Role != domain.RoleCashier {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadPasswordAndInactiveAccount(t *testing.T) {
	hash, err := hashPassword("secret99")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"budi": {Username: "budi", Password: hash, Role: domain.RoleCashier, Active: false},
	}}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "budi", Password: "nope"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "budi", Password: "secret99"}); !errors.Is(err, errInactiveAccount) {
		t.Fatalf("expected inactive account, got %v", err)
	}
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, nil)

	other := NewAuthManager(context.Background(), "other-secret", time.Hour, nil)
	foreign, err := other.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(foreign); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	expired, err := manager.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	wrongIssuer, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(wrongIssuer); err == nil {
		t.Fatalf("expected token from another issuer to be rejected")
	}

	unknownRole, err := manager.sign("admin", "owner", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(unknownRole); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestCreateCashierValidation(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, &userStoreStub{})

	cases := []domain.CashierCreateRequest{
		{Username: "abc", Password: "rahasia1"},
		{Username: "dewi ayu", Password: "rahasia1"},
		{Username: "dewiayu", Password: "12345"},
	}
	for _, req := range cases {
		if _, err := manager.CreateCashier(context.Background(), req); !errors.Is(err, errInvalidCashier) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}

	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "dewiayu", Password: "rahasia1"}); err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "DewiAyu", Password: "rahasia1"}); !errors.Is(err, errUsernameTaken) {
		t.Fatalf("expected duplicate username, got %v", err)
	}

	cashiers := manager.ListCashiers(context.Background())
	if len(cashiers) != 1 || cashiers[0].Username != "dewiayu" {
		t.Fatalf("unexpected cashiers %+v", cashiers)
	}
}

func TestRefreshFailureKeepsCachedUsers(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)
	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "rina", Password: "rahasia1"}); err != nil {
		t.Fatalf("create cashier: %v", err)
	}

	store.mu.Lock()
	store.listErr = errors.New("connection refused")
	store.mu.Unlock()

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "rina", Password: "rahasia1"})
	if err != nil {
		t.Fatalf("expected cached login to succeed, got %v", err)
	}
	if resp.Role != domain.RoleCashier {
		t.Fatalf("unexpected role %q", resp.Role)
	}
}
