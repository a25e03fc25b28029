package authpw

import (
	"context"
	"errors"
	"testing"

	"taskboard/api/internal/store"
)

type fakeUserStore struct {
	users map[string]store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]store.User)}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.Email] = user
	return nil
}

func TestRegisterAndSignIn(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{Name: "Priya", Email: "Priya@Example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "priya@example.com" {
		t.Fatalf("email not normalized: %s", user.Email)
	}
	if user.PasswordHash == "correct-horse" || user.PasswordHash == "" {
		t.Fatal("password stored unhashed")
	}

	got, err := svc.SignIn(ctx, "priya@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("signed in as wrong user: %s", got.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr error
	}{
		{"missing name", RegisterRequest{Email: "a@b.c", Password: "long-enough"}, ErrInvalidInput},
		{"missing email", RegisterRequest{Name: "A", Password: "long-enough"}, ErrInvalidInput},
		{"missing password", RegisterRequest{Name: "A", Email: "a@b.c"}, ErrInvalidInput},
		{"short password", RegisterRequest{Name: "A", Email: "a@b.c", Password: "short"}, ErrWeakPassword},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.req); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Name: "A", Email: "a@b.c", Password: "long-enough"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterRequest{Name: "B", Email: "a@b.c", Password: "long-enough"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Name: "A", Email: "a@b.c", Password: "long-enough"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.SignIn(ctx, "a@b.c", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "unknown@b.c", "long-enough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}
