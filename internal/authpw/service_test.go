package authpw

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitesmith/api/internal/store"
)

type fakeUserStore struct {
	users  map[string]store.User
	nextID int64
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]store.User{}, nextID: 1}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if user, ok := f.users[email]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(_ context.Context, email, passwordHash string) (store.User, error) {
	if _, ok := f.users[email]; ok {
		return store.User{}, store.ErrUniqueViolation
	}
	user := store.User{ID: f.nextID, Email: email, PasswordHash: passwordHash}
	f.nextID++
	f.users[email] = user
	return user, nil
}

func TestRegisterNormalizesEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())

	user, err := svc.Register(context.Background(), "  Owner@Example.COM ", "password123")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", user.Email)
	assert.NotEqual(t, "password123", user.PasswordHash)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	fake := newFakeUserStore()
	svc := NewService(fake)

	_, err := svc.Register(context.Background(), "owner@example.com", "password123")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "OWNER@example.com", "password456")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterShortPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())

	_, err := svc.Register(context.Background(), "owner@example.com", "short")
	assert.ErrorContains(t, err, "at least 8 characters")
}

func TestLogin(t *testing.T) {
	fake := newFakeUserStore()
	svc := NewService(fake)

	_, err := svc.Register(context.Background(), "owner@example.com", "password123")
	require.NoError(t, err)

	user, err := svc.Login(context.Background(), "Owner@Example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", user.Email)

	_, err = svc.Login(context.Background(), "owner@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "stranger@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
