package main

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/ambulance-dispatch/internal/config"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

type MockUserCollection struct {
	mock.Mock
}

func (m *MockUserCollection) InsertUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return user, args.Error(0)
}

func (m *MockUserCollection) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserCollection) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserCollection) UpdateLastLogin(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type stubHasher struct{ err error }

func (h stubHasher) HashPassword(password string) (string, error) {
	return "hashed:" + password, h.err
}

var adminCfg = config.AdminConfig{Name: "Root", Email: "root@example.com", Password: "changeme123"}

func TestSeedAdmin_Creates(t *testing.T) {
	log, _ := test.NewNullLogger()
	users := new(MockUserCollection)
	users.On("FindUserByEmail", mock.Anything, "root@example.com").Return(nil, models.ErrNotFound)
	users.On("InsertUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.Role == models.RoleAdmin && u.PasswordHash == "hashed:changeme123" && u.Name == "Root"
	})).Return(nil).Once()

	require.NoError(t, seedAdmin(context.Background(), users, stubHasher{}, adminCfg, log))
	users.AssertExpectations(t)
}

func TestSeedAdmin_AlreadyPresent(t *testing.T) {
	log, _ := test.NewNullLogger()
	users := new(MockUserCollection)
	users.On("FindUserByEmail", mock.Anything, "root@example.com").Return(&models.User{Email: "root@example.com"}, nil)

	require.NoError(t, seedAdmin(context.Background(), users, stubHasher{}, adminCfg, log))
	users.AssertNotCalled(t, "InsertUser", mock.Anything, mock.Anything)
}

func TestSeedAdmin_Disabled(t *testing.T) {
	log, _ := test.NewNullLogger()
	users := new(MockUserCollection)
	require.NoError(t, seedAdmin(context.Background(), users, stubHasher{}, config.AdminConfig{}, log))
	users.AssertNotCalled(t, "FindUserByEmail", mock.Anything, mock.Anything)
}

func TestSeedAdmin_Errors(t *testing.T) {
	log, _ := test.NewNullLogger()

	t.Run("lookup failure", func(t *testing.T) {
		users := new(MockUserCollection)
		users.On("FindUserByEmail", mock.Anything, mock.Anything).Return(nil, errors.New("mongo down"))
		assert.Error(t, seedAdmin(context.Background(), users, stubHasher{}, adminCfg, log))
	})

	t.Run("hash failure", func(t *testing.T) {
		users := new(MockUserCollection)
		users.On("FindUserByEmail", mock.Anything, mock.Anything).Return(nil, models.ErrNotFound)
		assert.Error(t, seedAdmin(context.Background(), users, stubHasher{err: errors.New("boom")}, adminCfg, log))
	})

	t.Run("concurrent insert is not an error", func(t *testing.T) {
		users := new(MockUserCollection)
		users.On("FindUserByEmail", mock.Anything, mock.Anything).Return(nil, models.ErrNotFound)
		users.On("InsertUser", mock.Anything, mock.Anything).Return(models.ErrConflict)
		assert.NoError(t, seedAdmin(context.Background(), users, stubHasher{}, adminCfg, log))
	})
}
