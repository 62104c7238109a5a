package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/batch-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
)

type mockUserRepo struct {
	users      map[string]*models.User
	lastLogins map[string]time.Time
}

func newMockUserRepo(users ...*models.User) *mockUserRepo {
	repo := &mockUserRepo{users: make(map[string]*models.User), lastLogins: make(map[string]time.Time)}
	for _, u := range users {
		cp := *u
		repo.users[u.ID] = &cp
	}
	return repo
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	m.lastLogins[id] = at
	return nil
}

func schedulerUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "user-1",
		Email:        "scheduler@campus.edu",
		PasswordHash: string(hash),
		FullName:     "Dana Scheduler",
		Role:         models.RoleScheduler,
		Active:       true,
	}
}

func newAuthService(repo *mockUserRepo) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{
		Secret:     "test-secret",
		Expiration: time.Hour,
		Issuer:     "batch-scheduler-test",
	})
}

func TestAuthServiceLogin(t *testing.T) {
	repo := newMockUserRepo(schedulerUser(t, "s3cret"))
	svc := newAuthService(repo)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "scheduler@campus.edu", Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "user-1", resp.User.ID)
	assert.Equal(t, models.RoleScheduler, resp.User.Role)
	assert.Contains(t, repo.lastLogins, "user-1")

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleScheduler, claims.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	svc := newAuthService(newMockUserRepo(schedulerUser(t, "s3cret")))

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "scheduler@campus.edu", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc := newAuthService(newMockUserRepo())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@campus.edu", Password: "s3cret"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	user := schedulerUser(t, "s3cret")
	user.Active = false
	svc := newAuthService(newMockUserRepo(user))

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "scheduler@campus.edu", Password: "s3cret"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginValidatesPayload(t *testing.T) {
	svc := newAuthService(newMockUserRepo())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "s3cret"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenRejectsWrongSecret(t *testing.T) {
	repo := newMockUserRepo(schedulerUser(t, "s3cret"))
	issuer := newAuthService(repo)
	resp, err := issuer.Login(context.Background(), models.LoginRequest{Email: "scheduler@campus.edu", Password: "s3cret"})
	require.NoError(t, err)

	verifier := NewAuthService(repo, nil, nil, AuthConfig{Secret: "different-secret", Expiration: time.Hour})
	_, err = verifier.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceCurrentUser(t *testing.T) {
	user := schedulerUser(t, "s3cret")
	svc := newAuthService(newMockUserRepo(user))

	found, err := svc.CurrentUser(context.Background(), &models.JWTClaims{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, user.Email, found.Email)

	_, err = svc.CurrentUser(context.Background(), &models.JWTClaims{UserID: "gone"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
