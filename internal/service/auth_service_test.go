package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/config"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
)

type userStoreStub struct {
	users map[string]*models.User
}

func (u *userStoreStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := u.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (u *userStoreStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, user := range u.users {
		if user.ID == id {
			copied := *user
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:     "test_secret",
		Issuer:     "discova-test",
		Expiration: time.Hour,
	}
}

func newTestAuthService(t *testing.T, password string) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	store := &userStoreStub{users: map[string]*models.User{
		"parent@example.com": {
			ID:           "user-1",
			Email:        "parent@example.com",
			PasswordHash: string(hash),
			Role:         models.RoleParent,
			FullName:     "Tran Thi Mai",
			Active:       true,
		},
		"dormant@example.com": {
			ID:           "user-2",
			Email:        "dormant@example.com",
			PasswordHash: string(hash),
			Role:         models.RoleParent,
			FullName:     "Le Van Hung",
			Active:       false,
		},
	}}
	return NewAuthService(store, testJWTConfig(), zap.NewNop())
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc := newTestAuthService(t, "s3cret-pass")

	resp, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:    "parent@example.com",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleParent, resp.Role)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleParent, claims.Role)
	assert.Equal(t, "parent@example.com", claims.Email)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := newTestAuthService(t, "s3cret-pass")

	_, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:    "parent@example.com",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginUnknownEmailLooksLikeBadCredentials(t *testing.T) {
	svc := newTestAuthService(t, "s3cret-pass")

	_, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:    "nobody@example.com",
		Password: "s3cret-pass",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	svc := newTestAuthService(t, "s3cret-pass")

	_, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:    "dormant@example.com",
		Password: "s3cret-pass",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestAuthService(t, "s3cret-pass")

	_, err := svc.ValidateToken("not.a.token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := newTestAuthService(t, "s3cret-pass")
	svc.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }

	resp, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:    "parent@example.com",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)

	_, err = svc.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
