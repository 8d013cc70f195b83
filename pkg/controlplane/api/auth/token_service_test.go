package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbsup-team/securenas/pkg/controlplane/api/auth"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewTokenServiceRejectsShortSecret(t *testing.T) {
	_, err := auth.NewTokenService("too-short", time.Hour)
	assert.ErrorIs(t, err, auth.ErrInvalidSecretLength)
}

func TestMintAndValidate(t *testing.T) {
	svc, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := svc.MintAdminToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, auth.Issuer, claims.Issuer)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	svc, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	other, err := auth.NewTokenService("ffffffffffffffffffffffffffffffff", time.Hour)
	require.NoError(t, err)

	token, _, err := svc.MintAdminToken()
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc, err := auth.NewTokenService(testSecret, -time.Minute)
	require.NoError(t, err)

	token, _, err := svc.MintAdminToken()
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}
