package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	hash, err := hasher.HashPassword("s3cret-passphrase")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-passphrase", hash)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	assert.NoError(t, hasher.ComparePasswordAndHash("s3cret-passphrase", hash))
	assert.ErrorIs(t, hasher.ComparePasswordAndHash("wrong", hash), auth.ErrInvalidCredentials)
}

func TestBcryptHasher_RejectsEmpty(t *testing.T) {
	_, err := auth.NewBcryptHasher(bcrypt.MinCost).HashPassword("")
	assert.ErrorIs(t, err, auth.ErrNoEmptyString)

	assert.ErrorIs(t, auth.ComparePasswordAndHash("", "hash"), auth.ErrInvalidCredentials)
	assert.ErrorIs(t, auth.ComparePasswordAndHash("pw", ""), auth.ErrInvalidCredentials)
}

func TestBcryptHasher_OutOfRangeCostFallsBack(t *testing.T) {
	hash, err := auth.NewBcryptHasher(99).HashPassword("pw")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cost, bcrypt.DefaultCost)
}

func TestComparePasswordAndHash_GarbageHash(t *testing.T) {
	err := auth.ComparePasswordAndHash("pw", "not-a-bcrypt-hash")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
}
