package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("secret1", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotContains(t, string(hash), "secret1")

	ok, err := VerifyPassword("secret1", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("secret2", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordCorruptHash(t *testing.T) {
	ok, err := VerifyPassword("secret1", []byte("not-bcrypt"))
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestHashPasswordCost(t *testing.T) {
	hash, err := HashPassword("secret1", 10)
	require.NoError(t, err)
	cost, err := bcrypt.Cost(hash)
	require.NoError(t, err)
	assert.Equal(t, 10, cost)
}

func TestBurnPasswordCheckMatchesConfiguredCost(t *testing.T) {
	for _, cost := range []int{bcrypt.MinCost, bcrypt.MinCost + 1} {
		hash := dummyHashFor(cost)
		got, err := bcrypt.Cost(hash)
		require.NoError(t, err)
		assert.Equal(t, cost, got)
		assert.Equal(t, hash, dummyHashFor(cost))
	}

	BurnPasswordCheck("secret1", bcrypt.MinCost)
}
