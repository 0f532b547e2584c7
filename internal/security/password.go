package security

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

func HashPassword(password string, cost int) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// VerifyPassword returns false without an error on a plain mismatch.
func VerifyPassword(password string, hash []byte) (bool, error) {
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("compare password: %w", err)
}

var (
	dummyMu     sync.Mutex
	dummyHashes = map[int][]byte{}
)

// dummyHashFor returns a cached hash generated at cost, so a burn comparison
// costs the same as checking a stored hash of that cost.
func dummyHashFor(cost int) []byte {
	dummyMu.Lock()
	defer dummyMu.Unlock()

	if hash, ok := dummyHashes[cost]; ok {
		return hash
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("plantscan-dummy-password"), cost)
	if err != nil {
		hash, _ = bcrypt.GenerateFromPassword([]byte("plantscan-dummy-password"), bcrypt.DefaultCost)
	}
	dummyHashes[cost] = hash
	return hash
}

// BurnPasswordCheck spends the same time as a real comparison against a hash
// of the given cost so that unknown accounts cannot be told apart by latency.
func BurnPasswordCheck(password string, cost int) {
	_ = bcrypt.CompareHashAndPassword(dummyHashFor(cost), []byte(password))
}
