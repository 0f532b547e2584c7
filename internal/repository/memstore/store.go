// Package memstore keeps users, reset tokens, subscriptions and scan counters
// in process memory. It mirrors the postgres repositories, including their
// unique constraints and atomic counter updates, and backs the memory store
// driver and service tests.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"plantscan/api/internal/models"
	"plantscan/api/internal/repository"
)

type counterKey struct {
	userID string
	day    string
}

type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	users         map[string]models.User
	resets        map[string]models.PasswordReset
	subscriptions map[string]models.Subscription
	counters      map[counterKey]models.ScanCounter
}

func New() *Store {
	return &Store{
		now:           time.Now,
		users:         make(map[string]models.User),
		resets:        make(map[string]models.PasswordReset),
		subscriptions: make(map[string]models.Subscription),
		counters:      make(map[counterKey]models.ScanCounter),
	}
}

// WithClock replaces the clock used for created/updated timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *Store) Users() *Users                 { return &Users{s: s} }
func (s *Store) ResetTokens() *ResetTokens     { return &ResetTokens{s: s} }
func (s *Store) Subscriptions() *Subscriptions { return &Subscriptions{s: s} }
func (s *Store) Scans() *Scans                 { return &Scans{s: s} }

type Users struct{ s *Store }

func (u *Users) Create(_ context.Context, user models.User) (models.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return models.User{}, repository.ErrDuplicateEmail
		}
	}
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.PasswordHash = bytes.Clone(user.PasswordHash)
	s.users[user.ID] = user
	return user, nil
}

func (u *Users) FindByEmail(_ context.Context, email string) (models.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (u *Users) GetByID(_ context.Context, id string) (models.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return user, nil
}

func (u *Users) UpdateProfile(_ context.Context, id string, update models.ProfileUpdate) (models.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	if update.DisplayName != nil {
		user.DisplayName = *update.DisplayName
	}
	switch {
	case update.AvatarURL == nil:
	case *update.AvatarURL == "":
		user.AvatarURL = nil
	default:
		avatar := *update.AvatarURL
		user.AvatarURL = &avatar
	}
	user.UpdatedAt = s.now()
	s.users[id] = user
	return user, nil
}

func (u *Users) UpdatePassword(_ context.Context, id string, passwordHash []byte) error {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setPasswordLocked(id, passwordHash)
}

func (s *Store) setPasswordLocked(id string, passwordHash []byte) error {
	user, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.PasswordHash = bytes.Clone(passwordHash)
	user.UpdatedAt = s.now()
	s.users[id] = user
	return nil
}

type ResetTokens struct{ s *Store }

func (r *ResetTokens) Replace(_ context.Context, reset models.PasswordReset) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropResetsLocked(reset.UserID)
	reset.TokenHash = bytes.Clone(reset.TokenHash)
	s.resets[reset.ID] = reset
	return nil
}

func (r *ResetTokens) Consume(_ context.Context, tokenHash []byte, now time.Time, passwordHash []byte) (string, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var match *models.PasswordReset
	for _, reset := range s.resets {
		if bytes.Equal(reset.TokenHash, tokenHash) && reset.ExpiresAt.After(now) {
			reset := reset
			match = &reset
			break
		}
	}
	if match == nil {
		return "", repository.ErrResetTokenNotFound
	}
	if err := s.setPasswordLocked(match.UserID, passwordHash); err != nil {
		return "", err
	}
	s.dropResetsLocked(match.UserID)
	return match.UserID, nil
}

func (r *ResetTokens) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, reset := range s.resets {
		if !reset.ExpiresAt.After(now) {
			delete(s.resets, id)
			purged++
		}
	}
	return purged, nil
}

func (s *Store) dropResetsLocked(userID string) {
	for id, reset := range s.resets {
		if reset.UserID == userID {
			delete(s.resets, id)
		}
	}
}

type Subscriptions struct{ s *Store }

func (m *Subscriptions) GetActive(_ context.Context, userID string) (models.Subscription, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.activeLocked(userID); ok {
		return sub, nil
	}
	return models.Subscription{}, repository.ErrSubscriptionNotFound
}

func (m *Subscriptions) GetByPaymentReference(_ context.Context, reference string) (models.Subscription, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if sub.PaymentReference != nil && *sub.PaymentReference == reference {
			return sub, nil
		}
	}
	return models.Subscription{}, repository.ErrSubscriptionNotFound
}

func (m *Subscriptions) Activate(_ context.Context, sub models.Subscription) (models.Subscription, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.PaymentReference != nil {
		for _, existing := range s.subscriptions {
			if existing.PaymentReference != nil && *existing.PaymentReference == *sub.PaymentReference {
				return models.Subscription{}, repository.ErrDuplicatePaymentReference
			}
		}
		ref := *sub.PaymentReference
		sub.PaymentReference = &ref
	}

	now := s.now()
	if prior, ok := s.activeLocked(sub.UserID); ok {
		prior.Status = models.SubscriptionCancelled
		prior.UpdatedAt = now
		s.subscriptions[prior.ID] = prior
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now
	s.subscriptions[sub.ID] = sub
	return sub, nil
}

func (m *Subscriptions) Cancel(_ context.Context, userID string) (models.Subscription, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.activeLocked(userID)
	if !ok {
		return models.Subscription{}, repository.ErrSubscriptionNotFound
	}
	sub.Status = models.SubscriptionCancelled
	sub.UpdatedAt = s.now()
	s.subscriptions[sub.ID] = sub
	return sub, nil
}

func (m *Subscriptions) ExpireLapsed(_ context.Context, now time.Time) (int64, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	for id, sub := range s.subscriptions {
		if sub.Status == models.SubscriptionActive && !sub.EndDate.After(now) {
			sub.Status = models.SubscriptionExpired
			sub.UpdatedAt = s.now()
			s.subscriptions[id] = sub
			expired++
		}
	}
	return expired, nil
}

// All returns every subscription of userID, oldest first.
func (m *Subscriptions) All(userID string) []models.Subscription {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var subs []models.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs
}

func (s *Store) activeLocked(userID string) (models.Subscription, bool) {
	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.Status == models.SubscriptionActive {
			return sub, true
		}
	}
	return models.Subscription{}, false
}

type Scans struct{ s *Store }

func (c *Scans) Get(_ context.Context, userID, day string) (models.ScanCounter, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[counterKey{userID, day}]
	if !ok {
		return models.ScanCounter{}, repository.ErrScanCounterNotFound
	}
	return counter, nil
}

func (c *Scans) Increment(_ context.Context, userID, day string) (models.ScanCounter, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(userID, day), nil
}

func (c *Scans) Reserve(_ context.Context, userID, day string, limit int) (models.ScanCounter, bool, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{userID, day}
	if counter, ok := s.counters[key]; ok && limit > 0 && counter.ScanCount >= limit {
		return counter, false, nil
	}
	s.incrementLocked(userID, day)
	counter := s.counters[key]
	counter.Reserved++
	s.counters[key] = counter
	return counter, true, nil
}

func (c *Scans) Release(_ context.Context, userID, day string) (models.ScanCounter, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{userID, day}
	counter, ok := s.counters[key]
	if !ok {
		return models.ScanCounter{}, repository.ErrScanCounterNotFound
	}
	if counter.Reserved <= 0 || counter.ScanCount <= 0 {
		return models.ScanCounter{}, repository.ErrNoReservation
	}
	counter.ScanCount--
	counter.Reserved--
	counter.UpdatedAt = s.now()
	s.counters[key] = counter
	return counter, nil
}

func (s *Store) incrementLocked(userID, day string) models.ScanCounter {
	key := counterKey{userID, day}
	counter, ok := s.counters[key]
	if !ok {
		counter = models.ScanCounter{UserID: userID, ScanDate: day}
	}
	counter.ScanCount++
	counter.UpdatedAt = s.now()
	s.counters[key] = counter
	return counter
}
