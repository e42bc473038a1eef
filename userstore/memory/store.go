// Package memory is an in-process [authgate.UserProvider].
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/MrEthical07/authgate"
	"github.com/google/uuid"
)

// Store keeps accounts in a map keyed by user id. UpdateUser holds the
// write lock for the whole mutation, so check-and-clear of a token slot is
// linearizable.
type Store struct {
	mu      sync.RWMutex
	users   map[string]authgate.UserRecord
	byEmail map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:   map[string]authgate.UserRecord{},
		byEmail: map[string]string{},
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (authgate.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return authgate.UserRecord{}, authgate.ErrProviderNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (authgate.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return authgate.UserRecord{}, authgate.ErrProviderNotFound
	}
	return u, nil
}

// FindUserByToken scans every account. Tokens are unique with overwhelming
// probability, so the first match wins.
func (s *Store) FindUserByToken(_ context.Context, kind authgate.TokenKind, token string) (authgate.UserRecord, error) {
	if token == "" {
		return authgate.UserRecord{}, authgate.ErrProviderNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if slot := u.Token(kind); slot != nil && slot.Value == token {
			return u, nil
		}
	}
	return authgate.UserRecord{}, authgate.ErrProviderNotFound
}

// CreateUser stores user. An empty UserID is filled with a random UUID.
func (s *Store) CreateUser(_ context.Context, user authgate.UserRecord) (authgate.UserRecord, error) {
	key := emailKey(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[key]; exists {
		return authgate.UserRecord{}, authgate.ErrProviderDuplicateEmail
	}
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	if _, exists := s.users[user.UserID]; exists {
		return authgate.UserRecord{}, authgate.ErrProviderDuplicateEmail
	}

	s.users[user.UserID] = user
	s.byEmail[key] = user.UserID
	return user, nil
}

// UpdateUser applies mutate to a copy of the row and stores it only when
// mutate returns nil. The email index follows email changes.
func (s *Store) UpdateUser(_ context.Context, userID string, mutate func(*authgate.UserRecord) error) (authgate.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[userID]
	if !ok {
		return authgate.UserRecord{}, authgate.ErrProviderNotFound
	}

	next := current
	if err := mutate(&next); err != nil {
		return authgate.UserRecord{}, err
	}
	next.UserID = userID

	oldKey, newKey := emailKey(current.Email), emailKey(next.Email)
	if oldKey != newKey {
		if _, taken := s.byEmail[newKey]; taken {
			return authgate.UserRecord{}, authgate.ErrProviderDuplicateEmail
		}
		delete(s.byEmail, oldKey)
		s.byEmail[newKey] = userID
	}

	s.users[userID] = next
	return next, nil
}

// Len reports how many accounts are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
