package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

// Manager issues and resolves session tokens. A token is an HS256 JWT whose
// only claim of interest is the session id; everything else lives in the Store.
type Manager struct {
	store  Store
	secret []byte
	ttl    time.Duration
}

// NewManager creates a Manager backed by store.
func NewManager(store Store, secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// TTL is how long a session stays valid after creation.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create stores data under a fresh session id and returns its token.
func (m *Manager) Create(ctx context.Context, data Data) (string, error) {
	id := uuid.New().String()
	if err := m.store.Save(ctx, id, data, m.ttl); err != nil {
		return "", err
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Id:        id,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(m.ttl).Unix(),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		_ = m.store.Delete(ctx, id)
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Resolve returns the identity bound to token.
func (m *Manager) Resolve(ctx context.Context, token string) (*Data, error) {
	id, err := m.sessionID(token)
	if err != nil {
		return nil, err
	}
	return m.store.Load(ctx, id)
}

// Destroy removes the session named by token. Unknown or malformed tokens
// are not an error: the caller ends up anonymous either way.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	id, err := m.sessionID(token)
	if err != nil {
		return nil
	}
	return m.store.Delete(ctx, id)
}

func (m *Manager) sessionID(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrNotFound
	}
	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.Join(ErrNotFound, err)
	}
	if claims.Id == "" {
		return "", ErrNotFound
	}
	return claims.Id, nil
}
