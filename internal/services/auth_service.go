package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resqtail/internal/metrics"
	"resqtail/internal/models"
	"resqtail/internal/repositories"
	"resqtail/internal/session"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// RegisterInput is the data submitted on the registration form.
type RegisterInput struct {
	Name     string `json:"name" form:"name" validate:"required,max=100"`
	Email    string `json:"email" form:"email" validate:"required,email,max=255"`
	Password string `json:"password" form:"password" validate:"required,min=6,max=72"`
	Role     string `json:"role" form:"role" validate:"omitempty,oneof=Regular Volunteer"`
}

// Identity is the authenticated caller of an operation.
type Identity = session.Data

// AuthService handles registration, credential checks and sessions.
type AuthService struct {
	userRepo repositories.UserRepository
	sessions *session.Manager
	metrics  *metrics.Metrics
	log      *logrus.Entry
	cost     int
}

// NewAuthService creates a new AuthService.
func NewAuthService(userRepo repositories.UserRepository, sessions *session.Manager, m *metrics.Metrics, log *logrus.Entry) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		sessions: sessions,
		metrics:  m,
		log:      log.WithField("component", "auth"),
		cost:     bcrypt.DefaultCost,
	}
}

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *AuthService) WithHashCost(cost int) *AuthService {
	s.cost = cost
	return s
}

// Register creates an account after hashing its password.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	role := models.Role(in.Role)
	if role == "" {
		role = models.RoleRegular
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user registered")
	return user, nil
}

// Authenticate checks email and password. Unknown email and wrong password
// both yield ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and opens a server-side session, returning its token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *Identity, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		s.metrics.Login(false)
		return "", nil, err
	}

	identity := Identity{UserID: user.ID, Name: user.Name, Role: user.Role}
	token, err := s.sessions.Create(ctx, identity)
	if err != nil {
		s.metrics.Login(false)
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.Login(true)
	s.log.WithField("user_id", user.ID).Info("user logged in")
	return token, &identity, nil
}

// Logout destroys the session named by token. It is safe to call without one.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Resolve maps a session token back to the caller's identity.
func (s *AuthService) Resolve(ctx context.Context, token string) (*Identity, error) {
	identity, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	return identity, nil
}

// SessionTTL is the lifetime of newly created sessions.
func (s *AuthService) SessionTTL() time.Duration {
	return s.sessions.TTL()
}
