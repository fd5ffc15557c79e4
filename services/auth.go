package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/board"
	"github.com/CrowderSoup/kanban-studio/database"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrInvalidToken       = errors.New("invalid token")
	ErrSessionRevoked     = errors.New("session revoked or expired")
)

// DefaultBoardTitle names the board seeded for new users.
const DefaultBoardTitle = "My Board"

type AuthConfig struct {
	JWTSecret        string
	TokenTTL         time.Duration
	SeedDefaultBoard bool
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Claims are the JWT claims of an access token. ID (jti) is the session id.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID    int64
	Username  string
	SessionID string
	ExpiresAt time.Time
}

// Issued is a freshly issued access token.
type Issued struct {
	Token string
	Identity
}

type AuthService struct {
	repo      database.BoardRepository
	sessions  SessionStore
	jwtSecret []byte
	ttl       time.Duration
	seedBoard bool
	cost      int
	logger    *zap.Logger
}

func NewAuthService(repo database.BoardRepository, sessions SessionStore, cfg AuthConfig, logger *zap.Logger) *AuthService {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &AuthService{
		repo:      repo,
		sessions:  sessions,
		jwtSecret: []byte(cfg.JWTSecret),
		ttl:       ttl,
		seedBoard: cfg.SeedDefaultBoard,
		cost:      cost,
		logger:    logger,
	}
}

// Register creates the user, seeds their board and logs them in.
func (s *AuthService) Register(ctx context.Context, creds api.Credentials) (*Issued, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	user, err := s.createUser(ctx, creds)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return s.issue(ctx, user)
}

func (s *AuthService) createUser(ctx context.Context, creds api.Credentials) (*database.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, creds.Username, string(hash))
	if errors.Is(err, database.ErrConflict) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.seedBoard {
		if _, err := s.repo.CreateBoard(ctx, user.ID, DefaultBoardTitle, board.DefaultColumnTitles...); err != nil {
			return nil, fmt.Errorf("failed to seed board: %w", err)
		}
	}
	return user, nil
}

// Login checks the password and issues a new session.
func (s *AuthService) Login(ctx context.Context, creds api.Credentials) (*Issued, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	user, err := s.repo.UserByUsername(ctx, creds.Username)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, user)
}

// EnsureUser creates the user when it does not exist yet. It is used for the
// configured development credentials.
func (s *AuthService) EnsureUser(ctx context.Context, username, password string) (*database.User, error) {
	user, err := s.repo.UserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	user, err = s.createUser(ctx, api.Credentials{Username: username, Password: password})
	if errors.Is(err, ErrUsernameTaken) {
		return s.repo.UserByUsername(ctx, username)
	}
	return user, err
}

func (s *AuthService) issue(ctx context.Context, user *database.User) (*Issued, error) {
	now := time.Now()
	id := Identity{
		UserID:    user.ID,
		Username:  user.Username,
		SessionID: uuid.NewString(),
		ExpiresAt: now.Add(s.ttl),
	}

	token, err := s.CreateJWT(id, now)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, Session{ID: id.SessionID, UserID: id.UserID, ExpiresAt: id.ExpiresAt}); err != nil {
		return nil, err
	}
	return &Issued{Token: token, Identity: id}, nil
}

// CreateJWT signs a token for id.
func (s *AuthService) CreateJWT(id Identity, issuedAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.SessionID,
			Subject:   id.Username,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(id.ExpiresAt),
		},
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Verify parses the token and checks that its session is still active.
func (s *AuthService) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidToken)
	}

	active, err := s.sessions.Active(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrSessionRevoked
	}

	id := &Identity{UserID: claims.UserID, Username: claims.Username, SessionID: claims.ID}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Logout revokes the caller's session.
func (s *AuthService) Logout(ctx context.Context, id Identity) error {
	if err := s.sessions.Revoke(ctx, id.SessionID); err != nil {
		return err
	}
	s.logger.Info("user logged out", zap.Int64("user_id", id.UserID))
	return nil
}
