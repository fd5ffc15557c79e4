package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/board"
	"github.com/CrowderSoup/kanban-studio/database"
)

func newTestAuth(t *testing.T) (*AuthService, database.BoardRepository) {
	t.Helper()
	db := setupTestDB(t)
	repo := database.NewBoardRepository(db)
	auth := NewAuthService(repo, NewDBSessionStore(db), AuthConfig{
		JWTSecret:        "test-secret",
		TokenTTL:         time.Hour,
		SeedDefaultBoard: true,
		BcryptCost:       bcrypt.MinCost,
	}, zaptest.NewLogger(t))
	return auth, repo
}

var alice = api.Credentials{Username: "alice", Password: "wonderland"}

func TestRegister_SeedsBoardAndIssuesSession(t *testing.T) {
	auth, repo := newTestAuth(t)
	ctx := context.Background()

	issued, err := auth.Register(ctx, alice)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, "alice", issued.Username)

	id, err := auth.Verify(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.UserID, id.UserID)
	assert.Equal(t, issued.SessionID, id.SessionID)

	boards, err := repo.BoardsForUser(ctx, issued.UserID)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, DefaultBoardTitle, boards[0].Title)
	titles := make([]string, 0, len(boards[0].Columns))
	for _, c := range boards[0].Columns {
		titles = append(titles, c.Title)
	}
	assert.Equal(t, board.DefaultColumnTitles, titles)

	_, err = auth.Register(ctx, alice)
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestLogin(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()
	_, err := auth.Register(ctx, alice)
	require.NoError(t, err)

	issued, err := auth.Login(ctx, alice)
	require.NoError(t, err)
	_, err = auth.Verify(ctx, issued.Token)
	assert.NoError(t, err)

	_, err = auth.Login(ctx, api.Credentials{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.Login(ctx, api.Credentials{Username: "nobody", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.Login(ctx, api.Credentials{Username: "alice"})
	assert.ErrorIs(t, err, api.ErrInvalid)
}

func TestLogout_RevokesOnlyThatSession(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()
	first, err := auth.Register(ctx, alice)
	require.NoError(t, err)
	second, err := auth.Login(ctx, alice)
	require.NoError(t, err)

	require.NoError(t, auth.Logout(ctx, first.Identity))

	_, err = auth.Verify(ctx, first.Token)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	_, err = auth.Verify(ctx, second.Token)
	assert.NoError(t, err)
}

func TestVerify_RejectsBadTokens(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()
	issued, err := auth.Register(ctx, alice)
	require.NoError(t, err)

	other := NewAuthService(nil, &MockSessionStore{}, AuthConfig{JWTSecret: "other-secret"}, zaptest.NewLogger(t))
	forged, err := other.CreateJWT(issued.Identity, time.Now())
	require.NoError(t, err)

	expiredID := issued.Identity
	expiredID.ExpiresAt = time.Now().Add(-time.Minute)
	expired, err := auth.CreateJWT(expiredID, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	noSession := issued.Identity
	noSession.SessionID = ""
	anonymous, err := auth.CreateJWT(noSession, time.Now())
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": forged,
		"expired":      expired,
		"missing jti":  anonymous,
		"truncated":    issued.Token[:len(issued.Token)-4],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := auth.Verify(ctx, token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestEnsureUser_Idempotent(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	u1, err := auth.EnsureUser(ctx, "user", "password")
	require.NoError(t, err)
	u2, err := auth.EnsureUser(ctx, "user", "ignored")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)

	_, err = auth.Login(ctx, api.Credentials{Username: "user", Password: "password"})
	assert.NoError(t, err)
}
