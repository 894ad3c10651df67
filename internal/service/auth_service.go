package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"authgate/api/internal/ids"
	"authgate/api/internal/models"
	"authgate/api/internal/repository"
	"authgate/api/internal/security"
)

// UserStore is the persistence contract for identity records. Create must
// surface uniqueness violations per constraint (repository.ErrEmailTaken,
// repository.ErrUsernameTaken); lookups are exact-match and return
// repository.ErrUserNotFound when nothing matches.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByUsername(ctx context.Context, username string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
}

// SessionStore is the persistence contract for refresh sessions. The
// GetActiveBy* lookups only return sessions that are unrevoked and not yet
// expired. Revoke must be an atomic conditional update reporting whether a
// row actually changed; that report is the only concurrency-control
// primitive the orchestrator relies on.
type SessionStore interface {
	Create(ctx context.Context, session models.RefreshSession) error
	GetByID(ctx context.Context, id string) (models.RefreshSession, error)
	GetActiveByID(ctx context.Context, id string) (models.RefreshSession, error)
	GetActiveByHash(ctx context.Context, hash []byte) (models.RefreshSession, error)
	Revoke(ctx context.Context, id string) (bool, error)
}

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
)

// AuthService coordinates the stores, the password hasher and the token
// issuer to implement register, login, refresh rotation and logout.
type AuthService struct {
	users    UserStore
	sessions SessionStore
	hasher   *security.PasswordHasher
	issuer   *security.TokenIssuer
	log      zerolog.Logger
}

func NewAuthService(
	users UserStore,
	sessions SessionStore,
	hasher *security.PasswordHasher,
	issuer *security.TokenIssuer,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		issuer:   issuer,
		log:      log,
	}
}

type RegisterInput struct {
	Email    string
	Username string
	Password string
}

// TokenPair is the result of a successful login or refresh. The refresh
// token exists only for the lifetime of the response; server-side it is
// tracked solely through its hash.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Register creates a user. The lookups ahead of Create are a fast path for
// friendly errors; the store's uniqueness constraints remain the
// authoritative guard against concurrent registration.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.User, error) {
	if strings.ContainsFunc(input.Username, unicode.IsSpace) {
		return models.User{}, ErrUsernameWhitespace
	}

	if _, err := s.users.GetByEmail(ctx, input.Email); err == nil {
		return models.User{}, ErrEmailExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, err
	}

	if _, err := s.users.GetByUsername(ctx, input.Username); err == nil {
		return models.User{}, ErrUsernameExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, err
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:           ids.New(),
		Email:        input.Email,
		Username:     input.Username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			return models.User{}, ErrEmailExists
		case errors.Is(err, repository.ErrUsernameTaken):
			return models.User{}, ErrUsernameExists
		}
		return models.User{}, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return user, nil
}

// Login authenticates by email or username and opens a fresh refresh
// session. Unknown identifiers, malformed identifiers and wrong passwords
// are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, login string, password string) (TokenPair, error) {
	var (
		user models.User
		err  error
	)
	switch {
	case emailPattern.MatchString(login):
		user, err = s.users.GetByEmail(ctx, login)
	case usernamePattern.MatchString(login):
		user, err = s.users.GetByUsername(ctx, login)
	default:
		return TokenPair{}, ErrInvalidUsername
	}
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return TokenPair{}, ErrInvalidUsername
		}
		return TokenPair{}, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return TokenPair{}, ErrInvalidPassword
	}

	return s.openSession(ctx, user.ID)
}

// Refresh exchanges a refresh token for a new pair, rotating the underlying
// session. The boundary layer has already verified the token's signature and
// expiry; subject is the user id it carried. A token is single-use: its
// session is revoked before a replacement is persisted, so presenting the
// same token again fails the active-by-hash lookup.
func (s *AuthService) Refresh(ctx context.Context, rawToken string, subject string) (TokenPair, error) {
	if rawToken == "" {
		return TokenPair{}, ErrInvalidRefreshToken
	}

	hash := security.HashRefreshToken(rawToken)
	session, err := s.sessions.GetActiveByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return TokenPair{}, ErrRefreshSessionNotFound
		}
		return TokenPair{}, err
	}

	if session.UserID != subject {
		return TokenPair{}, ErrRefreshSessionMismatch
	}

	revoked, err := s.sessions.Revoke(ctx, session.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if !revoked {
		// A concurrent refresh spent this token between lookup and revoke.
		s.log.Warn().Str("session_id", session.ID).Msg("refresh token already rotated")
		return TokenPair{}, ErrRefreshSessionNotFound
	}

	return s.openSession(ctx, session.UserID)
}

// Logout revokes the session behind rawToken if one is still active. It is
// idempotent and never reports whether a session existed; only unexpected
// store failures propagate.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}

	hash := security.HashRefreshToken(rawToken)
	session, err := s.sessions.GetActiveByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if _, err := s.sessions.Revoke(ctx, session.ID); err != nil {
		return err
	}
	return nil
}

// openSession mints a token pair and persists the session row tracking the
// refresh token. The row's expiry is the expiry embedded in the token
// itself; both come from the same clock read inside IssueRefresh.
func (s *AuthService) openSession(ctx context.Context, userID string) (TokenPair, error) {
	sessionID := ids.New()

	accessToken, err := s.issuer.IssueAccess(userID)
	if err != nil {
		return TokenPair{}, err
	}

	refreshToken, expiresAt, err := s.issuer.IssueRefresh(userID, sessionID)
	if err != nil {
		return TokenPair{}, err
	}

	session := models.RefreshSession{
		ID:               sessionID,
		UserID:           userID,
		RefreshTokenHash: security.HashRefreshToken(refreshToken),
		CreatedAt:        time.Now().UTC(),
		ExpiresAt:        expiresAt,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
