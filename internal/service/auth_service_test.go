package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"authgate/api/internal/models"
	"authgate/api/internal/repository"
	"authgate/api/internal/security"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]models.User)}
}

func (s *fakeUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return repository.ErrEmailTaken
		}
		if existing.Username == user.Username {
			return repository.ErrUsernameTaken
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (s *fakeUserStore) GetByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (s *fakeUserStore) GetByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return models.User{}, repository.ErrUserNotFound
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.RefreshSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]models.RefreshSession)}
}

func (s *fakeSessionStore) Create(_ context.Context, session models.RefreshSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *fakeSessionStore) GetByID(_ context.Context, id string) (models.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok {
		return session, nil
	}
	return models.RefreshSession{}, repository.ErrSessionNotFound
}

func (s *fakeSessionStore) GetActiveByID(_ context.Context, id string) (models.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok && session.Active(time.Now()) {
		return session, nil
	}
	return models.RefreshSession{}, repository.ErrSessionNotFound
}

func (s *fakeSessionStore) GetActiveByHash(_ context.Context, hash []byte) (models.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if bytes.Equal(session.RefreshTokenHash, hash) && session.Active(time.Now()) {
			return session, nil
		}
	}
	return models.RefreshSession{}, repository.ErrSessionNotFound
}

func (s *fakeSessionStore) Revoke(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.RevokedAt != nil {
		return false, nil
	}
	now := time.Now()
	session.RevokedAt = &now
	s.sessions[id] = session
	return true, nil
}

func (s *fakeSessionStore) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, session := range s.sessions {
		if session.Active(time.Now()) {
			count++
		}
	}
	return count
}

var testHashParams = security.Argon2Params{
	Time:    1,
	Memory:  64,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

func newTestService(t *testing.T) (*AuthService, *fakeUserStore, *fakeSessionStore) {
	t.Helper()

	users := newFakeUserStore()
	sessions := newFakeSessionStore()
	hasher := security.NewPasswordHasherWithParams(testHashParams)
	issuer := security.NewTokenIssuer("test-secret", 15*time.Minute, 720*time.Hour)
	svc := NewAuthService(users, sessions, hasher, issuer, zerolog.Nop())
	return svc, users, sessions
}

func registerAlice(t *testing.T, svc *AuthService) models.User {
	t.Helper()

	user, err := svc.Register(context.Background(), RegisterInput{
		Email:    "a@b.com",
		Username: "alice",
		Password: "password1",
	})
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	return user
}

func TestRegister(t *testing.T) {
	svc, _, _ := newTestService(t)

	user := registerAlice(t, svc)

	if user.ID == "" {
		t.Fatal("user id not generated")
	}
	if user.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}
	if user.PasswordHash == "password1" || user.PasswordHash == "" {
		t.Fatalf("password stored incorrectly: %q", user.PasswordHash)
	}
}

func TestRegisterUsernameWhitespace(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []string{"test username", " alice", "alice ", "al\tice"}
	for _, username := range tests {
		_, err := svc.Register(context.Background(), RegisterInput{
			Email:    "a@b.com",
			Username: username,
			Password: "password1",
		})
		if !errors.Is(err, ErrUsernameWhitespace) {
			t.Fatalf("Register(%q) = %v, want ErrUsernameWhitespace", username, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerAlice(t, svc)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "a@b.com",
		Username: "bob",
		Password: "password2",
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("err = %v, want ErrEmailExists", err)
	}

	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.Reason != "email_already_exists" {
		t.Fatalf("reason = %v, want email_already_exists", err)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerAlice(t, svc)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "other@b.com",
		Username: "alice",
		Password: "password2",
	})
	if !errors.Is(err, ErrUsernameExists) {
		t.Fatalf("err = %v, want ErrUsernameExists", err)
	}
}

// constraintRacingUserStore simulates losing the check-then-act race: the
// pre-checks see no user but the insert still hits a uniqueness constraint.
type constraintRacingUserStore struct {
	*fakeUserStore
	createErr error
}

func (s *constraintRacingUserStore) Create(context.Context, models.User) error {
	return s.createErr
}

func TestRegisterConstraintRace(t *testing.T) {
	tests := []struct {
		name     string
		storeErr error
		wantErr  *Error
	}{
		{"email constraint", repository.ErrEmailTaken, ErrEmailExists},
		{"username constraint", repository.ErrUsernameTaken, ErrUsernameExists},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			users := &constraintRacingUserStore{fakeUserStore: newFakeUserStore(), createErr: tc.storeErr}
			hasher := security.NewPasswordHasherWithParams(testHashParams)
			issuer := security.NewTokenIssuer("test-secret", 15*time.Minute, 720*time.Hour)
			svc := NewAuthService(users, newFakeSessionStore(), hasher, issuer, zerolog.Nop())

			_, err := svc.Register(context.Background(), RegisterInput{
				Email:    "a@b.com",
				Username: "alice",
				Password: "password1",
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	svc, _, sessions := newTestService(t)
	user := registerAlice(t, svc)

	for _, login := range []string{"alice", "a@b.com"} {
		pair, err := svc.Login(context.Background(), login, "password1")
		if err != nil {
			t.Fatalf("Login(%q): %v", login, err)
		}
		if pair.AccessToken == "" || pair.RefreshToken == "" {
			t.Fatalf("Login(%q) returned empty tokens", login)
		}
	}

	// One session per login, owned by the user, tracking only the hash.
	if got := sessions.activeCount(); got != 2 {
		t.Fatalf("active sessions = %d, want 2", got)
	}
	for _, session := range sessions.sessions {
		if session.UserID != user.ID {
			t.Fatalf("session owner = %q, want %q", session.UserID, user.ID)
		}
		if len(session.RefreshTokenHash) == 0 {
			t.Fatal("session stored without a token hash")
		}
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerAlice(t, svc)

	tests := []struct {
		name     string
		login    string
		password string
		wantErr  *Error
	}{
		{"wrong password", "alice", "test_my_password", ErrInvalidPassword},
		{"unknown email", "x@y.com", "password1", ErrInvalidUsername},
		{"unknown username", "mallory", "password1", ErrInvalidUsername},
		{"malformed email", "test_email_gmail.com", "password1", ErrInvalidUsername},
		{"username with space", "test username", "password1", ErrInvalidUsername},
		{"username too long", "this_username_is_far_too_long_to_match", "password1", ErrInvalidUsername},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tc.login, tc.password)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			// Enumeration resistance: identical external message for both
			// authentication-class failures.
			if err.Error() != "Invalid credentials" {
				t.Fatalf("message = %q, want %q", err.Error(), "Invalid credentials")
			}
		})
	}
}

func TestRefreshRotation(t *testing.T) {
	svc, _, sessions := newTestService(t)
	user := registerAlice(t, svc)

	pair, err := svc.Login(context.Background(), "alice", "password1")
	if err != nil {
		t.Fatal(err)
	}

	original, err := sessions.GetActiveByHash(context.Background(), security.HashRefreshToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("session for issued token not found: %v", err)
	}

	rotated, err := svc.Refresh(context.Background(), pair.RefreshToken, user.ID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh returned the same token instead of rotating")
	}
	if rotated.AccessToken == "" {
		t.Fatal("refresh returned no access token")
	}

	// The old session is revoked, monotonically.
	old, err := sessions.GetByID(context.Background(), original.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.RevokedAt == nil {
		t.Fatal("rotated session not revoked")
	}

	// The rotation created one replacement session for the same user.
	replacement, err := sessions.GetActiveByHash(context.Background(), security.HashRefreshToken(rotated.RefreshToken))
	if err != nil {
		t.Fatalf("replacement session not found: %v", err)
	}
	if replacement.UserID != user.ID {
		t.Fatalf("replacement owner = %q, want %q", replacement.UserID, user.ID)
	}
	if replacement.ID == original.ID {
		t.Fatal("rotation reused the old session id")
	}
}

func TestRefreshReplayRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := registerAlice(t, svc)

	pair, err := svc.Login(context.Background(), "alice", "password1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Refresh(context.Background(), pair.RefreshToken, user.ID); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	_, err = svc.Refresh(context.Background(), pair.RefreshToken, user.ID)
	if !errors.Is(err, ErrRefreshSessionNotFound) {
		t.Fatalf("replayed token: err = %v, want ErrRefreshSessionNotFound", err)
	}
}

func TestRefreshSubjectMismatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerAlice(t, svc)

	pair, err := svc.Login(context.Background(), "alice", "password1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Refresh(context.Background(), pair.RefreshToken, "forged-subject")
	if !errors.Is(err, ErrRefreshSessionMismatch) {
		t.Fatalf("err = %v, want ErrRefreshSessionMismatch", err)
	}
}

func TestRefreshEmptyToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Refresh(context.Background(), "", "user-1")
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("err = %v, want ErrInvalidRefreshToken", err)
	}
}

// lostRaceSessionStore returns a session from the active lookup but reports
// zero rows affected on revoke, as a concurrent rotation would.
type lostRaceSessionStore struct {
	*fakeSessionStore
}

func (s *lostRaceSessionStore) Revoke(context.Context, string) (bool, error) {
	return false, nil
}

func TestRefreshLostRevokeRace(t *testing.T) {
	users := newFakeUserStore()
	inner := newFakeSessionStore()
	sessions := &lostRaceSessionStore{fakeSessionStore: inner}
	hasher := security.NewPasswordHasherWithParams(testHashParams)
	issuer := security.NewTokenIssuer("test-secret", 15*time.Minute, 720*time.Hour)
	svc := NewAuthService(users, sessions, hasher, issuer, zerolog.Nop())

	user := registerAlice(t, svc)
	pair, err := svc.Login(context.Background(), "alice", "password1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Refresh(context.Background(), pair.RefreshToken, user.ID)
	if !errors.Is(err, ErrRefreshSessionNotFound) {
		t.Fatalf("err = %v, want ErrRefreshSessionNotFound on lost race", err)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	svc, _, sessions := newTestService(t)
	registerAlice(t, svc)

	pair, err := svc.Login(context.Background(), "alice", "password1")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if got := sessions.activeCount(); got != 0 {
		t.Fatalf("active sessions after logout = %d, want 0", got)
	}

	// Second call with the now-invalidated token still succeeds.
	if err := svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
}

func TestLogoutWithoutToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	if err := svc.Logout(context.Background(), ""); err != nil {
		t.Fatalf("logout without token: %v", err)
	}
	if err := svc.Logout(context.Background(), "never-issued-token"); err != nil {
		t.Fatalf("logout with unknown token: %v", err)
	}
}
