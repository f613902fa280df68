package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Auth event names written to MetricsWriter.
const (
	EventLogin         = "login"
	EventRegister      = "register"
	EventGoogleLogin   = "google_login"
	EventResetRequest  = "password_reset_requested"
	EventPasswordReset = "password_reset"
)

// Session is a freshly authenticated user with both tokens.
type Session struct {
	User         *User
	AccessToken  string
	RefreshToken string
}

// LoginInput is the body of a password login. Username holds the e-mail.
type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IP       string `json:"-"`
}

// RegisterInput is the body of a self-registration.
type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// GoogleInput carries either an ID token (credential) or an authorization code.
type GoogleInput struct {
	Credential string `json:"credential"`
	Code       string `json:"code"`
}

// ResetInput is the body of a password reset.
type ResetInput struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// CreateUserInput is an admin-provisioned account.
type CreateUserInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// UpdateUserInput changes a managed user. Nil fields are left untouched.
type UpdateUserInput struct {
	Name *string `json:"name"`
	Role *Role   `json:"role"`
}

// ServiceDeps holds the collaborators of Service. Limiter, Metrics, Google
// and Exchanger may be nil.
type ServiceDeps struct {
	Users     UserRepository
	Tokens    *TokenIssuer
	Google    IdentityVerifier
	Exchanger CodeExchanger
	Mailer    EmailSender
	Limiter   *RateLimiter
	Metrics   MetricsWriter
	Logger    *slog.Logger
}

// Service orchestrates login, registration, Google sign-in, password reset
// and admin-managed accounts.
type Service struct {
	users     UserRepository
	tokens    *TokenIssuer
	google    IdentityVerifier
	exchanger CodeExchanger
	mailer    EmailSender
	limiter   *RateLimiter
	metrics   MetricsWriter
	logger    *slog.Logger
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates the auth service.
func NewService(deps ServiceDeps) *Service {
	s := &Service{
		users:     deps.Users,
		tokens:    deps.Tokens,
		google:    deps.Google,
		exchanger: deps.Exchanger,
		mailer:    deps.Mailer,
		limiter:   deps.Limiter,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Login authenticates with e-mail and password. Every mismatch (unknown
// e-mail, wrong password, Google-only account) returns ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	var v validator
	v.email("username", "Username", in.Username)
	v.password("password", in.Password)
	if err := v.err(); err != nil {
		return nil, err
	}
	email := NormalizeEmail(in.Username)

	if s.limiter != nil {
		if err := s.limiter.CheckLogin(ctx, email, in.IP); err != nil {
			s.metrics.WriteAuthEvent(EventLogin, "rate_limited")
			return nil, err
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		s.burnHash(in.Password)
		return nil, s.loginFailed(ctx, email, in.IP)
	case err != nil:
		return nil, fmt.Errorf("looking up user: %w", err)
	case !user.HasPassword():
		s.burnHash(in.Password)
		return nil, s.loginFailed(ctx, email, in.IP)
	}

	ok, err := VerifyPassword(in.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, s.loginFailed(ctx, email, in.IP)
	}
	if !ok {
		return nil, s.loginFailed(ctx, email, in.IP)
	}

	if NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user, in.Password)
	}
	if s.limiter != nil {
		s.limiter.ResetLogin(ctx, email)
	}
	s.metrics.WriteAuthEvent(EventLogin, OutcomeOK)

	return s.IssueSession(user)
}

// Register creates a viewer account with no managing admin and logs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	var v validator
	v.email("username", "Username", in.Username)
	v.password("password", in.Password)
	v.name("name", in.Name, true)
	if err := v.err(); err != nil {
		return nil, err
	}

	email := NormalizeEmail(in.Username)
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         RoleViewer,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.metrics.WriteAuthEvent(EventRegister, OutcomeOK)

	return s.IssueSession(user)
}

// GoogleLogin verifies a Google identity, creating the account on first
// sight. A new Google account is its own admin.
func (s *Service) GoogleLogin(ctx context.Context, in GoogleInput) (*Session, error) {
	if in.Credential == "" && in.Code == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "credential", Message: "Credential is required"}}}
	}
	if s.google == nil {
		return nil, ErrGoogleSignInNotAvailable
	}

	idToken := in.Credential
	if idToken == "" {
		if s.exchanger == nil {
			return nil, ErrGoogleSignInNotAvailable
		}
		var err error
		if idToken, err = s.exchanger.Exchange(ctx, in.Code); err != nil {
			s.metrics.WriteAuthEvent(EventGoogleLogin, OutcomeFail)
			return nil, err
		}
	}

	gid, err := s.google.Verify(ctx, idToken)
	if err != nil {
		s.metrics.WriteAuthEvent(EventGoogleLogin, OutcomeFail)
		return nil, err
	}

	user, err := s.findOrCreateGoogleUser(ctx, gid)
	if err != nil {
		return nil, err
	}
	s.metrics.WriteAuthEvent(EventGoogleLogin, OutcomeOK)

	return s.IssueSession(user)
}

func (s *Service) findOrCreateGoogleUser(ctx context.Context, gid *GoogleIdentity) (*User, error) {
	user, err := s.users.GetByEmail(ctx, gid.Email)
	if err == nil {
		if !user.IsGoogleUser || user.GoogleID == "" {
			user.IsGoogleUser = true
			user.GoogleID = gid.Subject
			if err := s.users.Update(ctx, user); err != nil {
				return nil, fmt.Errorf("linking google account: %w", err)
			}
		}
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	id := uuid.NewString()
	name := gid.Name
	if name == "" {
		name, _, _ = strings.Cut(gid.Email, "@")
	}
	user = &User{
		ID:           id,
		Email:        gid.Email,
		Name:         name,
		IsGoogleUser: true,
		GoogleID:     gid.Subject,
		Role:         RoleViewer,
		AdminID:      &id,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailExists) {
			// Concurrent first sign-in won the insert.
			return s.users.GetByEmail(ctx, gid.Email)
		}
		return nil, err
	}
	return user, nil
}

// RequestPasswordReset issues and mails a reset code when the account
// exists. Only malformed input or a store failure returns an error; unknown
// e-mails, throttling and mail failures look like success.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	var v validator
	v.email("email", "Email", email)
	if err := v.err(); err != nil {
		return err
	}
	email = NormalizeEmail(email)

	if s.limiter != nil {
		if err := s.limiter.AllowResetRequest(ctx, email); err != nil {
			s.logger.Warn("reset request throttled")
			return nil
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	code, err := generateResetCode()
	if err != nil {
		return err
	}
	expiresAt := s.now().UTC().Add(ResetCodeTTL)
	if err := s.users.SetResetCode(ctx, user.ID, hashResetCode(code), expiresAt); err != nil {
		return err
	}
	if err := s.mailer.SendResetCode(ctx, user.Email, code, expiresAt); err != nil {
		s.logger.Error("sending reset code failed", "user_id", user.ID, "error", err)
		return nil
	}
	s.metrics.WriteAuthEvent(EventResetRequest, OutcomeOK)
	return nil
}

// ResetPassword consumes a reset code and sets the new password. Wrong,
// expired and already-used codes all return ErrInvalidResetCode, and after
// MaxResetAttempts wrong guesses the code is gone. The code is checked before
// the new password is hashed.
func (s *Service) ResetPassword(ctx context.Context, in ResetInput) error {
	var v validator
	v.email("email", "Email", in.Email)
	v.resetCode("code", in.Code)
	v.password("newPassword", in.NewPassword)
	if err := v.err(); err != nil {
		return err
	}
	email := NormalizeEmail(in.Email)
	codeHash := hashResetCode(in.Code)

	if err := s.users.CheckResetCode(ctx, email, codeHash, s.now().UTC(), MaxResetAttempts); err != nil {
		if errors.Is(err, ErrInvalidResetCode) {
			s.metrics.WriteAuthEvent(EventPasswordReset, OutcomeFail)
		}
		return err
	}

	hash, err := HashPassword(in.NewPassword)
	if err != nil {
		return err
	}
	if err := s.users.CompleteReset(ctx, email, codeHash, hash, s.now().UTC()); err != nil {
		if errors.Is(err, ErrInvalidResetCode) {
			s.metrics.WriteAuthEvent(EventPasswordReset, OutcomeFail)
		}
		return err
	}
	if s.limiter != nil {
		s.limiter.ResetLogin(ctx, email)
	}
	s.metrics.WriteAuthEvent(EventPasswordReset, OutcomeOK)
	return nil
}

// CreateManagedUser provisions an account managed by admin.
func (s *Service) CreateManagedUser(ctx context.Context, admin Identity, in CreateUserInput) (*User, error) {
	if in.Role == "" {
		in.Role = RoleViewer
	}
	var v validator
	v.email("email", "Email", in.Email)
	v.name("name", in.Name, true)
	v.password("password", in.Password)
	v.role("role", in.Role)
	if err := v.err(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	adminID := admin.ID
	user := &User{
		Email:        NormalizeEmail(in.Email),
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         in.Role,
		AdminID:      &adminID,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ListManagedUsers returns the accounts managed by admin.
func (s *Service) ListManagedUsers(ctx context.Context, admin Identity) ([]User, error) {
	return s.users.ListByAdmin(ctx, admin.ID)
}

// UpdateManagedUser changes the name or role of an account managed by admin.
func (s *Service) UpdateManagedUser(ctx context.Context, admin Identity, id string, in UpdateUserInput) (*User, error) {
	var v validator
	if in.Name != nil {
		v.name("name", *in.Name, true)
	}
	if in.Role != nil {
		v.role("role", *in.Role)
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.ID == admin.ID || user.AdminID == nil || *user.AdminID != admin.ID {
		return nil, ErrNotManaged
	}

	if in.Name != nil {
		user.Name = strings.TrimSpace(*in.Name)
	}
	if in.Role != nil {
		user.Role = *in.Role
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser returns the live account record.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// IssueSession mints both tokens for user.
func (s *Service) IssueSession(user *User) (*Session, error) {
	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccessToken re-mints only the access token, after a change to
// credits or subscription that the current token would misreport.
func (s *Service) IssueAccessToken(user *User) (string, error) {
	return s.tokens.IssueAccessToken(user)
}

func (s *Service) loginFailed(ctx context.Context, email, ip string) error {
	if s.limiter != nil {
		s.limiter.RecordLoginFailure(ctx, email, ip)
	}
	s.metrics.WriteAuthEvent(EventLogin, OutcomeFail)
	return ErrInvalidCredentials
}

func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	hash, err := HashPassword(password)
	if err != nil {
		s.logger.Warn("rehashing password failed", "user_id", user.ID, "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.logger.Warn("storing upgraded password hash failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
}

// burnHash spends the same time as a real verification so that response
// timing does not reveal whether the e-mail exists.
func (s *Service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = HashPassword(uuid.NewString()) //nolint:errcheck // zero hash still burns time below
	})
	_, _ = VerifyPassword(password, s.dummyHash) //nolint:errcheck // result discarded
}
