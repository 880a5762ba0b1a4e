package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rosterhub/authsession"
	"github.com/rosterhub/authsession/clientstate"
	"github.com/rosterhub/authsession/instrumentation"
	"github.com/rosterhub/authsession/security"
	"github.com/rosterhub/authsession/storage"
)

// DefaultValidateInterval is how often a held session is re-validated
const DefaultValidateInterval = 15 * time.Minute

const sessionExpiredMessage = "Your session has expired. Please sign in again."

var (
	// ErrNoSession is returned by operations that need a signed-in session
	ErrNoSession = errors.New("no session")

	// ErrAlreadyAuthenticated rejects a sign-in while a session is held
	ErrAlreadyAuthenticated = errors.New("already signed in")

	// ErrSessionChanged reports a response discarded because the session was
	// torn down or replaced while the request was in flight
	ErrSessionChanged = errors.New("session changed while the request was in flight")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("session manager closed")
)

// Session is the signed-in state held by the client
type Session struct {
	Token              string
	User               UserProfile
	CSRFToken          string
	OnboardingComplete bool
}

// Limiters are the client-side attempt budgets. A nil limiter does not limit.
type Limiters struct {
	SignIn *security.RateLimiter
	SignUp *security.RateLimiter

	// Reset is shared by ForgotPassword and ResetPassword
	Reset *security.RateLimiter
}

// NewLimiters creates the preset limiters on store
func NewLimiters(store storage.Store, logger *slog.Logger) Limiters {
	return Limiters{
		SignIn: security.SigninLimit.NewLimiter(store, logger),
		SignUp: security.SignupLimit.NewLimiter(store, logger),
		Reset:  security.ResetLimit.NewLimiter(store, logger),
	}
}

// Config configures a Manager
type Config struct {
	// API is the remote Auth API. Required.
	API AuthAPI

	// Storage is the durable client storage. Required.
	Storage clientstate.Store

	// SessionStorage is cleared on every teardown. Defaults to an in-memory store.
	SessionStorage clientstate.Store

	Limiters Limiters
	Notifier Notifier

	// ValidateInterval defaults to DefaultValidateInterval
	ValidateInterval time.Duration

	Logger  *slog.Logger
	Auditor *security.Auditor
}

// Manager is the client session state machine. It is safe for concurrent
// use; network calls are made without holding its lock, and their results are
// dropped if the session generation moved on in the meantime.
type Manager struct {
	api            AuthAPI
	storage        clientstate.Store
	sessionStorage clientstate.Store
	csrf           *security.CSRFManager
	limiters       Limiters
	notifier       Notifier
	interval       time.Duration
	logger         *slog.Logger
	auditor        *security.Auditor

	instrumentation *instrumentation.Instrumentation

	mu            sync.Mutex
	state         State
	session       *Session
	generation    uint64
	signingIn     bool
	signingOut    int
	stopValidator chan struct{}
	closed        bool
	outbox        []Notification

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager in the Unauthenticated state. Call Load to
// pick up a persisted session.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("auth API is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("durable storage is required")
	}
	if cfg.SessionStorage == nil {
		cfg.SessionStorage = clientstate.NewMemoryStore()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = discardNotifier{}
	}
	if cfg.ValidateInterval <= 0 {
		cfg.ValidateInterval = DefaultValidateInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		api:            cfg.API,
		storage:        cfg.Storage,
		sessionStorage: cfg.SessionStorage,
		csrf:           security.NewCSRFManager(cfg.Storage),
		limiters:       cfg.Limiters,
		notifier:       cfg.Notifier,
		interval:       cfg.ValidateInterval,
		logger:         cfg.Logger,
		auditor:        cfg.Auditor,
		state:          Unauthenticated,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// SetInstrumentation counts state transitions
func (m *Manager) SetInstrumentation(inst *instrumentation.Instrumentation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instrumentation = inst
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the held session
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Load restores a persisted session. A session found on disk is trusted at
// once (Authenticated) and validated in the background; the periodic
// validator starts afterwards. Unreadable state is discarded and treated as
// no session.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.unlock()
		return ErrClosed
	}
	if m.state != Unauthenticated {
		m.unlock()
		return nil
	}

	session, err := m.readSessionLocked(ctx)
	if errors.Is(err, authsession.ErrCorruptedLocalState) {
		m.logger.Warn("Discarding corrupted session state", "error", err)
		m.auditor.LogLocalStateReset(err.Error())
		resetErr := m.clearLocalLocked(ctx)
		m.unlock()
		return resetErr
	}
	if err != nil || session == nil {
		m.unlock()
		return err
	}

	m.session = session
	m.generation++
	_ = m.transitionLocked(Authenticated)
	m.startValidatorLocked()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.Validate(m.ctx); err != nil && !errors.Is(err, ErrSessionChanged) {
			m.logger.Info("Initial session validation failed", "error", err)
		}
	}()

	m.unlock()
	return nil
}

// Validate checks the held token with the Auth API. A failed check, network
// errors included, is followed by one refresh; a failed refresh tears the
// session down with a "session expired" notification.
func (m *Manager) Validate(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.unlock()
		return ErrClosed
	case m.session == nil:
		m.unlock()
		return ErrNoSession
	case m.state != Authenticated:
		// a check is already running
		m.unlock()
		return nil
	}
	if err := m.transitionLocked(Validating); err != nil {
		m.unlock()
		return err
	}
	gen, token := m.generation, m.session.Token
	m.unlock()

	validateErr := m.api.Validate(ctx, token)

	m.mu.Lock()
	if gen != m.generation {
		m.logger.Debug("Discarding stale validation result")
		m.unlock()
		return ErrSessionChanged
	}
	if validateErr == nil {
		_ = m.transitionLocked(Authenticated)
		m.unlock()
		return nil
	}
	m.logger.Info("Session validation failed, refreshing", "error", validateErr)
	_ = m.transitionLocked(Refreshing)
	m.unlock()

	fresh, refreshErr := m.api.Refresh(ctx, token)

	m.mu.Lock()
	if gen != m.generation {
		m.logger.Debug("Discarding stale refresh result")
		m.unlock()
		return ErrSessionChanged
	}
	if refreshErr != nil {
		m.logger.Warn("Session refresh failed, signing out", "error", refreshErr)
		m.outbox = append(m.outbox, Notification{Kind: NotifySessionExpired, Message: sessionExpiredMessage})
		m.auditor.LogSessionExpired(m.session.User.ID)
		teardownErr := m.teardownLocked(ctx)
		m.unlock()

		if !errors.Is(refreshErr, authsession.ErrRefreshFailed) {
			refreshErr = fmt.Errorf("%w: %w", authsession.ErrRefreshFailed, refreshErr)
		}
		return errors.Join(refreshErr, teardownErr)
	}

	if err := m.storage.Set(ctx, clientstate.KeyAuthToken, fresh); err != nil {
		// Disk still holds the token the server just revoked
		persistErr := fmt.Errorf("%w: failed to persist refreshed token: %v", authsession.ErrCorruptedLocalState, err)
		m.logger.Error("Failed to persist refreshed token, signing out", "error", err)
		m.auditor.LogLocalStateReset(persistErr.Error())
		m.outbox = append(m.outbox, Notification{Kind: NotifySessionExpired, Message: sessionExpiredMessage})
		csrfToken := m.session.CSRFToken
		teardownErr := m.teardownLocked(ctx)
		m.unlock()

		m.logoutOrphan(ctx, fresh, csrfToken)
		return errors.Join(persistErr, teardownErr)
	}
	m.session.Token = fresh
	_ = m.transitionLocked(Authenticated)
	m.unlock()
	return nil
}

// SignIn signs in with email and password
func (m *Manager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	return m.authenticate(ctx, m.limiters.SignIn, "signin", email, func(ctx context.Context) (*AuthResult, error) {
		return m.api.Login(ctx, email, password)
	})
}

// SignUp registers a new account and signs it in
func (m *Manager) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	return m.authenticate(ctx, m.limiters.SignUp, "signup", req.Email, func(ctx context.Context) (*AuthResult, error) {
		return m.api.Register(ctx, req)
	})
}

// CompleteOAuth finishes a Google sign-in with the code from the callback
func (m *Manager) CompleteOAuth(ctx context.Context, code, codeVerifier string) (*Session, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}
	return m.authenticate(ctx, nil, "oauth", "", func(ctx context.Context) (*AuthResult, error) {
		return m.api.ExchangeGoogleCode(ctx, code, codeVerifier)
	})
}

// authenticate runs one single-flight sign-in. A concurrent attempt, or one
// made while a sign-out is outstanding, is rejected without a network call.
func (m *Manager) authenticate(ctx context.Context, limiter *security.RateLimiter, action, identity string,
	call func(context.Context) (*AuthResult, error)) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.unlock()
		return nil, ErrClosed
	}
	if m.signingIn || m.signingOut > 0 {
		m.outbox = append(m.outbox, Notification{Kind: NotifyAuthInProgress, Message: "Authentication in progress"})
		m.unlock()
		return nil, authsession.NewError(authsession.ErrAuthInProgress, "Authentication in progress")
	}
	if m.state != Unauthenticated {
		m.unlock()
		return nil, ErrAlreadyAuthenticated
	}
	m.signingIn = true
	m.unlock()

	defer func() {
		m.mu.Lock()
		m.signingIn = false
		m.mu.Unlock()
	}()

	if err := m.checkLimit(ctx, limiter, action, identity); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state != Unauthenticated {
		m.unlock()
		return nil, ErrAlreadyAuthenticated
	}
	_ = m.transitionLocked(Authenticating)
	gen := m.generation
	m.unlock()

	res, err := call(ctx)

	m.mu.Lock()
	if gen != m.generation {
		m.unlock()
		// Signed out meanwhile: the server still holds the session it just issued
		if err == nil && res != nil {
			m.logoutOrphan(ctx, res.Token, "")
		}
		return nil, ErrSessionChanged
	}
	defer m.unlock()
	if err != nil {
		_ = m.transitionLocked(Unauthenticated)
		return nil, err
	}
	return m.establishLocked(ctx, res)
}

// establishLocked persists a new session. The CSRF token is rotated first so
// nothing from an earlier session can validate against this one.
func (m *Manager) establishLocked(ctx context.Context, res *AuthResult) (*Session, error) {
	fail := func(err error) (*Session, error) {
		if clearErr := m.clearLocalLocked(ctx); clearErr != nil {
			m.logger.Error("Failed to clear partial session", "error", clearErr)
		}
		_ = m.transitionLocked(Unauthenticated)
		return nil, err
	}

	user, err := json.Marshal(res.User)
	if err != nil {
		return fail(fmt.Errorf("failed to encode user profile: %w", err))
	}
	csrfToken, err := m.csrf.Rotate(ctx)
	if err != nil {
		return fail(err)
	}
	if err := m.storage.Set(ctx, clientstate.KeyAuthToken, res.Token); err != nil {
		return fail(fmt.Errorf("failed to store token: %w", err))
	}
	if err := m.storage.Set(ctx, clientstate.KeyUser, string(user)); err != nil {
		return fail(fmt.Errorf("failed to store user profile: %w", err))
	}
	onboarding := strconv.FormatBool(res.User.OnboardingCompleted)
	if err := m.storage.Set(ctx, clientstate.KeyOnboardingCompleted, onboarding); err != nil {
		return fail(fmt.Errorf("failed to store onboarding flag: %w", err))
	}

	m.generation++
	m.session = &Session{
		Token:              res.Token,
		User:               res.User,
		CSRFToken:          csrfToken,
		OnboardingComplete: res.User.OnboardingCompleted,
	}
	_ = m.transitionLocked(Authenticated)
	m.startValidatorLocked()

	m.logger.Info("Signed in", "user_id", res.User.ID)
	session := *m.session
	return &session, nil
}

// SignOut ends the session. Local state is always torn down, in order token,
// profile, onboarding flag, CSRF token, session storage, even after Close;
// the remote logout is best effort, skipped once closed, and its failure is
// only logged.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		err := m.teardownLocked(ctx)
		m.unlock()
		return err
	}
	m.signingOut++
	var token, csrfToken string
	if m.session != nil {
		token, csrfToken = m.session.Token, m.session.CSRFToken
	}
	teardownErr := m.teardownLocked(ctx)
	m.unlock()

	if token != "" {
		if err := m.api.Logout(ctx, token, csrfToken); err != nil {
			m.logger.Warn("Remote logout failed, local session already cleared", "error", err)
		}
	}

	m.mu.Lock()
	m.signingOut--
	m.mu.Unlock()
	return teardownErr
}

// ForgotPassword requests a reset code by email
func (m *Manager) ForgotPassword(ctx context.Context, email string) error {
	if err := m.checkLimit(ctx, m.limiters.Reset, "reset", email); err != nil {
		return err
	}
	return m.api.ForgotPassword(ctx, email)
}

// VerifyResetCode checks a reset code
func (m *Manager) VerifyResetCode(ctx context.Context, email, code string) error {
	return m.api.VerifyResetCode(ctx, email, code)
}

// ResetPassword sets a new password; it shares the reset budget with ForgotPassword
func (m *Manager) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := m.checkLimit(ctx, m.limiters.Reset, "reset", email); err != nil {
		return err
	}
	return m.api.ResetPassword(ctx, email, code, newPassword)
}

// MarkOnboardingComplete records that the signed-in user finished onboarding
func (m *Manager) MarkOnboardingComplete(ctx context.Context) error {
	m.mu.Lock()
	defer m.unlock()
	if m.session == nil {
		return ErrNoSession
	}
	if err := m.storage.Set(ctx, clientstate.KeyOnboardingCompleted, "true"); err != nil {
		return fmt.Errorf("failed to store onboarding flag: %w", err)
	}
	m.session.OnboardingComplete = true
	return nil
}

// Close stops the periodic validator and background work. Persisted state is
// kept; in-flight responses are discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.unlock()
		return nil
	}
	m.closed = true
	m.generation++
	m.stopValidatorLocked()
	m.cancel()
	m.unlock()

	m.wg.Wait()
	return nil
}

// logoutOrphan ends a server session this manager no longer tracks. Failure
// is only logged.
func (m *Manager) logoutOrphan(ctx context.Context, token, csrfToken string) {
	if token == "" {
		return
	}
	if err := m.api.Logout(context.WithoutCancel(ctx), token, csrfToken); err != nil {
		m.logger.Warn("Failed to log out discarded session", "error", err)
	}
}

func (m *Manager) checkLimit(ctx context.Context, limiter *security.RateLimiter, action, identity string) error {
	if limiter == nil {
		return nil
	}

	key := action + ":" + strings.ToLower(strings.TrimSpace(identity))
	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		m.logger.Error("Rate limiter unavailable, rejecting attempt", "action", action, "error", err)
	}
	if allowed {
		return nil
	}

	m.notifier.Notify(Notification{Kind: NotifyRateLimited, Message: authsession.ErrRateLimitExceeded.Error()})
	return authsession.NewError(authsession.ErrRateLimitExceeded, "")
}

func (m *Manager) readSessionLocked(ctx context.Context) (*Session, error) {
	get := func(key string) (string, bool, error) {
		value, ok, err := m.storage.Get(ctx, key)
		if errors.Is(err, security.ErrDecryptionFailed) {
			return "", false, fmt.Errorf("%w: %s: %v", authsession.ErrCorruptedLocalState, key, err)
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to read %s: %w", key, err)
		}
		return value, ok, nil
	}

	token, ok, err := get(clientstate.KeyAuthToken)
	if err != nil || !ok || token == "" {
		return nil, err
	}

	raw, ok, err := get(clientstate.KeyUser)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: token without user profile", authsession.ErrCorruptedLocalState)
	}
	var user UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("%w: user profile: %v", authsession.ErrCorruptedLocalState, err)
	}

	session := &Session{Token: token, User: user}

	flag, ok, err := get(clientstate.KeyOnboardingCompleted)
	if err != nil {
		return nil, err
	}
	if ok {
		session.OnboardingComplete, err = strconv.ParseBool(flag)
		if err != nil {
			return nil, fmt.Errorf("%w: onboarding flag: %v", authsession.ErrCorruptedLocalState, err)
		}
	}

	csrfToken, _, err := m.csrf.Get(ctx)
	if errors.Is(err, security.ErrDecryptionFailed) {
		return nil, fmt.Errorf("%w: %v", authsession.ErrCorruptedLocalState, err)
	}
	if err != nil {
		return nil, err
	}
	session.CSRFToken = csrfToken

	return session, nil
}

// teardownLocked drops the session and moves to Unauthenticated. Bumping the
// generation makes every in-flight response stale.
func (m *Manager) teardownLocked(ctx context.Context) error {
	m.generation++
	m.stopValidatorLocked()
	err := m.clearLocalLocked(ctx)
	m.session = nil
	_ = m.transitionLocked(Unauthenticated)
	return err
}

// clearLocalLocked removes every persisted session value. It keeps going
// past failures and reports them together.
func (m *Manager) clearLocalLocked(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, key := range []string{clientstate.KeyAuthToken, clientstate.KeyUser, clientstate.KeyOnboardingCompleted} {
		if err := m.storage.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
		}
	}
	if err := m.csrf.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.sessionStorage.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear session storage: %w", err))
	}
	return errors.Join(errs...)
}

func (m *Manager) transitionLocked(to State) error {
	from := m.state
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		m.logger.Error("Rejected invalid session transition", "from", from.String(), "to", to.String())
		return fmt.Errorf("invalid session transition %s -> %s", from, to)
	}

	m.state = to
	m.outbox = append(m.outbox, Notification{Kind: NotifyStateChanged, From: from, To: to})
	if m.instrumentation != nil {
		m.instrumentation.Metrics().RecordSessionTransition(context.Background(), from.String(), to.String())
	}
	m.logger.Debug("Session state changed", "from", from.String(), "to", to.String())
	return nil
}

func (m *Manager) startValidatorLocked() {
	m.stopValidatorLocked()

	stop := make(chan struct{})
	m.stopValidator = stop
	m.wg.Add(1)
	go m.runValidator(stop)
}

func (m *Manager) stopValidatorLocked() {
	if m.stopValidator != nil {
		close(m.stopValidator)
		m.stopValidator = nil
	}
}

func (m *Manager) runValidator(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.Validate(m.ctx); err != nil && !errors.Is(err, ErrSessionChanged) {
				m.logger.Warn("Periodic session validation failed", "error", err)
			}
		}
	}
}

// unlock releases the lock and then delivers queued notifications
func (m *Manager) unlock() {
	pending := m.outbox
	m.outbox = nil
	m.mu.Unlock()

	for _, n := range pending {
		m.notifier.Notify(n)
	}
}
