package config

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/rosterhub/authsession/authority"
	"github.com/rosterhub/authsession/client"
	"github.com/rosterhub/authsession/clientstate"
	"github.com/rosterhub/authsession/instrumentation"
	"github.com/rosterhub/authsession/security"
	"github.com/rosterhub/authsession/storage"
	"github.com/rosterhub/authsession/storage/memory"
	"github.com/rosterhub/authsession/storage/redis"
	"github.com/rosterhub/authsession/tokens"
)

// NewInstrumentation creates the instrumentation described by cfg. Providers
// are left to the application; without them the no-op providers are used.
func NewInstrumentation(cfg TelemetryConfig) (*instrumentation.Instrumentation, error) {
	return instrumentation.New(instrumentation.Config{
		Enabled:        cfg.Enabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
	})
}

// OpenStore creates the configured TTL store. The returned func releases it.
func OpenStore(cfg StoreConfig, logger *slog.Logger, inst *instrumentation.Instrumentation) (storage.Store, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case StoreMemory, "":
		var store *memory.Store
		if cfg.CleanupInterval > 0 {
			store = memory.NewWithCleanup(cfg.CleanupInterval, memory.WithLogger(logger))
		} else {
			store = memory.New(memory.WithLogger(logger))
		}
		if inst != nil {
			store.SetInstrumentation(inst)
		}
		closeStore := func() error {
			store.Stop()
			return nil
		}
		return store, closeStore, nil

	case StoreRedis:
		store, err := redis.New(redis.Config{
			Addr:             cfg.Redis.Addr,
			Password:         cfg.Redis.Password,
			DB:               cfg.Redis.DB,
			KeyPrefix:        cfg.Redis.Prefix,
			MaxUpdateRetries: cfg.Redis.MaxUpdateRetries,
			Logger:           logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("invalid store type %q", cfg.Type)
	}
}

// NewLimiters creates the sign-in, sign-up and reset limiters on store
func NewLimiters(cfg RateLimitsConfig, store storage.Store, logger *slog.Logger) client.Limiters {
	build := func(name string, l LimitConfig) *security.RateLimiter {
		return security.Limit{Name: name, MaxAttempts: l.MaxAttempts, Window: l.Window}.NewLimiter(store, logger)
	}
	return client.Limiters{
		SignIn: build(security.SigninLimit.Name, cfg.SignIn),
		SignUp: build(security.SignupLimit.Name, cfg.SignUp),
		Reset:  build(security.ResetLimit.Name, cfg.Reset),
	}
}

// NewAuditor creates the security auditor
func NewAuditor(cfg AuditConfig, logger *slog.Logger, inst *instrumentation.Instrumentation) *security.Auditor {
	auditor := security.NewAuditor(logger, cfg.Enabled)
	auditor.SetInstrumentation(inst)
	return auditor
}

// NewAuthority wires the server-side token service onto store: refresh
// registry, blacklist and one limiter per action.
func NewAuthority(cfg *Config, store storage.Store, logger *slog.Logger, auditor *security.Auditor,
	inst *instrumentation.Instrumentation) (*authority.Service, error) {
	if cfg.Tokens.SigningKey == "" {
		return nil, fmt.Errorf("tokens.signing_key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := tokens.NewRefreshRegistry(store)
	registry.SetTTL(cfg.Tokens.RefreshTTL)
	registry.SetLogger(logger)

	blacklist := tokens.NewBlacklist(store)
	blacklist.SetTTL(cfg.Tokens.BlacklistTTL)
	blacklist.SetLogger(logger)

	svc, err := authority.New(authority.Config{
		SigningKey:    []byte(cfg.Tokens.SigningKey),
		Issuer:        cfg.Tokens.Issuer,
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshWindow: cfg.Tokens.RefreshWindow,
		Leeway:        cfg.Tokens.Leeway,
	}, registry, blacklist)
	if err != nil {
		return nil, err
	}
	svc.SetLogger(logger)
	svc.SetAuditor(auditor)

	limiters := NewLimiters(cfg.RateLimits, store, logger)
	for action, limiter := range map[string]*security.RateLimiter{
		security.SigninLimit.Name: limiters.SignIn,
		security.SignupLimit.Name: limiters.SignUp,
		security.ResetLimit.Name:  limiters.Reset,
	} {
		limiter.SetAuditor(auditor)
		svc.SetLimiter(action, limiter)
	}

	if inst != nil {
		registry.SetInstrumentation(inst)
		blacklist.SetInstrumentation(inst)
		svc.SetInstrumentation(inst)
		limiters.SignIn.SetInstrumentation(inst)
		limiters.SignUp.SetInstrumentation(inst)
		limiters.Reset.SetInstrumentation(inst)
	}

	return svc, nil
}

// ClientState is the durable and session-scoped client storage
type ClientState struct {
	Durable clientstate.Store
	Session clientstate.Store

	db *sql.DB
}

// Close releases the SQLite database, if any
func (s *ClientState) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OpenClientState opens the client storage: SQLite when a state path is
// configured, memory otherwise, sealed when an encryption key is set.
func OpenClientState(cfg ClientConfig) (*ClientState, error) {
	state := &ClientState{}

	if cfg.StatePath == "" {
		state.Durable = clientstate.NewMemoryStore()
		state.Session = clientstate.NewMemoryStore()
	} else {
		db, err := clientstate.OpenSQLite(cfg.StatePath)
		if err != nil {
			return nil, err
		}
		state.db = db
		state.Durable = clientstate.NewSQLiteStore(db, clientstate.ScopeDurable)
		state.Session = clientstate.NewSQLiteStore(db, clientstate.ScopeSession)
	}

	if cfg.EncryptionKey != "" {
		key, err := security.KeyFromBase64(cfg.EncryptionKey)
		if err != nil {
			_ = state.Close()
			return nil, fmt.Errorf("client.encryption_key: %w", err)
		}
		encryptor, err := security.NewEncryptor(key)
		if err != nil {
			_ = state.Close()
			return nil, err
		}
		state.Durable = clientstate.NewEncryptedStore(state.Durable, encryptor)
		state.Session = clientstate.NewEncryptedStore(state.Session, encryptor)
	}

	return state, nil
}

// NewClientManager builds the client session manager talking HTTP to the
// Auth API at cfg.Client.BaseURL. Client-side limiters run on their own
// memory store; the server enforces the shared budget.
func NewClientManager(cfg *Config, state *ClientState, notifier client.Notifier, logger *slog.Logger,
	inst *instrumentation.Instrumentation) (*client.Manager, error) {
	api, err := client.NewHTTPAuthAPI(client.HTTPConfig{
		BaseURL:           cfg.Client.BaseURL,
		RequestsPerSecond: cfg.Client.RequestsPerSecond,
		Burst:             cfg.Client.Burst,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	auditor := NewAuditor(cfg.Audit, logger, inst)
	limiters := NewLimiters(cfg.RateLimits, memory.New(memory.WithLogger(logger)), logger)

	mgr, err := client.NewManager(client.Config{
		API:              api,
		Storage:          state.Durable,
		SessionStorage:   state.Session,
		Limiters:         limiters,
		Notifier:         notifier,
		ValidateInterval: cfg.Client.ValidateInterval,
		Logger:           logger,
		Auditor:          auditor,
	})
	if err != nil {
		return nil, err
	}

	if inst != nil {
		api.SetInstrumentation(inst)
		mgr.SetInstrumentation(inst)
	}
	return mgr, nil
}
