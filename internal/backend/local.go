// Package backend is a self-hosted implementation of the identity and profile
// service the session controller talks to. Accounts and profiles live in
// SQLite, sessions are signed tokens and the token of the current session is
// kept in durable storage so it survives restarts.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/storefront/internal/auth"
	"github.com/MarcoPoloResearchLab/storefront/internal/pubsub"
	"github.com/MarcoPoloResearchLab/storefront/internal/session"
	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	identityTopic       = "identity"
	sessionRecordSchema = "session-token-v1"
	eventBufferSize     = 32
)

// Config describes the dependencies of a Local backend.
type Config struct {
	Database   *gorm.DB
	Storage    storage.Storage
	Keyspace   *storage.Keyspace
	Issuer     *auth.TokenIssuer
	Validator  *auth.SessionValidator
	Events     *pubsub.Dispatcher[session.IdentityChange]
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

type sessionRecord struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// Local implements session.Backend on top of gorm, signed tokens and the storage port.
type Local struct {
	db        *gorm.DB
	store     storage.Storage
	issuer    *auth.TokenIssuer
	validator *auth.SessionValidator
	events    *pubsub.Dispatcher[session.IdentityChange]
	ids       IDProvider
	clock     func() time.Time
	logger    *zap.Logger

	// mu orders session record writes with the events announcing them.
	mu sync.Mutex
}

var _ session.Backend = (*Local)(nil)

// New constructs a Local backend.
func New(cfg Config) (*Local, error) {
	switch {
	case cfg.Database == nil:
		return nil, newServiceError(opBackendNew, "missing_database", errMissingDatabase)
	case cfg.Storage == nil:
		return nil, newServiceError(opBackendNew, "missing_storage", errMissingStorage)
	case cfg.Issuer == nil:
		return nil, newServiceError(opBackendNew, "missing_issuer", errMissingIssuer)
	case cfg.Validator == nil:
		return nil, newServiceError(opBackendNew, "missing_validator", errMissingValidator)
	}
	if err := cfg.Keyspace.Claim(storage.KeySession, sessionRecordSchema); err != nil {
		return nil, newServiceError(opBackendNew, "key_conflict", err)
	}

	events := cfg.Events
	if events == nil {
		events = pubsub.NewDispatcher[session.IdentityChange](eventBufferSize)
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Local{
		db:        cfg.Database,
		store:     cfg.Storage,
		issuer:    cfg.Issuer,
		validator: cfg.Validator,
		events:    events,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Register creates an account for email, signs it in and returns the session token.
func (l *Local) Register(ctx context.Context, email string, metadata map[string]any) (session.Identity, string, error) {
	normalized := normalizeEmail(email)
	if normalized == "" || !strings.Contains(normalized, "@") {
		return session.Identity{}, "", ErrInvalidEmail
	}

	var existing Account
	err := l.db.WithContext(ctx).Where("user_email = ?", normalized).Take(&existing).Error
	if err == nil {
		return session.Identity{}, "", ErrAccountExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return session.Identity{}, "", l.logError(opRegister, "lookup_failed", err)
	}

	userID, err := l.ids.NewID()
	if err != nil {
		return session.Identity{}, "", l.logError(opRegister, "id_failed", err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return session.Identity{}, "", l.logError(opRegister, "metadata_encode_failed", err)
	}
	now := l.clock().UTC()
	account := Account{
		UserID:       userID,
		Email:        normalized,
		MetadataJSON: string(metadataJSON),
		LastSeenAt:   now,
		CreatedAt:    now,
	}
	if err := l.db.WithContext(ctx).Create(&account).Error; err != nil {
		return session.Identity{}, "", l.logError(opRegister, "insert_failed", err, zap.String("user_id", userID))
	}

	token, identity, err := l.issueAndActivate(ctx, opRegister, account, session.ChangeSignedIn)
	if err != nil {
		return session.Identity{}, "", err
	}
	return identity, token, nil
}

// SignInAccount starts a session for an existing account without a token, as a
// trusted local operator would.
func (l *Local) SignInAccount(ctx context.Context, email string) (session.Identity, string, error) {
	var account Account
	err := l.db.WithContext(ctx).Where("user_email = ?", normalizeEmail(email)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.Identity{}, "", ErrUnknownAccount
	}
	if err != nil {
		return session.Identity{}, "", l.logError(opSignIn, "lookup_failed", err)
	}
	token, identity, err := l.issueAndActivate(ctx, opSignIn, account, session.ChangeSignedIn)
	if err != nil {
		return session.Identity{}, "", err
	}
	return identity, token, nil
}

// SignIn makes token the current session.
func (l *Local) SignIn(ctx context.Context, token string) (session.Identity, error) {
	claims, err := l.validator.ValidateToken(token)
	if err != nil {
		return session.Identity{}, fmt.Errorf("%w: %v", session.ErrNoSession, err)
	}
	account, err := l.findAccount(ctx, claims.UserID)
	if err != nil {
		return session.Identity{}, err
	}
	record := sessionRecord{Token: strings.TrimSpace(token)}
	if claims.ExpiresAt != nil {
		record.ExpiresAt = claims.ExpiresAt.Unix()
	}
	identity := account.identity()
	if err := l.activate(ctx, opSignIn, record, session.ChangeSignedIn, &identity); err != nil {
		return session.Identity{}, err
	}
	l.touch(ctx, account.UserID)
	return identity, nil
}

// Refresh replaces the current session token with a freshly issued one.
func (l *Local) Refresh(ctx context.Context) (string, error) {
	current, err := l.CurrentIdentity(ctx)
	if err != nil {
		return "", err
	}
	account, err := l.findAccount(ctx, current.ID)
	if err != nil {
		return "", err
	}
	token, _, err := l.issueAndActivate(ctx, opRefresh, account, session.ChangeTokenRefreshed)
	return token, err
}

// CurrentIdentity resolves the identity of the stored session token. A missing,
// expired or revoked token yields session.ErrNoSession.
func (l *Local) CurrentIdentity(ctx context.Context) (*session.Identity, error) {
	claims, err := l.currentClaims(ctx)
	if err != nil {
		return nil, err
	}
	account, err := l.findAccount(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	identity := account.identity()
	return &identity, nil
}

// OnIdentityChange delivers identity-change events to callback from a dedicated goroutine.
func (l *Local) OnIdentityChange(callback func(session.IdentityChange)) session.Subscription {
	subscription := l.events.Subscribe(context.Background(), identityTopic)
	go func() {
		for change := range subscription.Events() {
			if callback != nil {
				callback(change)
			}
		}
	}()
	return listener{subscription: subscription}
}

// GetProfile returns the profile of userID, or nil when none exists yet.
func (l *Local) GetProfile(ctx context.Context, userID string) (*session.Profile, error) {
	if err := l.requireSession(ctx, userID); err != nil {
		return nil, err
	}
	var record ProfileRecord
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, l.logError(opGetProfile, "query_failed", err, zap.String("user_id", userID))
	}
	profile := record.profile()
	return &profile, nil
}

// UpsertProfile creates or replaces the profile of userID.
func (l *Local) UpsertProfile(ctx context.Context, userID string, fields session.ProfileFields) (session.Profile, error) {
	if err := l.requireSession(ctx, userID); err != nil {
		return session.Profile{}, err
	}
	record := ProfileRecord{
		UserID:      userID,
		DisplayName: strings.TrimSpace(fields.DisplayName),
		Phone:       strings.TrimSpace(fields.Phone),
		UpdatedAt:   l.clock().UTC(),
	}
	if record.DisplayName == "" {
		return session.Profile{}, ErrInvalidProfile
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "phone", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return session.Profile{}, l.logError(opUpsertProfile, "upsert_failed", err, zap.String("user_id", userID))
	}
	return record.profile(), nil
}

// SignOut forgets the current session token.
func (l *Local) SignOut(ctx context.Context) error {
	if _, err := l.currentClaims(ctx); err != nil {
		return err
	}
	return l.activate(ctx, opSignOut, sessionRecord{}, session.ChangeSignedOut, nil)
}

func (l *Local) issueAndActivate(ctx context.Context, operation string, account Account, kind session.ChangeKind) (string, session.Identity, error) {
	identity := account.identity()
	token, expiresAt, err := l.issuer.IssueSessionToken(ctx, auth.Subject{
		UserID:    account.UserID,
		Email:     account.Email,
		Metadata:  identity.Metadata,
		CreatedAt: account.CreatedAt,
	})
	if err != nil {
		return "", session.Identity{}, l.logError(operation, "issue_failed", err, zap.String("user_id", account.UserID))
	}
	record := sessionRecord{Token: token, ExpiresAt: expiresAt.Unix()}
	if err := l.activate(ctx, operation, record, kind, &identity); err != nil {
		return "", session.Identity{}, err
	}
	l.touch(ctx, account.UserID)
	return token, identity, nil
}

// activate persists record as the current session and then announces the change.
func (l *Local) activate(ctx context.Context, operation string, record sessionRecord, kind session.ChangeKind, identity *session.Identity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := storage.SaveJSON(ctx, l.store, storage.KeySession, record); err != nil {
		return l.logError(operation, "session_write_failed", err)
	}
	l.events.Publish(identityTopic, session.IdentityChange{Kind: kind, Identity: identity})
	return nil
}

func (l *Local) currentClaims(ctx context.Context) (auth.SessionClaims, error) {
	var record sessionRecord
	found, err := storage.LoadJSON(ctx, l.store, storage.KeySession, &record)
	if err != nil {
		return auth.SessionClaims{}, l.logError(opCurrent, "session_read_failed", err)
	}
	if !found || strings.TrimSpace(record.Token) == "" {
		return auth.SessionClaims{}, session.ErrNoSession
	}
	claims, err := l.validator.ValidateToken(record.Token)
	if err != nil {
		l.logger.Debug("stored session token rejected", zap.Error(err))
		return auth.SessionClaims{}, fmt.Errorf("%w: %v", session.ErrNoSession, err)
	}
	return claims, nil
}

func (l *Local) requireSession(ctx context.Context, userID string) error {
	claims, err := l.currentClaims(ctx)
	if err != nil {
		return err
	}
	if claims.UserID != userID {
		return fmt.Errorf("%w: session belongs to another account", session.ErrNoSession)
	}
	return nil
}

func (l *Local) findAccount(ctx context.Context, userID string) (Account, error) {
	var account Account
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, fmt.Errorf("%w: %w", session.ErrNoSession, ErrUnknownAccount)
	}
	if err != nil {
		return Account{}, l.logError(opCurrent, "account_lookup_failed", err, zap.String("user_id", userID))
	}
	return account, nil
}

func (l *Local) touch(ctx context.Context, userID string) {
	err := l.db.WithContext(ctx).Model(&Account{}).
		Where("user_id = ?", userID).
		Update("last_seen_at", l.clock().UTC()).
		Error
	if err != nil {
		l.logger.Debug("last seen update failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (l *Local) logError(operation, reason string, err error, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("backend operation failed", attrs...)
	return newServiceError(operation, reason, err)
}

type listener struct {
	subscription *pubsub.Subscription[session.IdentityChange]
}

func (l listener) Unsubscribe() {
	l.subscription.Cancel()
}
