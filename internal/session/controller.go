package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/storefront/internal/pubsub"
	"github.com/MarcoPoloResearchLab/storefront/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	opInitialQuery   = "session.initial_query"
	opResolveProfile = "session.resolve_profile"
	opSignOut        = "session.sign_out"
	opUpdateProfile  = "session.update_profile"

	stateTopic = "session-state"
)

var (
	// ErrAlreadyStarted indicates Start was called twice on one controller.
	ErrAlreadyStarted = errors.New("session: controller already started")
	// ErrInvalidProfile indicates a profile save without a display name.
	ErrInvalidProfile = errors.New("session: display name required")

	errMissingBackend   = errors.New("session: backend is required")
	errIdentityReplaced = errors.New("session: identity replaced during profile fetch")
	noOpLogger          = zap.NewNop()
)

// Phase is the controller's lifecycle position.
type Phase string

const (
	PhaseInitializing    Phase = "initializing"
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseProfileLoading  Phase = "profile_loading"
	PhaseProfileReady    Phase = "profile_ready"
)

// State is an immutable snapshot of the controller.
type State struct {
	Identity *Identity
	Profile  *Profile
	Loading  bool
}

// Phase derives the lifecycle phase from the snapshot.
func (s State) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseInitializing
	case s.Identity == nil:
		return PhaseUnauthenticated
	case s.Profile == nil:
		return PhaseProfileLoading
	default:
		return PhaseProfileReady
	}
}

// Authenticated reports whether an identity is present.
func (s State) Authenticated() bool {
	return s.Identity != nil
}

// Config describes the dependencies of a Controller.
type Config struct {
	Backend Backend
	// MinLoadingDelay holds the initial Loading state at least this long after Start.
	MinLoadingDelay time.Duration
	Events          *pubsub.Dispatcher[State]
	Logger          *zap.Logger
}

// Controller is the single owner of the current identity and profile. Every
// identity signal (startup query, pushed change, sign-out, no-session during a
// profile fetch) bumps a generation counter under the lock; a startup query
// result is applied only if no other signal arrived since it was issued, and a
// profile result only if the identity it was fetched for is still current.
type Controller struct {
	backend         Backend
	minLoadingDelay time.Duration
	events          *pubsub.Dispatcher[State]
	logger          *zap.Logger
	flight          singleflight.Group

	mu                 sync.Mutex
	ctx                context.Context
	cancel             context.CancelFunc
	listener           Subscription
	delayTimer         *time.Timer
	started            bool
	closed             bool
	generation         uint64
	resolved           bool
	delayElapsed       bool
	loading            bool
	identity           *Identity
	profile            *Profile
	profileResolvedFor string
	lastPhase          Phase
	ready              chan struct{}
}

// NewController constructs a controller in the Initializing phase.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	events := cfg.Events
	if events == nil {
		events = pubsub.NewDispatcher[State](8)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	minLoadingDelay := cfg.MinLoadingDelay
	if minLoadingDelay < 0 {
		minLoadingDelay = 0
	}
	return &Controller{
		backend:         cfg.Backend,
		minLoadingDelay: minLoadingDelay,
		events:          events,
		logger:          logger,
		loading:         true,
		lastPhase:       PhaseInitializing,
		ready:           make(chan struct{}),
	}, nil
}

// Start registers the identity-change listener and issues the startup identity
// query. It returns immediately; observe progress through State, Subscribe or WaitReady.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	issuedAt := c.generation
	c.mu.Unlock()

	listener := c.backend.OnIdentityChange(c.handleIdentityChange)

	c.mu.Lock()
	c.listener = listener
	if c.minLoadingDelay > 0 {
		c.delayTimer = time.AfterFunc(c.minLoadingDelay, c.markDelayElapsed)
	} else {
		c.delayElapsed = true
	}
	c.mu.Unlock()

	go c.runInitialQuery(runCtx, issuedAt)
	return nil
}

// Close unregisters the listener. Results arriving afterwards are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	listener := c.listener
	if c.delayTimer != nil {
		c.delayTimer.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if listener != nil {
		listener.Unsubscribe()
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe delivers a snapshot after every state change.
func (c *Controller) Subscribe(ctx context.Context) *pubsub.Subscription[State] {
	return c.events.Subscribe(ctx, stateTopic)
}

// WaitReady blocks until the controller leaves Initializing or ctx is done.
func (c *Controller) WaitReady(ctx context.Context) (State, error) {
	select {
	case <-c.ready:
		return c.State(), nil
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// RefreshProfile resolves the profile of the current identity. It is a no-op when
// the profile for that identity is already resolved, and concurrent calls share
// a single fetch, so redundant triggers never create the profile twice.
func (c *Controller) RefreshProfile(ctx context.Context) {
	c.mu.Lock()
	identity := c.identity.clone()
	if c.closed || identity == nil || c.profileResolvedFor == identity.ID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	_, _, _ = c.flight.Do(identity.ID, func() (interface{}, error) {
		c.resolveProfile(ctx, *identity)
		return nil, nil
	})
}

// SignOut asks the backend to end the session and then resets local state,
// whatever the backend answered.
func (c *Controller) SignOut(ctx context.Context) {
	if err := c.backend.SignOut(ctx); err != nil && !IsNoSession(err) {
		c.logWarn(opSignOut, "backend_sign_out_failed", err)
	}
	c.clearIdentity()
}

// UpdateProfile saves user-edited profile fields. Unlike background flows it
// reports failures to the caller so they can be shown next to the form.
func (c *Controller) UpdateProfile(ctx context.Context, fields ProfileFields) (Profile, error) {
	fields.DisplayName = strings.TrimSpace(fields.DisplayName)
	fields.Phone = strings.TrimSpace(fields.Phone)
	if fields.DisplayName == "" {
		return Profile{}, ErrInvalidProfile
	}

	c.mu.Lock()
	identity := c.identity.clone()
	c.mu.Unlock()
	if identity == nil {
		return Profile{}, ErrNoSession
	}

	profile, err := c.backend.UpsertProfile(ctx, identity.ID, fields)
	if err != nil {
		if IsNoSession(err) {
			c.clearIdentityIfCurrent(identity.ID)
			return Profile{}, ErrNoSession
		}
		c.logWarn(opUpdateProfile, "profile_save_failed", err, zap.String("user_id", identity.ID))
		return Profile{}, fmt.Errorf("session: save profile: %w", err)
	}

	c.mu.Lock()
	if c.identity != nil && c.identity.ID == identity.ID {
		c.profile = profile.clone()
		c.profileResolvedFor = identity.ID
	}
	c.announceLocked()
	c.mu.Unlock()
	return profile, nil
}

func (c *Controller) runInitialQuery(ctx context.Context, issuedAt uint64) {
	identity, err := c.backend.CurrentIdentity(ctx)
	switch {
	case err == nil:
	case IsNoSession(err):
		identity = nil
		c.logger.Debug("no active session at startup")
	default:
		identity = nil
		c.logWarn(opInitialQuery, "query_failed", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.generation != issuedAt {
		c.mu.Unlock()
		c.logger.Debug("startup identity superseded by a later signal")
		return
	}
	c.generation++
	c.setIdentityLocked(identity.clone())
	c.resolved = true
	c.finishLoadingLocked()
	c.announceLocked()
	needsProfile := c.needsProfileLocked()
	c.mu.Unlock()

	if needsProfile {
		go c.RefreshProfile(ctx)
	}
}

func (c *Controller) handleIdentityChange(change IdentityChange) {
	c.mu.Lock()
	if c.closed || !c.started {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.setIdentityLocked(change.Identity.clone())
	c.resolved = true
	c.finishLoadingLocked()
	c.announceLocked()
	needsProfile := c.needsProfileLocked()
	runCtx := c.ctx
	c.mu.Unlock()

	if needsProfile {
		go c.RefreshProfile(runCtx)
	}
}

func (c *Controller) markDelayElapsed() {
	c.mu.Lock()
	c.delayElapsed = true
	if !c.finishLoadingLocked() {
		c.mu.Unlock()
		return
	}
	c.announceLocked()
	c.mu.Unlock()
}

func (c *Controller) resolveProfile(ctx context.Context, identity Identity) {
	c.mu.Lock()
	stale := c.closed || c.identity == nil || c.identity.ID != identity.ID || c.profileResolvedFor == identity.ID
	c.mu.Unlock()
	if stale {
		return
	}

	profile, err := c.fetchOrCreateProfile(ctx, identity)

	c.mu.Lock()
	if c.closed || c.identity == nil || c.identity.ID != identity.ID {
		c.mu.Unlock()
		return
	}
	if err != nil {
		if IsNoSession(err) {
			c.clearIdentityLocked()
			c.mu.Unlock()
			c.logger.Debug("session ended during profile resolution", zap.String("user_id", identity.ID))
			return
		}
		c.mu.Unlock()
		c.logWarn(opResolveProfile, "profile_fetch_failed", err, zap.String("user_id", identity.ID))
		return
	}
	c.profile = profile.clone()
	c.profileResolvedFor = identity.ID
	c.announceLocked()
	c.mu.Unlock()
}

func (c *Controller) fetchOrCreateProfile(ctx context.Context, identity Identity) (Profile, error) {
	existing, err := c.backend.GetProfile(ctx, identity.ID)
	if err != nil {
		return Profile{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	if !c.isCurrent(identity.ID) {
		return Profile{}, errIdentityReplaced
	}
	phone, _ := identity.Metadata["phone"].(string)
	return c.backend.UpsertProfile(ctx, identity.ID, ProfileFields{
		DisplayName: DisplayNameFor(identity),
		Phone:       strings.TrimSpace(phone),
	})
}

func (c *Controller) isCurrent(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.identity != nil && c.identity.ID == userID
}

func (c *Controller) clearIdentity() {
	c.mu.Lock()
	c.clearIdentityLocked()
	c.mu.Unlock()
}

// clearIdentityIfCurrent signs out only while userID is still the current
// identity; a no-session answer for a replaced identity says nothing about the
// newer one.
func (c *Controller) clearIdentityIfCurrent(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil || c.identity.ID != userID {
		return
	}
	c.clearIdentityLocked()
}

func (c *Controller) clearIdentityLocked() {
	c.generation++
	c.setIdentityLocked(nil)
	c.resolved = true
	c.finishLoadingLocked()
	c.announceLocked()
}

// setIdentityLocked replaces the identity wholesale. The profile survives only
// when the subject is unchanged.
func (c *Controller) setIdentityLocked(identity *Identity) {
	if identity == nil {
		c.identity = nil
		c.profile = nil
		c.profileResolvedFor = ""
		return
	}
	if c.identity == nil || c.identity.ID != identity.ID {
		c.profile = nil
		c.profileResolvedFor = ""
	}
	c.identity = identity
}

func (c *Controller) needsProfileLocked() bool {
	return c.identity != nil && c.profile == nil && c.profileResolvedFor != c.identity.ID
}

func (c *Controller) finishLoadingLocked() bool {
	if !c.loading || !c.resolved || !c.delayElapsed {
		return false
	}
	c.loading = false
	close(c.ready)
	return true
}

func (c *Controller) snapshotLocked() State {
	return State{
		Identity: c.identity.clone(),
		Profile:  c.profile.clone(),
		Loading:  c.loading,
	}
}

// announceLocked publishes the current snapshot and records phase transitions.
// Publishing under the lock keeps subscribers' view in mutation order.
func (c *Controller) announceLocked() {
	snapshot := c.snapshotLocked()
	if phase := snapshot.Phase(); phase != c.lastPhase {
		c.lastPhase = phase
		telemetry.IdentityTransition(string(phase))
	}
	c.events.Publish(stateTopic, snapshot)
}

func (c *Controller) logWarn(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Warn("session controller error", attrs...)
}
