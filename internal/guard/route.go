// Package guard keeps views that require an identity from rendering for
// anonymous visitors.
package guard

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/storefront/internal/pubsub"
	"github.com/MarcoPoloResearchLab/storefront/internal/session"
	"go.uber.org/zap"
)

// Decision tells a guarded view what to do with the current identity state.
type Decision int

const (
	// DecisionPending renders nothing: identity is still loading or a redirect is under way.
	DecisionPending Decision = iota
	// DecisionAllow renders the guarded view.
	DecisionAllow
	// DecisionRedirect means the view navigated to the sign-in path.
	DecisionRedirect
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionRedirect:
		return "redirect"
	default:
		return "pending"
	}
}

// Navigator is the platform navigation primitive.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Navigate calls f(path).
func (f NavigatorFunc) Navigate(path string) {
	f(path)
}

// StateSource exposes the identity state a guard reads. *session.Controller satisfies it.
type StateSource interface {
	State() session.State
	Subscribe(ctx context.Context) *pubsub.Subscription[session.State]
}

var (
	errMissingNavigator  = errors.New("guard: navigator is required")
	errInvalidSignInPath = errors.New("guard: sign-in path must be absolute")
)

// RouteConfig describes a guarded route.
type RouteConfig struct {
	SignInPath string
	Navigator  Navigator
	Logger     *zap.Logger
}

// Route guards one view. It redirects at most once per transition into the
// unauthenticated state and never while identity is loading.
type Route struct {
	signInPath string
	navigator  Navigator
	logger     *zap.Logger

	mu         sync.Mutex
	redirected bool
}

// NewRoute constructs a Route.
func NewRoute(cfg RouteConfig) (*Route, error) {
	if cfg.Navigator == nil {
		return nil, errMissingNavigator
	}
	if !strings.HasPrefix(cfg.SignInPath, "/") {
		return nil, errInvalidSignInPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Route{
		signInPath: cfg.SignInPath,
		navigator:  cfg.Navigator,
		logger:     logger,
	}, nil
}

// Evaluate applies state to the route, navigating away when it is certain no
// identity is present.
func (r *Route) Evaluate(state session.State) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case state.Loading:
		return DecisionPending
	case state.Identity != nil:
		r.redirected = false
		return DecisionAllow
	case r.redirected:
		return DecisionPending
	default:
		r.redirected = true
		r.logger.Debug("redirecting anonymous visitor", zap.String("path", r.signInPath))
		r.navigator.Navigate(r.signInPath)
		return DecisionRedirect
	}
}

// Watch evaluates the current state and every later snapshot from source until
// ctx is done. Each decision is passed to render when it is non-nil.
func (r *Route) Watch(ctx context.Context, source StateSource, render func(Decision, session.State)) {
	subscription := source.Subscribe(ctx)
	defer subscription.Cancel()

	apply := func(state session.State) {
		decision := r.Evaluate(state)
		if render != nil {
			render(decision, state)
		}
	}
	apply(source.State())
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-subscription.Events():
			if !ok {
				return
			}
			apply(state)
		}
	}
}
