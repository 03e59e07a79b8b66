package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackendUnavailable = errors.New("backend unavailable")

type fakeSubscription struct {
	backend *fakeBackend
	id      int
}

func (s fakeSubscription) Unsubscribe() {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	delete(s.backend.listeners, s.id)
}

// fakeBackend is an in-memory Backend whose calls can be gated or failed per test.
type fakeBackend struct {
	mu sync.Mutex

	current      *Identity
	currentErr   error
	currentGate  chan struct{}
	currentDone  chan struct{}
	listeners    map[int]func(IdentityChange)
	nextListener int

	profiles     map[string]Profile
	profileErr   error
	profileErrs  map[string]error
	profileGates map[string]chan struct{}
	getCalls     map[string]int
	upsertCalls  map[string]int
	upsertErr    error

	// upsertGate holds the next UpsertProfile call until closed; that call then
	// fails with gatedUpsertErr. upsertEntered is closed when it arrives.
	upsertGate     chan struct{}
	upsertEntered  chan struct{}
	gatedUpsertErr error

	signOutErr   error
	signOutCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		currentDone:  make(chan struct{}),
		listeners:    make(map[int]func(IdentityChange)),
		profiles:     make(map[string]Profile),
		profileErrs:  make(map[string]error),
		profileGates: make(map[string]chan struct{}),
		getCalls:     make(map[string]int),
		upsertCalls:  make(map[string]int),
	}
}

func (f *fakeBackend) CurrentIdentity(ctx context.Context) (*Identity, error) {
	defer close(f.currentDone)
	f.mu.Lock()
	gate := f.currentGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return f.current.clone(), nil
}

func (f *fakeBackend) OnIdentityChange(callback func(IdentityChange)) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextListener++
	f.listeners[f.nextListener] = callback
	return fakeSubscription{backend: f, id: f.nextListener}
}

func (f *fakeBackend) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	f.mu.Lock()
	f.getCalls[userID]++
	gate := f.profileGates[userID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.profileErrs[userID]; err != nil {
		return nil, err
	}
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	profile, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (f *fakeBackend) UpsertProfile(ctx context.Context, userID string, fields ProfileFields) (Profile, error) {
	f.mu.Lock()
	f.upsertCalls[userID]++
	gate, entered, gatedErr := f.upsertGate, f.upsertEntered, f.gatedUpsertErr
	f.upsertGate, f.upsertEntered, f.gatedUpsertErr = nil, nil, nil
	f.mu.Unlock()
	if gate != nil {
		if entered != nil {
			close(entered)
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return Profile{}, ctx.Err()
		}
		return Profile{}, gatedErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return Profile{}, f.upsertErr
	}
	profile := Profile{UserID: userID, DisplayName: fields.DisplayName, Phone: fields.Phone}
	f.profiles[userID] = profile
	return profile, nil
}

func (f *fakeBackend) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return f.signOutErr
}

// emit delivers change synchronously to every registered listener.
func (f *fakeBackend) emit(change IdentityChange) {
	f.mu.Lock()
	callbacks := make([]func(IdentityChange), 0, len(f.listeners))
	for _, callback := range f.listeners {
		callbacks = append(callbacks, callback)
	}
	f.mu.Unlock()
	for _, callback := range callbacks {
		callback(change)
	}
}

func (f *fakeBackend) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeBackend) counts(userID string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls[userID], f.upsertCalls[userID]
}

func identityFixture(id, email string) *Identity {
	return &Identity{
		ID:        id,
		Email:     email,
		CreatedAt: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC),
	}
}

func mustController(t *testing.T, backend Backend, cfg Config) *Controller {
	t.Helper()
	cfg.Backend = backend
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("failed to construct controller: %v", err)
	}
	t.Cleanup(controller.Close)
	return controller
}

func mustStart(t *testing.T, controller *Controller) {
	t.Helper()
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("failed to start controller: %v", err)
	}
}

func waitForState(t *testing.T, controller *Controller, description string, predicate func(State) bool) State {
	t.Helper()
	subscription := controller.Subscribe(context.Background())
	defer subscription.Cancel()
	if state := controller.State(); predicate(state) {
		return state
	}
	deadline := time.After(time.Second)
	for {
		select {
		case state := <-subscription.Events():
			if predicate(state) {
				return state
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; last state %#v", description, controller.State())
			return State{}
		}
	}
}

func profileReady(state State) bool {
	return state.Phase() == PhaseProfileReady
}

func unauthenticated(state State) bool {
	return state.Phase() == PhaseUnauthenticated
}
