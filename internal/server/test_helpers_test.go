package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/storefront/internal/collection"
	"github.com/MarcoPoloResearchLab/storefront/internal/notifications"
	"github.com/MarcoPoloResearchLab/storefront/internal/pubsub"
	"github.com/MarcoPoloResearchLab/storefront/internal/session"
	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
	"github.com/gin-gonic/gin"
)

const stubSessionTopic = "state"

type stubSession struct {
	mu           sync.Mutex
	state        session.State
	dispatcher   *pubsub.Dispatcher[session.State]
	signOutCalls int
	updateErr    error
}

func newStubSession(state session.State) *stubSession {
	return &stubSession{state: state, dispatcher: pubsub.NewDispatcher[session.State](8)}
}

func (s *stubSession) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubSession) Subscribe(ctx context.Context) *pubsub.Subscription[session.State] {
	return s.dispatcher.Subscribe(ctx, stubSessionTopic)
}

func (s *stubSession) SignOut(context.Context) {
	s.mu.Lock()
	s.signOutCalls++
	s.state = session.State{}
	state := s.state
	s.mu.Unlock()
	s.dispatcher.Publish(stubSessionTopic, state)
}

func (s *stubSession) UpdateProfile(_ context.Context, fields session.ProfileFields) (session.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return session.Profile{}, s.updateErr
	}
	if fields.DisplayName == "" {
		return session.Profile{}, session.ErrInvalidProfile
	}
	if s.state.Identity == nil {
		return session.Profile{}, session.ErrNoSession
	}
	profile := session.Profile{UserID: s.state.Identity.ID, DisplayName: fields.DisplayName, Phone: fields.Phone}
	s.state.Profile = &profile
	return profile, nil
}

func (s *stubSession) set(state session.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.dispatcher.Publish(stubSessionTopic, state)
}

type serverHarness struct {
	handler  http.Handler
	cart     *collection.Cart
	wishlist *collection.Wishlist
	session  *stubSession
}

func newServerHarness(t *testing.T, state session.State) serverHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStorage()
	keyspace := storage.NewKeyspace()
	cart, err := collection.NewCart(collection.CartConfig{Storage: store, Keyspace: keyspace})
	if err != nil {
		t.Fatalf("failed to construct cart: %v", err)
	}
	wishlist, err := collection.NewWishlist(collection.WishlistConfig{Storage: store, Keyspace: keyspace})
	if err != nil {
		t.Fatalf("failed to construct wishlist: %v", err)
	}
	for _, hydrate := range []func(context.Context) error{cart.Hydrate, wishlist.Hydrate} {
		if err := hydrate(context.Background()); err != nil {
			t.Fatalf("failed to hydrate: %v", err)
		}
	}
	channel, err := notifications.NewChannel(notifications.ChannelConfig{Storage: store, Keyspace: keyspace})
	if err != nil {
		t.Fatalf("failed to construct notification channel: %v", err)
	}

	controller := newStubSession(state)
	handler, err := NewHTTPHandler(Dependencies{
		Cart:          cart,
		Wishlist:      wishlist,
		Notifications: channel,
		Session:       controller,
		SignInPath:    "/login",
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return serverHarness{handler: handler, cart: cart, wishlist: wishlist, session: controller}
}

func (h serverHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

var signedInState = session.State{
	Identity: &session.Identity{ID: "user-1", Email: "alice@example.com"},
	Profile:  &session.Profile{UserID: "user-1", DisplayName: "Alice"},
}
