package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/storefront/internal/collection"
	"github.com/MarcoPoloResearchLab/storefront/internal/guard"
	"github.com/MarcoPoloResearchLab/storefront/internal/notifications"
	"github.com/MarcoPoloResearchLab/storefront/internal/session"
	"github.com/MarcoPoloResearchLab/storefront/internal/telemetry"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultSignInPath = "/login"

var (
	errMissingCart          = errors.New("cart dependency required")
	errMissingWishlist      = errors.New("wishlist dependency required")
	errMissingNotifications = errors.New("notification channel dependency required")
	errMissingSession       = errors.New("session controller dependency required")
)

// SessionController is the identity state the HTTP surface reads and drives.
// *session.Controller satisfies it.
type SessionController interface {
	guard.StateSource
	SignOut(ctx context.Context)
	UpdateProfile(ctx context.Context, fields session.ProfileFields) (session.Profile, error)
}

// AccountBackend registers accounts and starts sessions from tokens.
type AccountBackend interface {
	Register(ctx context.Context, email string, metadata map[string]any) (session.Identity, string, error)
	SignIn(ctx context.Context, token string) (session.Identity, error)
}

type Dependencies struct {
	Cart          *collection.Cart
	Wishlist      *collection.Wishlist
	Notifications *notifications.Channel
	Session       SessionController
	// Accounts is optional; without it the register and sign-in routes are not mounted.
	Accounts          AccountBackend
	SignInPath        string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Cart == nil:
		return nil, errMissingCart
	case deps.Wishlist == nil:
		return nil, errMissingWishlist
	case deps.Notifications == nil:
		return nil, errMissingNotifications
	case deps.Session == nil:
		return nil, errMissingSession
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	signInPath := deps.SignInPath
	if signInPath == "" {
		signInPath = defaultSignInPath
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		cart:          deps.Cart,
		wishlist:      deps.Wishlist,
		notifications: deps.Notifications,
		session:       deps.Session,
		accounts:      deps.Accounts,
		heartbeat:     heartbeat,
		logger:        logger,
	}

	router.GET("/metrics", gin.WrapH(telemetry.Handler()))
	router.GET("/events", handler.handleEventStream)

	router.GET("/session", handler.handleSessionState)
	router.POST("/session/signout", handler.handleSignOut)
	if deps.Accounts != nil {
		router.POST("/session/register", handler.handleRegister)
		router.POST("/session/signin", handler.handleSignIn)
	}

	account := router.Group("/account")
	account.Use(guard.Middleware(deps.Session, signInPath))
	account.GET("", handler.handleAccount)
	account.PUT("/profile", handler.handleUpdateProfile)

	router.GET("/cart", handler.handleGetCart)
	router.POST("/cart", handler.handleAddToCart)
	router.PUT("/cart/items", handler.handleSetCartQuantity)
	router.DELETE("/cart/items", handler.handleRemoveFromCart)
	router.DELETE("/cart", handler.handleClearCart)

	router.GET("/wishlist", handler.handleGetWishlist)
	router.POST("/wishlist", handler.handleAddToWishlist)
	router.POST("/wishlist/toggle", handler.handleToggleWishlist)
	router.DELETE("/wishlist/:productID", handler.handleRemoveFromWishlist)
	router.DELETE("/wishlist", handler.handleClearWishlist)

	router.GET("/notifications", handler.handleListNotifications)
	router.POST("/notifications", handler.handleAddNotification)
	router.POST("/notifications/read", handler.handleMarkAllRead)
	router.POST("/notifications/:id/read", handler.handleMarkRead)
	router.DELETE("/notifications/:id", handler.handleDeleteNotification)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	cart          *collection.Cart
	wishlist      *collection.Wishlist
	notifications *notifications.Channel
	session       SessionController
	accounts      AccountBackend
	heartbeat     time.Duration
	logger        *zap.Logger
}

type sessionStatePayload struct {
	Phase    string            `json:"phase"`
	Loading  bool              `json:"loading"`
	Identity *session.Identity `json:"identity"`
	Profile  *session.Profile  `json:"profile"`
}

func newSessionStatePayload(state session.State) sessionStatePayload {
	return sessionStatePayload{
		Phase:    string(state.Phase()),
		Loading:  state.Loading,
		Identity: state.Identity,
		Profile:  state.Profile,
	}
}

func (h *httpHandler) handleSessionState(c *gin.Context) {
	c.JSON(http.StatusOK, newSessionStatePayload(h.session.State()))
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	h.session.SignOut(c.Request.Context())
	c.JSON(http.StatusOK, newSessionStatePayload(h.session.State()))
}

type registerRequestPayload struct {
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata"`
}

type signInResponsePayload struct {
	Identity    session.Identity `json:"identity"`
	AccessToken string           `json:"access_token,omitempty"`
	TokenType   string           `json:"token_type,omitempty"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	identity, token, err := h.accounts.Register(c.Request.Context(), request.Email, request.Metadata)
	if err != nil {
		h.logger.Warn("account registration failed", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": "registration_failed"})
		return
	}
	c.JSON(http.StatusCreated, signInResponsePayload{Identity: identity, AccessToken: token, TokenType: "Bearer"})
}

type signInRequestPayload struct {
	Token string `json:"token"`
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	identity, err := h.accounts.SignIn(c.Request.Context(), request.Token)
	if err != nil {
		if session.IsNoSession(err) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("sign in failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "sign_in_failed"})
		return
	}
	c.JSON(http.StatusOK, signInResponsePayload{Identity: identity})
}

func (h *httpHandler) handleAccount(c *gin.Context) {
	c.JSON(http.StatusOK, newSessionStatePayload(h.session.State()))
}

type profileRequestPayload struct {
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request profileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.session.UpdateProfile(c.Request.Context(), session.ProfileFields{
		DisplayName: request.DisplayName,
		Phone:       request.Phone,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, profile)
	case errors.Is(err, session.ErrInvalidProfile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "display_name_required"})
	case session.IsNoSession(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "profile_save_failed"})
	}
}

type cartPayload struct {
	Hydrated   bool                  `json:"hydrated"`
	Items      []collection.CartItem `json:"items"`
	Units      int                   `json:"units"`
	TotalCents int64                 `json:"total_cents"`
}

func (h *httpHandler) cartPayload() cartPayload {
	return cartPayload{
		Hydrated:   h.cart.Hydrated(),
		Items:      h.cart.Items(),
		Units:      h.cart.Units(),
		TotalCents: h.cart.TotalCents(),
	}
}

func (h *httpHandler) handleGetCart(c *gin.Context) {
	c.JSON(http.StatusOK, h.cartPayload())
}

type cartLinePayload struct {
	Product   collection.Product `json:"product"`
	ProductID string             `json:"product_id"`
	Size      string             `json:"size"`
	Color     string             `json:"color"`
	Quantity  int                `json:"quantity"`
}

func (h *httpHandler) handleAddToCart(c *gin.Context) {
	var request cartLinePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Quantity == 0 {
		request.Quantity = 1
	}
	if err := h.cart.AddItem(c.Request.Context(), request.Product, request.Size, request.Color, request.Quantity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.cartPayload())
}

func (h *httpHandler) handleSetCartQuantity(c *gin.Context) {
	var request cartLinePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ProductID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	key := collection.CartKey(request.ProductID, request.Size, request.Color)
	if !h.cart.SetQuantity(c.Request.Context(), key, request.Quantity) {
		c.JSON(http.StatusNotFound, gin.H{"error": "line_not_found"})
		return
	}
	c.JSON(http.StatusOK, h.cartPayload())
}

func (h *httpHandler) handleRemoveFromCart(c *gin.Context) {
	key := collection.CartKey(c.Query("product_id"), c.Query("size"), c.Query("color"))
	h.cart.Remove(c.Request.Context(), key)
	c.JSON(http.StatusOK, h.cartPayload())
}

func (h *httpHandler) handleClearCart(c *gin.Context) {
	h.cart.Clear(c.Request.Context())
	c.JSON(http.StatusOK, h.cartPayload())
}

type wishlistPayload struct {
	Hydrated bool                      `json:"hydrated"`
	Items    []collection.WishlistItem `json:"items"`
	Count    int                       `json:"count"`
}

func (h *httpHandler) wishlistPayload() wishlistPayload {
	items := h.wishlist.Items()
	return wishlistPayload{
		Hydrated: h.wishlist.Hydrated(),
		Items:    items,
		Count:    len(items),
	}
}

func (h *httpHandler) handleGetWishlist(c *gin.Context) {
	c.JSON(http.StatusOK, h.wishlistPayload())
}

type wishlistRequestPayload struct {
	Product collection.Product `json:"product"`
}

func (h *httpHandler) handleAddToWishlist(c *gin.Context) {
	var request wishlistRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if _, err := h.wishlist.AddProduct(c.Request.Context(), request.Product); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.wishlistPayload())
}

func (h *httpHandler) handleToggleWishlist(c *gin.Context) {
	var request wishlistRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	saved, err := h.wishlist.Toggle(c.Request.Context(), request.Product)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": saved, "wishlist": h.wishlistPayload()})
}

func (h *httpHandler) handleRemoveFromWishlist(c *gin.Context) {
	h.wishlist.Remove(c.Request.Context(), c.Param("productID"))
	c.JSON(http.StatusOK, h.wishlistPayload())
}

func (h *httpHandler) handleClearWishlist(c *gin.Context) {
	h.wishlist.Clear(c.Request.Context())
	c.JSON(http.StatusOK, h.wishlistPayload())
}

type notificationsPayload struct {
	Items  []notifications.Notification `json:"items"`
	Unread int                          `json:"unread"`
}

func (h *httpHandler) respondWithFeed(c *gin.Context) {
	feed, err := h.notifications.Load(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notifications_unavailable"})
		return
	}
	unread := 0
	for _, notification := range feed {
		if !notification.Read {
			unread++
		}
	}
	c.JSON(http.StatusOK, notificationsPayload{Items: feed, Unread: unread})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	h.respondWithFeed(c)
}

type notificationRequestPayload struct {
	Message  string `json:"message"`
	Category string `json:"type"`
	Label    string `json:"time"`
}

func (h *httpHandler) handleAddNotification(c *gin.Context) {
	var request notificationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if _, err := h.notifications.Add(c.Request.Context(), request.Message, request.Category, request.Label); err != nil {
		h.respondWithNotificationError(c, err)
		return
	}
	h.respondWithFeed(c)
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	if err := h.notifications.MarkAllRead(c.Request.Context()); err != nil {
		h.respondWithNotificationError(c, err)
		return
	}
	h.respondWithFeed(c)
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	id, ok := parseNotificationID(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), id); err != nil {
		h.respondWithNotificationError(c, err)
		return
	}
	h.respondWithFeed(c)
}

func (h *httpHandler) handleDeleteNotification(c *gin.Context) {
	id, ok := parseNotificationID(c)
	if !ok {
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), id); err != nil {
		h.respondWithNotificationError(c, err)
		return
	}
	h.respondWithFeed(c)
}

func (h *httpHandler) respondWithNotificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notifications.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification_not_found"})
	case errors.Is(err, notifications.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_required"})
	default:
		h.logger.Error("notification update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notification_update_failed"})
	}
}

func parseNotificationID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_notification_id"})
		return 0, false
	}
	return id, true
}
