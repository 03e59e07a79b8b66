package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/storefront/internal/auth"
	"github.com/MarcoPoloResearchLab/storefront/internal/backend"
	"github.com/MarcoPoloResearchLab/storefront/internal/collection"
	"github.com/MarcoPoloResearchLab/storefront/internal/config"
	"github.com/MarcoPoloResearchLab/storefront/internal/database"
	"github.com/MarcoPoloResearchLab/storefront/internal/logging"
	"github.com/MarcoPoloResearchLab/storefront/internal/notifications"
	"github.com/MarcoPoloResearchLab/storefront/internal/session"
	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const memoryDatabasePath = "file:storefront?mode=memory&cache=shared"

// runtime owns every long-lived component of one process.
type runtime struct {
	config        config.AppConfig
	logger        *zap.Logger
	db            *gorm.DB
	storage       storage.Storage
	cart          *collection.Cart
	wishlist      *collection.Wishlist
	notifications *notifications.Channel
	backend       *backend.Local
	controller    *session.Controller
	closers       []func() error
}

func openRuntime() (*runtime, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &runtime{config: appConfig, logger: logging.OrNop(logger)}
	rt.closers = append(rt.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	if err := rt.openStorage(); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.buildComponents(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// openStorage opens the SQLite database that always holds accounts and picks
// the durable store for collections according to the configured driver.
func (rt *runtime) openStorage() error {
	databasePath := rt.config.DatabasePath
	if rt.config.StorageDriver == config.StorageDriverMemory {
		databasePath = memoryDatabasePath
	}
	db, err := database.OpenSQLite(databasePath, rt.logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	rt.db = db
	rt.closers = append(rt.closers, sqlDB.Close)

	switch rt.config.StorageDriver {
	case config.StorageDriverRedis:
		client := storage.NewRedisClient(storage.RedisConfig{
			Address:  rt.config.RedisAddress,
			Password: rt.config.RedisPassword,
			DB:       rt.config.RedisDB,
		})
		rt.closers = append(rt.closers, client.Close)
		store, err := storage.NewRedisStorage(client, rt.config.RedisKeyPrefix)
		if err != nil {
			return err
		}
		rt.storage = store
	case config.StorageDriverMemory:
		rt.storage = storage.NewMemoryStorage()
	default:
		store, err := storage.NewSQLiteStorage(db, time.Now)
		if err != nil {
			return err
		}
		rt.storage = store
	}
	rt.logger.Info("durable storage ready", zap.String("driver", rt.config.StorageDriver))
	return nil
}

func (rt *runtime) buildComponents() error {
	keyspace := storage.NewKeyspace()

	cart, err := collection.NewCart(collection.CartConfig{Storage: rt.storage, Keyspace: keyspace, Logger: rt.logger})
	if err != nil {
		return err
	}
	wishlist, err := collection.NewWishlist(collection.WishlistConfig{Storage: rt.storage, Keyspace: keyspace, Logger: rt.logger})
	if err != nil {
		return err
	}
	channel, err := notifications.NewChannel(notifications.ChannelConfig{Storage: rt.storage, Keyspace: keyspace, Logger: rt.logger})
	if err != nil {
		return err
	}

	signingSecret := []byte(rt.config.SessionSigningSecret)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: signingSecret,
		Issuer:        rt.config.SessionIssuer,
		TokenTTL:      rt.config.SessionTokenTTL,
	})
	if err != nil {
		return err
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: signingSecret,
		Issuer:        rt.config.SessionIssuer,
	})
	if err != nil {
		return err
	}
	local, err := backend.New(backend.Config{
		Database:  rt.db,
		Storage:   rt.storage,
		Keyspace:  keyspace,
		Issuer:    issuer,
		Validator: validator,
		Logger:    rt.logger,
	})
	if err != nil {
		return err
	}
	controller, err := session.NewController(session.Config{
		Backend:         local,
		MinLoadingDelay: rt.config.MinLoadingDelay,
		Logger:          rt.logger,
	})
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func() error {
		controller.Close()
		return nil
	})

	rt.cart = cart
	rt.wishlist = wishlist
	rt.notifications = channel
	rt.backend = local
	rt.controller = controller
	return nil
}

// hydrate loads both collections before a one-shot command touches them.
func (rt *runtime) hydrate(ctx context.Context) error {
	if err := rt.cart.Hydrate(ctx); err != nil {
		return err
	}
	return rt.wishlist.Hydrate(ctx)
}

// resolveSession starts the controller and waits until identity and, when
// signed in, the profile have settled.
func (rt *runtime) resolveSession(ctx context.Context) (session.State, error) {
	if err := rt.controller.Start(ctx); err != nil {
		return session.State{}, err
	}
	state, err := rt.controller.WaitReady(ctx)
	if err != nil {
		return state, err
	}
	if state.Authenticated() {
		rt.controller.RefreshProfile(ctx)
	}
	return rt.controller.State(), nil
}

func (rt *runtime) Close() {
	for index := len(rt.closers) - 1; index >= 0; index-- {
		if err := rt.closers[index](); err != nil {
			rt.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
