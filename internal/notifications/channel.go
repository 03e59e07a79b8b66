// Package notifications implements the admin notification feed shared by
// independent views. The durable copy is the only state; a payload-free
// "changed" signal tells every view to reload it.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/storefront/internal/pubsub"
	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
	"github.com/MarcoPoloResearchLab/storefront/internal/telemetry"
	"go.uber.org/zap"
)

// TopicChanged is the process-wide signal name broadcast after every save of the
// default feed. Feeds stored under other keys append ":<key>".
const TopicChanged = "notifications-changed"

const (
	feedSchema = "admin-notification-v1"

	opLoad = "notifications.load"
	opSave = "notifications.save"
)

var (
	// ErrNotificationNotFound indicates that no notification has the requested id.
	ErrNotificationNotFound = errors.New("notifications: notification not found")
	// ErrEmptyMessage indicates an attempt to add a notification without text.
	ErrEmptyMessage = errors.New("notifications: message required")

	errMissingStorage = errors.New("notifications: storage is required")
	noOpLogger        = zap.NewNop()
)

// Changed is the signal payload. It carries no data: receivers must reload.
type Changed struct{}

// ChannelConfig describes the dependencies of a Channel.
type ChannelConfig struct {
	Storage  storage.Storage
	Key      string
	Keyspace *storage.Keyspace
	Signals  *pubsub.Dispatcher[Changed]
	Seed     func() []Notification
	Logger   *zap.Logger
}

// Channel reads and writes one notification feed and broadcasts changes.
type Channel struct {
	mu      sync.Mutex
	storage storage.Storage
	key     string
	topic   string
	signals *pubsub.Dispatcher[Changed]
	seed    func() []Notification
	logger  *zap.Logger
}

// NewChannel constructs a channel over the configured feed key.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	key := cfg.Key
	if key == "" {
		key = storage.KeyNotifications
	}
	if err := cfg.Keyspace.Claim(key, feedSchema); err != nil {
		return nil, err
	}
	signals := cfg.Signals
	if signals == nil {
		signals = pubsub.NewDispatcher[Changed](1)
	}
	seed := cfg.Seed
	if seed == nil {
		seed = DefaultFeed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	topic := TopicChanged
	if key != storage.KeyNotifications {
		topic = TopicChanged + ":" + key
	}
	return &Channel{
		storage: cfg.Storage,
		key:     key,
		topic:   topic,
		signals: signals,
		seed:    seed,
		logger:  logger,
	}, nil
}

// Load reads the feed. When no durable copy exists the default feed is persisted and returned.
func (c *Channel) Load(ctx context.Context) ([]Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx)
}

// Save overwrites the feed and then broadcasts the changed signal.
func (c *Channel) Save(ctx context.Context, feed []Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(ctx, feed)
}

// Subscribe registers for changed signals. Receivers must call Load on every signal.
func (c *Channel) Subscribe(ctx context.Context) *pubsub.Subscription[Changed] {
	return c.signals.Subscribe(ctx, c.topic)
}

// MarkRead flags the notification with id as read.
func (c *Channel) MarkRead(ctx context.Context, id int) error {
	return c.modify(ctx, func(feed []Notification) ([]Notification, error) {
		for index := range feed {
			if feed[index].ID == id {
				feed[index].Read = true
				return feed, nil
			}
		}
		return nil, fmt.Errorf("%w: %d", ErrNotificationNotFound, id)
	})
}

// MarkAllRead flags every notification as read.
func (c *Channel) MarkAllRead(ctx context.Context) error {
	return c.modify(ctx, func(feed []Notification) ([]Notification, error) {
		for index := range feed {
			feed[index].Read = true
		}
		return feed, nil
	})
}

// Delete removes the notification with id.
func (c *Channel) Delete(ctx context.Context, id int) error {
	return c.modify(ctx, func(feed []Notification) ([]Notification, error) {
		for index := range feed {
			if feed[index].ID == id {
				return append(feed[:index], feed[index+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: %d", ErrNotificationNotFound, id)
	})
}

// Add prepends an unread notification and returns it with its assigned id.
func (c *Channel) Add(ctx context.Context, message, category, createdLabel string) (Notification, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Notification{}, ErrEmptyMessage
	}
	var added Notification
	err := c.modify(ctx, func(feed []Notification) ([]Notification, error) {
		added = Notification{
			ID:           nextID(feed),
			Message:      message,
			Category:     strings.TrimSpace(category),
			CreatedLabel: strings.TrimSpace(createdLabel),
		}
		return append([]Notification{added}, feed...), nil
	})
	if err != nil {
		return Notification{}, err
	}
	return added, nil
}

// UnreadCount returns the number of unread notifications.
func (c *Channel) UnreadCount(ctx context.Context) (int, error) {
	feed, err := c.Load(ctx)
	if err != nil {
		return 0, err
	}
	return unreadCount(feed), nil
}

// modify serializes a read-modify-write cycle so concurrent edits are never lost.
func (c *Channel) modify(ctx context.Context, apply func([]Notification) ([]Notification, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	feed, err := c.loadLocked(ctx)
	if err != nil {
		return err
	}
	updated, err := apply(feed)
	if err != nil {
		return err
	}
	return c.saveLocked(ctx, updated)
}

func (c *Channel) loadLocked(ctx context.Context) ([]Notification, error) {
	var feed []Notification
	found, err := storage.LoadJSON(ctx, c.storage, c.key, &feed)
	if err != nil {
		c.logError(opLoad, "load_failed", err)
		return nil, err
	}
	if found {
		if feed == nil {
			feed = []Notification{}
		}
		return feed, nil
	}
	seeded := c.seed()
	if err := storage.SaveJSON(ctx, c.storage, c.key, seeded); err != nil {
		telemetry.StorageWriteFailure(c.key)
		c.logError(opLoad, "seed_write_failed", err)
	}
	return seeded, nil
}

// saveLocked broadcasts only after the durable write has completed, so a
// subscriber that reloads on the signal observes the new feed.
func (c *Channel) saveLocked(ctx context.Context, feed []Notification) error {
	if feed == nil {
		feed = []Notification{}
	}
	if err := storage.SaveJSON(ctx, c.storage, c.key, feed); err != nil {
		telemetry.StorageWriteFailure(c.key)
		c.logError(opSave, "write_failed", err, zap.Int("count", len(feed)))
		return err
	}
	c.signals.Publish(c.topic, Changed{})
	telemetry.NotificationBroadcast()
	return nil
}

func (c *Channel) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("key", c.key),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("notification channel error", attrs...)
}
