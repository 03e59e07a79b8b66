package notifications

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// View is one consumer's local copy of the feed. It reloads the whole feed on
// every changed signal and never patches its copy in place.
type View struct {
	channel *Channel
	cancel  context.CancelFunc
	done    chan struct{}
	updated chan struct{}

	mu     sync.RWMutex
	feed   []Notification
	closed bool
}

// OpenView loads the feed and keeps the returned view current until Close is
// called or ctx is done.
func (c *Channel) OpenView(ctx context.Context) (*View, error) {
	viewCtx, cancel := context.WithCancel(ctx)
	subscription := c.Subscribe(viewCtx)
	feed, err := c.Load(viewCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	view := &View{
		channel: c,
		cancel:  cancel,
		done:    make(chan struct{}),
		updated: make(chan struct{}, 1),
		feed:    feed,
	}
	go view.follow(viewCtx, subscription.Events())
	return view, nil
}

// Items returns a copy of the view's current feed.
func (v *View) Items() []Notification {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]Notification(nil), v.feed...)
}

// UnreadCount counts unread notifications in the view's copy.
func (v *View) UnreadCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return unreadCount(v.feed)
}

// Updated is signalled each time the view replaces its copy.
func (v *View) Updated() <-chan struct{} {
	return v.updated
}

// Close stops following the channel. Reloads still in flight are discarded.
func (v *View) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	v.cancel()
	<-v.done
}

func (v *View) follow(ctx context.Context, signals <-chan Changed) {
	defer close(v.done)
	for range signals {
		feed, err := v.channel.Load(ctx)
		if err != nil {
			if ctx.Err() == nil {
				v.channel.logger.Warn("notification view reload failed", zap.Error(err))
			}
			continue
		}
		if !v.replace(feed) {
			return
		}
	}
}

func (v *View) replace(feed []Notification) bool {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false
	}
	v.feed = feed
	v.mu.Unlock()
	select {
	case v.updated <- struct{}{}:
	default:
	}
	return true
}
