package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Notifier wraps LISTEN/NOTIFY.  Reports are announced on Channel with the
// session ID as payload, and the clinician stream listens for them.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	Log     *zap.Logger
}

// NewNotifier constructs a Notifier.  dsn is used to open the dedicated
// listening connection.
func NewNotifier(db *sql.DB, dsn, channel string, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{DB: db, DSN: dsn, Channel: channel, Log: log}
}

// Notify sends payload on the channel.
func (n *Notifier) Notify(ctx context.Context, payload string) error {
	// pg_notify takes the channel as a value, so no identifier quoting is needed
	_, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, payload)
	return err
}

// Listen delivers payloads until ctx is done, then closes the channel.  The
// underlying pq.Listener reconnects by itself; after a reconnect a nil
// notification arrives and is skipped.
func (n *Notifier) Listen(ctx context.Context) (<-chan string, error) {
	listener := pq.NewListener(n.DSN, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.Log.Warn("notification listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(n.Channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("db: listen %q: %w", n.Channel, err)
	}

	out := make(chan string)
	go func() {
		defer func() {
			_ = listener.Close()
			close(out)
		}()
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-listener.Notify:
				if note == nil {
					continue
				}
				select {
				case out <- note.Extra:
				case <-ctx.Done():
					return
				}
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					n.Log.Warn("notification listener ping", zap.Error(err))
				}
			}
		}
	}()
	return out, nil
}
