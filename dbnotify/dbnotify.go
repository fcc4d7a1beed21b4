/*
Package dbnotify relays Postgres NOTIFY events to in-process caches.

Triggers installed by the state migrations send {"table": ..., "op": ...}
on the channel <table>_changes whenever a watched table is written.  Every
app server listens, so a write made through any of them (or by the admin
CLI) reaches every cache.
*/
package dbnotify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ts4z/cyclepot/varz"
)

const (
	sleepOnErrorTime = 5 * time.Second
)

var (
	notificationsReceived = varz.NewCounterVec("notifications_total", "Database change notifications by table.", "table")
	listenErrors          = varz.NewCounter("listen_errors_total", "Times the notification listener had to reconnect.")
)

type NotificationEvent struct {
	Table string `json:"table"`
	Op    string `json:"op"`
}

// Consumer receives events for one table.
type Consumer interface {
	TableName() string
	Consume(ctx context.Context, event *NotificationEvent)
}

type DBNotifyListener struct {
	db                  *sql.DB
	tableNameToConsumer map[string][]Consumer
}

func NewDBNotifyListener(db *sql.DB, consumers ...Consumer) *DBNotifyListener {
	m := map[string][]Consumer{}
	for _, c := range consumers {
		m[c.TableName()] = append(m[c.TableName()], c)
	}
	return &DBNotifyListener{db: db, tableNameToConsumer: m}
}

// Channels lists the LISTEN channels, one per consumed table.
func (cl *DBNotifyListener) Channels() []string {
	channels := []string{}
	for table := range cl.tableNameToConsumer {
		channels = append(channels, fmt.Sprintf("%s_changes", table))
	}
	return channels
}

// ParseEvent decodes a notification payload.
func ParseEvent(payload string) (*NotificationEvent, error) {
	event := &NotificationEvent{}
	if err := json.Unmarshal([]byte(payload), event); err != nil {
		return nil, fmt.Errorf("can't unmarshal notification payload %q: %w", payload, err)
	}
	if event.Table == "" {
		return nil, fmt.Errorf("notification payload %q names no table", payload)
	}
	return event, nil
}

// Dispatch hands event to every consumer of its table.
func (cl *DBNotifyListener) Dispatch(ctx context.Context, event *NotificationEvent) {
	consumers, ok := cl.tableNameToConsumer[event.Table]
	if !ok {
		slog.Warn("no consumer for table", "table", event.Table)
		return
	}
	notificationsReceived.WithLabelValues(event.Table).Inc()
	for _, c := range consumers {
		c.Consume(ctx, event)
	}
}

// Run listens until ctx is done, reconnecting after errors.  Consumers are
// told about a reconnect as if their table had changed, since events may
// have been missed.
func (cl *DBNotifyListener) Run(ctx context.Context) error {
	for {
		err := cl.Listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		listenErrors.Inc()
		slog.Warn("notification listener failed, will retry", "error", err, "after", sleepOnErrorTime)
		for table := range cl.tableNameToConsumer {
			cl.Dispatch(ctx, &NotificationEvent{Table: table, Op: "RECONNECT"})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleepOnErrorTime):
		}
	}
}

// Listen holds one connection and dispatches notifications until ctx is
// done or the connection fails.
func (cl *DBNotifyListener) Listen(ctx context.Context) error {
	conn, err := cl.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var pgxConn *stdlib.Conn
	err = conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("driver connection is %T, not pgx", driverConn)
		}
		pgxConn = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to get pgx connection: %w", err)
	}

	for _, channel := range cl.Channels() {
		if _, err := pgxConn.Conn().Exec(ctx, fmt.Sprintf("LISTEN %s", channel)); err != nil {
			return fmt.Errorf("failed to listen on channel %s: %w", channel, err)
		}
	}
	slog.Info("listening for db notifications", "channels", cl.Channels())

	for {
		var notification *pgconn.Notification
		notification, err = pgxConn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("error waiting for notification: %w", err)
		}

		slog.Debug("received db notification", "pid", notification.PID, "channel", notification.Channel, "payload", notification.Payload)

		event, err := ParseEvent(notification.Payload)
		if err != nil {
			slog.Warn("dropping notification", "error", err)
			continue
		}
		cl.Dispatch(ctx, event)
	}
}
