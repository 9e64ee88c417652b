package group

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/internal/logging"
)

var log = logging.GetLogger("group")

// waitTimeout bounds each WaitForNotification call so the listen loop can
// periodically check for shutdown; it does not bound delivery latency.
const waitTimeout = 5 * time.Second

// Channel is a LISTEN/NOTIFY subscription for one group's wire. Listening
// requires a connection held for the channel's whole lifetime, so Channel
// acquires and keeps one dedicated pool connection; Publish uses the shared
// pool instead.
type Channel struct {
	pool    *pgxpool.Pool
	name    string
	conn    *pgxpool.Conn
	handler func(Payload)
	stop    chan struct{}
	wg      sync.WaitGroup
}

// openChannel acquires a dedicated connection, issues LISTEN, and starts the
// background loop that delivers decoded payloads to handler.
func openChannel(ctx context.Context, pool *pgxpool.Pool, groupName string, handler func(Payload)) (*Channel, error) {
	name := ChannelName(groupName)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, errs.ResourceUnavailable("acquire listener connection", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", pgx.Identifier{name}.Sanitize())); err != nil {
		conn.Release()
		return nil, errs.Internal("listen on channel", err)
	}

	c := &Channel{
		pool:    pool,
		name:    name,
		conn:    conn,
		handler: handler,
		stop:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c, nil
}

func (c *Channel) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		notification, err := c.conn.Conn().WaitForNotification(ctx)
		cancel()
		if err != nil {
			// Deadline exceeded is the normal polling case; any other error
			// (e.g. a dropped connection) still just loops back to retry
			// rather than tearing down the listener on its own.
			continue
		}
		payload, err := decodePayload(notification.Payload)
		if err != nil {
			log.Warn("dropping malformed channel payload", "channel", c.name, "error", err)
			continue
		}
		c.handler(payload)
	}
}

// Publish encodes and sends payload on the channel via the shared pool.
func (c *Channel) Publish(ctx context.Context, payload Payload) error {
	encoded, err := encodePayload(payload)
	if err != nil {
		return errs.Internal("encode channel payload", err)
	}
	if _, err := c.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, c.name, encoded); err != nil {
		return errs.ResourceUnavailable("notify channel", err)
	}
	return nil
}

// Shutdown stops the listen loop and releases the dedicated connection.
func (c *Channel) Shutdown() {
	close(c.stop)
	c.wg.Wait()
	c.conn.Release()
}
