// Package firehose maintains the websocket subscription to the
// Jetstream event stream: dialing, the read loop, idle detection and
// cursored reconnects.
package firehose

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// readIdleTimeout bounds the wait for the next frame. A connection this
// quiet is assumed degraded and replaced.
const readIdleTimeout = 2 * time.Second

// cursorRewind is subtracted from the current time on reconnect, so
// events in flight when the old connection died are replayed.
const cursorRewind = 2 * time.Second

// Handler consumes one raw frame payload. Errors are logged and the
// frame dropped; they never stop the read loop.
type Handler func(ctx context.Context, payload []byte) error

// Client is the reconnecting Jetstream consumer.
type Client struct {
	base     string
	compress bool
	handler  Handler
	dialer   *websocket.Dialer
}

// NewClient creates a client for the given subscribe endpoint, e.g.
// wss://jetstream1.us-east.bsky.network/subscribe. With compress set
// the server is asked for zstd frames, which are passed to the handler
// as delivered.
func NewClient(base string, compress bool, handler Handler) *Client {
	return &Client{
		base:     base,
		compress: compress,
		handler:  handler,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// subscribeURL builds the dial URL. Reconnects rewind the cursor so the
// stream overlaps with what was already seen; the graph layer absorbs
// the duplicates.
func (c *Client) subscribeURL(withCursor bool) (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("firehose: parse endpoint %q: %w", c.base, err)
	}
	q := u.Query()
	q.Add("wantedCollections", "app.bsky.graph.*")
	q.Add("wantedCollections", "app.bsky.feed.*")
	q.Set("compress", strconv.FormatBool(c.compress))
	if withCursor {
		cursor := time.Now().Add(-cursorRewind).UnixMicro()
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and consumes frames until the context is cancelled. A
// failure on the very first dial is returned so startup can abort;
// after that the client reconnects forever with capped exponential
// backoff.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	connected := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		dialURL, err := c.subscribeURL(connected)
		if err != nil {
			return err
		}
		conn, _, err := c.dialer.DialContext(ctx, dialURL, nil)
		if err != nil {
			if !connected {
				return fmt.Errorf("firehose: dial %s: %w", c.base, err)
			}
			log.Printf("Error reconnecting to firehose: %v", err)
			if !sleep(ctx, bo.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		if connected {
			log.Println("Reconnected to firehose")
		} else {
			log.Println("Connected to firehose")
		}
		connected = true
		bo.Reset()

		err = c.consume(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("Firehose read ended: %v; reconnecting", err)
		if !sleep(ctx, bo.NextBackOff()) {
			return ctx.Err()
		}
	}
}

// consume reads frames until the connection dies or the context is
// cancelled. Every read gets a fresh idle deadline.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readIdleTimeout)); err != nil {
			return err
		}
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := c.handler(ctx, payload); err != nil {
			log.Printf("Error handling event: %v", err)
		}
	}
}

// sleep waits d or until the context is cancelled, reporting whether
// the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
