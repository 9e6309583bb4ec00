package signal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"djlive/internal/core/domain"
	"djlive/internal/core/ports"
	"djlive/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is the agent-side end of the signaling channel. Both the
// broadcaster agent and listener clients talk to the relay through it; the
// relay does the routing, so SendTo and Broadcast differ only in addressing.
type Client struct {
	relayURL string
	token    string
	logger   *zap.SugaredLogger

	retryCfg retry.Config

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]func(ctx context.Context, env domain.Envelope)
	done     chan struct{}

	writeTimeout time.Duration
}

var _ ports.SignalSender = (*Client)(nil)

func NewClient(relayURL, token string, retryCfg retry.Config, logger *zap.SugaredLogger) *Client {
	return &Client{
		relayURL:     relayURL,
		token:        token,
		logger:       logger,
		retryCfg:     retryCfg,
		handlers:     make(map[string]func(ctx context.Context, env domain.Envelope)),
		writeTimeout: 10 * time.Second,
	}
}

// On registers a handler for one envelope type. Registration must happen
// before Connect; the read loop dispatches without additional locking.
func (c *Client) On(msgType string, fn func(ctx context.Context, env domain.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = fn
}

// Connect dials the relay, retrying with backoff on transient failures.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.relayURL)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	err = retry.Retry(ctx, c.retryCfg, func() error {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			c.logger.Warnw("relay dial failed", "error", err)
			return err
		}
		c.mu.Lock()
		c.conn = conn
		c.done = make(chan struct{})
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.logger.Infow("connected to relay", "url", c.relayURL)

	go c.readLoop()
	return nil
}

func (c *Client) readLoop() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	defer close(done)

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("relay read error", "error", err)
			}
			return
		}

		c.mu.Lock()
		fn, ok := c.handlers[env.Type]
		c.mu.Unlock()
		if !ok {
			c.logger.Debugw("unhandled envelope type", "type", env.Type)
			continue
		}
		fn(context.Background(), env)
	}
}

// Done is closed when the relay connection drops.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Client) send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return domain.ErrPartyNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(env)
}

// SendTo addresses an envelope to one party; the relay routes it.
func (c *Client) SendTo(ctx context.Context, target domain.PartyID, env domain.Envelope) error {
	env.TargetID = target
	return c.send(env)
}

// Broadcast hands an unaddressed envelope to the relay for fan-out.
func (c *Client) Broadcast(ctx context.Context, env domain.Envelope) error {
	env.TargetID = ""
	return c.send(env)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}
