// Package relay streams input events to a remote sink over a websocket and
// accepts display commands back on the same connection.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openclaw/remarkable-hal/internal/input"
	"github.com/rs/zerolog"
)

var ErrNotConnected = errors.New("relay: not connected")

type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type CommandHandler func(ctx context.Context, req CommandRequest) (interface{}, error)

const (
	defaultMinBackoff   = time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultPingInterval = 30 * time.Second
	readTimeout         = 60 * time.Second
	writeTimeout        = 5 * time.Second
)

type Config struct {
	URL    string
	Header http.Header
	// Dialer defaults to a plain net.Dialer.
	Dialer    DialContextFunc
	Hello     Hello
	OnCommand CommandHandler
	Logger    zerolog.Logger

	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	PingInterval time.Duration
}

type Client struct {
	url          string
	header       http.Header
	dialer       DialContextFunc
	hello        Hello
	onCommand    CommandHandler
	logger       zerolog.Logger
	minBackoff   time.Duration
	maxBackoff   time.Duration
	pingInterval time.Duration

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func New(cfg Config) *Client {
	if cfg.Dialer == nil {
		var d net.Dialer
		cfg.Dialer = d.DialContext
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &Client{
		url:          cfg.URL,
		header:       cfg.Header,
		dialer:       cfg.Dialer,
		hello:        cfg.Hello,
		onCommand:    cfg.OnCommand,
		logger:       cfg.Logger,
		minBackoff:   cfg.MinBackoff,
		maxBackoff:   cfg.MaxBackoff,
		pingInterval: cfg.PingInterval,
	}
}

// Run keeps a connection to the sink until ctx is done, reconnecting with
// exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	if c.url == "" {
		return errors.New("relay: url required")
	}
	backoff := c.minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := c.connect(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Dur("retry", backoff).Msg("relay connect failed")
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			if backoff *= 2; backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			continue
		}
		backoff = c.minBackoff
		c.setConn(conn)
		c.logger.Info().Str("url", c.url).Msg("relay connected")
		if err := c.serve(ctx, conn); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("relay connection ended")
		}
		c.closeConn(conn)
	}
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	return c.getConn() != nil
}

// Dropped counts events Publish could not deliver.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Publish sends ev to the sink. Events published while disconnected are
// dropped and reported as ErrNotConnected.
func (c *Client) Publish(ev input.Event) error {
	wire, ok := EncodeInputEvent(ev)
	if !ok {
		return fmt.Errorf("relay: unsupported event %T", ev)
	}
	if err := c.notify(MethodInputEvent, wire); err != nil {
		c.dropped.Add(1)
		return err
	}
	return nil
}

func (c *Client) notify(method string, params interface{}) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return c.send(Envelope{Method: method, Params: payload})
}

func (c *Client) send(env Envelope) error {
	conn := c.getConn()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) ping(conn *websocket.Conn) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		NetDialContext:   c.dialer,
	}
	conn, _, err := dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	return conn, nil
}

// serve announces the device, then reads until the connection or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	if err := c.sendHello(); err != nil {
		return fmt.Errorf("relay: hello: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// unblocks ReadMessage below
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := c.ping(conn); err != nil {
					c.logger.Debug().Err(err).Msg("relay ping failed")
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("relay: invalid message")
			continue
		}
		if env.Method != MethodCommand {
			continue
		}
		if err := c.handleCommand(ctx, env); err != nil {
			c.logger.Warn().Err(err).Msg("relay: command reply failed")
		}
	}
}

func (c *Client) sendHello() error {
	id := json.RawMessage(fmt.Sprintf("%q", c.nextID()))
	payload, err := json.Marshal(c.hello)
	if err != nil {
		return err
	}
	return c.send(Envelope{ID: &id, Method: MethodHello, Params: payload})
}

func (c *Client) handleCommand(ctx context.Context, env Envelope) error {
	var req CommandRequest
	if err := json.Unmarshal(env.Params, &req); err != nil {
		return c.reply(env.ID, req.RequestID, nil, fmt.Errorf("relay: invalid command: %w", err))
	}
	if c.onCommand == nil {
		return c.reply(env.ID, req.RequestID, nil, errors.New("relay: commands not supported"))
	}
	result, err := c.onCommand(ctx, req)
	c.logger.Debug().Str("command", req.Command).Err(err).Msg("relay command handled")
	return c.reply(env.ID, req.RequestID, result, err)
}

// reply answers an RPC-style request by id, or a notification with a
// command.result event.
func (c *Client) reply(id *json.RawMessage, requestID string, result interface{}, err error) error {
	if id != nil {
		env := Envelope{ID: id}
		if err != nil {
			env.Error = &RPCError{Code: 1, Message: err.Error()}
			return c.send(env)
		}
		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return marshalErr
		}
		env.Result = raw
		return c.send(env)
	}
	params := CommandResult{RequestID: requestID, Result: result}
	if err != nil {
		params.Result = nil
		params.Error = &RPCError{Code: 1, Message: err.Error()}
	}
	return c.notify(MethodCommandResult, params)
}

func (c *Client) nextID() string {
	return fmt.Sprintf("hello-%d", c.seq.Add(1))
}

func (c *Client) getConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.conn = conn
}

func (c *Client) closeConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	_ = conn.Close()
}
