package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	errClientClosed = errors.New("client closed")
	errNotConnected = errors.New("not connected")
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is the first wait after a dropped connection.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the wait between redial attempts.
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	Logger           logrus.FieldLogger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		Logger:            logrus.StandardLogger(),
	}
}

// subscription is one account watch. It outlives reconnects; only the
// server-assigned id changes.
type subscription struct {
	account string
	ch      chan AccountNotification
}

type subscribeReply struct {
	id  int64
	err error
}

// pendingSubscribe waits for the server to confirm an accountSubscribe.
type pendingSubscribe struct {
	sub   *subscription
	reply chan subscribeReply
}

// WSClientImpl implements WSClient using gorilla/websocket. A single
// goroutine owns reading; on read failure it redials with exponential
// backoff and replays every subscription.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	log      logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	nextID atomic.Uint64

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	active  map[*subscription]struct{}   // every live watch, across connections
	subs    map[int64]*subscription      // server ids on the current connection
	pending map[uint64]*pendingSubscribe // request id -> waiter

	wg sync.WaitGroup
}

// NewWSClient dials endpoint and starts the read and ping loops.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 30 * time.Second
	}

	conn, err := dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		log:      cfg.Logger.WithField("component", "ws"),
		ctx:      runCtx,
		cancel:   cancel,
		conn:     conn,
		active:   make(map[*subscription]struct{}),
		subs:     make(map[int64]*subscription),
		pending:  make(map[uint64]*pendingSubscribe),
	}

	c.wg.Add(2)
	go c.run(conn)
	go c.pingLoop()
	return c, nil
}

func dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// AccountSubscribe watches a token account with jsonParsed encoding at
// processed commitment. The channel is closed by Close.
func (c *WSClientImpl) AccountSubscribe(ctx context.Context, account string) (<-chan AccountNotification, error) {
	// Sends block rather than drop; the buffer absorbs bursts.
	sub := &subscription{account: account, ch: make(chan AccountNotification, 1024)}
	if _, err := c.subscribe(ctx, sub); err != nil {
		return nil, err
	}
	return sub.ch, nil
}

// subscribe sends accountSubscribe for sub. The reader registers sub under
// the confirmed id, and as active, before the reply is delivered, so no
// notification that follows the confirmation is missed and a drop right
// after the confirmation still replays it.
func (c *WSClientImpl) subscribe(ctx context.Context, sub *subscription) (int64, error) {
	if c.closed.Load() {
		return 0, errClientClosed
	}

	reqID := c.nextID.Add(1)
	p := &pendingSubscribe{sub: sub, reply: make(chan subscribeReply, 1)}
	c.mu.Lock()
	c.pending[reqID] = p
	c.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "accountSubscribe",
		Params: []interface{}{
			sub.account,
			map[string]string{"encoding": "jsonParsed", "commitment": CommitmentProcessed},
		},
	}
	if err := c.write(func(conn *websocket.Conn) error { return conn.WriteJSON(req) }); err != nil {
		c.abandon(reqID, p)
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	var giveUp error
	select {
	case r := <-p.reply:
		return r.id, r.err
	case <-timer.C:
		giveUp = fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.ctx.Done():
		giveUp = errClientClosed
	case <-ctx.Done():
		giveUp = ctx.Err()
	}
	if r, ok := c.abandon(reqID, p); ok {
		return r.id, r.err
	}
	return 0, giveUp
}

// abandon withdraws a pending request. A reply that was already registered
// is returned so the caller does not drop a live watch.
func (c *WSClientImpl) abandon(reqID uint64, p *pendingSubscribe) (subscribeReply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, reqID)
	select {
	case r := <-p.reply:
		return r, true
	default:
		return subscribeReply{}, false
	}
}

func (c *WSClientImpl) write(fn func(*websocket.Conn) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return fn(c.conn)
}

// Close stops the loops and closes every subscription channel.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()

	c.writeMu.Lock()
	if c.conn != nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.writeMu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	for sub := range c.active {
		close(sub.ch)
	}
	c.active = map[*subscription]struct{}{}
	c.subs = map[int64]*subscription{}
	c.mu.Unlock()
	return nil
}

// run reads from conn until it fails, then redials and resubscribes.
func (c *WSClientImpl) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		err := c.readFrom(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.log.WithError(err).Warn("ws connection lost")

		c.writeMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.writeMu.Unlock()
		_ = conn.Close()

		if conn, err = c.redial(); err != nil {
			return
		}

		// Ids from the dropped connection mean nothing on the new one and
		// may be reissued to other accounts. Start from an empty table
		// before the first read so every reply lands in it.
		c.mu.Lock()
		c.subs = make(map[int64]*subscription, len(c.active))
		replay := make([]*subscription, 0, len(c.active))
		for sub := range c.active {
			replay = append(replay, sub)
		}
		c.mu.Unlock()

		// Confirmations arrive through this loop, so replay concurrently.
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.resubscribeAll(replay)
		}()
	}
}

func (c *WSClientImpl) readFrom(conn *websocket.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(message)
	}
}

// redial retries the connection with exponential backoff until it succeeds
// or the client is closed.
func (c *WSClientImpl) redial() (*websocket.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.ReconnectDelay
	bo.MaxInterval = c.config.MaxReconnectDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	select {
	case <-c.ctx.Done():
		return nil, errClientClosed
	case <-time.After(c.config.ReconnectDelay):
	}

	var conn *websocket.Conn
	op := func() error {
		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		defer cancel()
		var err error
		conn, err = dial(ctx, c.endpoint)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.WithError(err).WithField("retry_in", wait).Warn("ws reconnect failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, c.ctx), notify); err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		_ = conn.Close()
		return nil, errClientClosed
	}
	c.conn = conn
	c.log.Info("ws reconnected")
	return conn, nil
}

// resubscribeAll replays subs on the current connection. A watch that
// fails here stays active and is replayed again after the next reconnect.
func (c *WSClientImpl) resubscribeAll(subs []*subscription) {
	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		_, err := c.subscribe(ctx, sub)
		cancel()
		if err != nil {
			c.log.WithError(err).WithField("account", sub.account).Error("ws resubscribe failed; account has no updates until the next reconnect")
		}
	}
}

// wsMessage covers subscription replies, errors and notifications.
type wsMessage struct {
	ID     uint64                `json:"id"`
	Method string                `json:"method"`
	Result json.RawMessage       `json:"result"`
	Error  *rpcError             `json:"error"`
	Params *wsNotificationParams `json:"params"`
}

func (c *WSClientImpl) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.WithError(err).Debug("ws: undecodable message")
		return
	}

	switch {
	case msg.Method == "accountNotification" && msg.Params != nil:
		c.dispatch(msg.Params)
	case msg.ID != 0 && msg.Error != nil:
		c.log.WithFields(logrus.Fields{"code": msg.Error.Code, "message": msg.Error.Message}).Warn("ws error response")
		c.reply(msg.ID, 0, msg.Error)
	case msg.ID != 0 && len(msg.Result) > 0:
		var subID int64
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			c.reply(msg.ID, 0, fmt.Errorf("decode subscription id: %w", err))
			return
		}
		c.reply(msg.ID, subID, nil)
	}
}

func (c *WSClientImpl) reply(reqID uint64, subID int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[reqID]
	if !ok {
		return
	}
	delete(c.pending, reqID)
	if err == nil {
		c.subs[subID] = p.sub
		c.active[p.sub] = struct{}{}
	}
	// Buffered; the send happens under the lock so abandon sees it.
	p.reply <- subscribeReply{id: subID, err: err}
}

func (c *WSClientImpl) dispatch(params *wsNotificationParams) {
	c.mu.Lock()
	sub, ok := c.subs[params.Subscription]
	c.mu.Unlock()
	if !ok {
		return
	}

	amount := params.Result.Value.Data.Parsed.Info.TokenAmount
	n := AccountNotification{
		Account:  sub.account,
		Amount:   amount.Amount,
		Decimals: amount.Decimals,
		UIAmount: amount.UIAmount,
	}
	if params.Result.Context != nil {
		n.Slot = params.Result.Context.Slot
	}

	select {
	case sub.ch <- n:
	case <-c.ctx.Done():
	}
}

func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			// A dead connection is noticed by the reader.
			_ = c.write(func(conn *websocket.Conn) error {
				return conn.WriteMessage(websocket.PingMessage, nil)
			})
		}
	}
}

type wsNotificationParams struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Context *struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Data struct {
				Parsed struct {
					Info parsedTokenInfo `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	} `json:"result"`
}

var _ WSClient = (*WSClientImpl)(nil)
