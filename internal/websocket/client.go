package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// rpcRequest is the JSON-RPC 2.0 envelope Solana's subscription websocket
// expects for accountSubscribe/signatureSubscribe/*Unsubscribe calls.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse is the reply to a request, keyed by ID (distinct from an
// unsolicited subscription notification, which carries a Method instead).
type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// rpcNotification is a subscription push: accountNotification or
// signatureNotification, both shaped {method, params:{subscription, result}}.
type rpcNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// Client is a reconnecting JSON-RPC websocket connection to a Solana-style
// node, wrapping gorilla/websocket. It is the transport PriceFeed subscribes
// account updates through; grounded on cmd/wstest/main.go's
// NewClient/SetCallbacks/AccountSubscribe/Connect/Close call shape, which is
// the API surface every consumer in this package was written against.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	connMu sync.Mutex
	conn   *gorilla.Conn
	closed atomic.Bool

	nextID int64

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcResponse

	subsMu sync.RWMutex
	subs   map[uint64]func(json.RawMessage)

	onConnect    func()
	onDisconnect func(error)
}

// NewClient constructs a Client against url (a wss:// endpoint). It does
// not connect until Connect is called.
func NewClient(url string, reconnectDelay, pingInterval time.Duration) *Client {
	return &Client{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		pending:        make(map[uint64]chan rpcResponse),
		subs:           make(map[uint64]func(json.RawMessage)),
	}
}

// SetCallbacks registers hooks fired on successful (re)connect and on
// disconnect. Either may be nil.
func (c *Client) SetCallbacks(onConnect func(), onDisconnect func(error)) {
	c.onConnect = onConnect
	c.onDisconnect = onDisconnect
}

// Connect dials the endpoint and starts the read and keepalive loops. A
// dropped connection is retried on its own goroutine every reconnectDelay
// until Close is called; Connect itself only reports the first dial.
func (c *Client) Connect() error {
	conn, _, err := gorilla.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	go c.readLoop()
	go c.pingLoop()

	if c.onConnect != nil {
		c.onConnect()
	}

	return nil
}

// Close stops reconnection attempts and tears down the active connection.
func (c *Client) Close() {
	c.closed.Store(true)
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
}

func (c *Client) readLoop() {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			log.Warn().Err(err).Msg("websocket read failed, will reconnect")
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			c.reconnect()
			return
		}

		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var probe struct {
		ID     *uint64 `json:"id"`
		Method string  `json:"method"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		log.Warn().Err(err).Msg("unparsable websocket frame")
		return
	}

	if probe.ID != nil {
		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			log.Warn().Err(err).Msg("unparsable rpc response")
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}

	if probe.Method != "" {
		var note rpcNotification
		if err := json.Unmarshal(raw, &note); err != nil {
			log.Warn().Err(err).Msg("unparsable rpc notification")
			return
		}
		c.subsMu.RLock()
		handler, ok := c.subs[note.Params.Subscription]
		c.subsMu.RUnlock()
		if ok {
			handler(note.Params.Result)
		}
	}
}

func (c *Client) pingLoop() {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}
		if err := conn.WriteMessage(gorilla.PingMessage, nil); err != nil {
			return
		}
	}
}

// reconnect redials after reconnectDelay until it succeeds or Close is
// called, re-arming the read/ping loops on success.
func (c *Client) reconnect() {
	for !c.closed.Load() {
		time.Sleep(c.reconnectDelay)
		if err := c.Connect(); err != nil {
			log.Warn().Err(err).Msg("websocket reconnect failed, retrying")
			continue
		}
		return
	}
}

func (c *Client) nextRequestID() uint64 {
	return uint64(atomic.AddInt64(&c.nextID, 1))
}

// call sends an RPC request and blocks for its matching response.
func (c *Client) call(method string, params []interface{}) (rpcResponse, error) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return rpcResponse{}, fmt.Errorf("websocket not connected")
	}

	id := c.nextRequestID()
	ch := make(chan rpcResponse, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return rpcResponse{}, fmt.Errorf("marshal rpc request: %w", err)
	}

	c.connMu.Lock()
	err = conn.WriteMessage(gorilla.TextMessage, body)
	c.connMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return rpcResponse{}, fmt.Errorf("write rpc request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return rpcResponse{}, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-time.After(10 * time.Second):
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return rpcResponse{}, fmt.Errorf("rpc request %q timed out", method)
	}
}

// AccountSubscribe subscribes to account-change notifications for pubkey,
// invoking handler on every update until Unsubscribe is called.
func (c *Client) AccountSubscribe(pubkey string, handler func(json.RawMessage)) (uint64, error) {
	resp, err := c.call("accountSubscribe", []interface{}{
		pubkey,
		map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
	})
	if err != nil {
		return 0, fmt.Errorf("account subscribe: %w", err)
	}

	var subID uint64
	if err := json.Unmarshal(resp.Result, &subID); err != nil {
		return 0, fmt.Errorf("decode subscription id: %w", err)
	}

	c.subsMu.Lock()
	c.subs[subID] = handler
	c.subsMu.Unlock()

	return subID, nil
}

// SignatureSubscribe subscribes to confirmation notifications for a
// transaction signature. The subscription is one-shot from the node's
// perspective (it fires once on confirmation), but callers are still
// responsible for calling Unsubscribe to release the handler entry.
func (c *Client) SignatureSubscribe(signature string, handler func(json.RawMessage)) (uint64, error) {
	resp, err := c.call("signatureSubscribe", []interface{}{
		signature,
		map[string]string{"commitment": "confirmed"},
	})
	if err != nil {
		return 0, fmt.Errorf("signature subscribe: %w", err)
	}

	var subID uint64
	if err := json.Unmarshal(resp.Result, &subID); err != nil {
		return 0, fmt.Errorf("decode subscription id: %w", err)
	}

	c.subsMu.Lock()
	c.subs[subID] = handler
	c.subsMu.Unlock()

	return subID, nil
}

// Unsubscribe releases subID, acquired from AccountSubscribe or
// SignatureSubscribe, using the matching *Unsubscribe method name
// (e.g. "accountUnsubscribe").
func (c *Client) Unsubscribe(method string, subID uint64) error {
	c.subsMu.Lock()
	delete(c.subs, subID)
	c.subsMu.Unlock()

	_, err := c.call(method, []interface{}{subID})
	return err
}
