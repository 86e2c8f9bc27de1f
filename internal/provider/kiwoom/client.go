package kiwoom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wonny/screener/pkg/config"
	"github.com/wonny/screener/pkg/logger"
)

// ErrTimeout is returned when the bridge does not answer a request within
// the TR timeout. Distinct from context cancellation.
var ErrTimeout = errors.New("kiwoom: TR 응답 타임아웃")

// ErrNotConnected is returned when a request is made before Connect.
var ErrNotConnected = errors.New("kiwoom: 연결되지 않음")

// Terminal request ceiling. The gate keeps calls serialized and spaced so
// the OCX side never throttles us.
const requestsPerSecond = 5

// conn is the bridge socket. gorilla's *websocket.Conn satisfies it.
type conn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Client talks to the local terminal bridge over a websocket.
// ⭐ SSOT: 키움 TR 호출은 모두 여기를 거친다 (직렬화 + 속도 제한)
type Client struct {
	cfg     config.KiwoomConfig
	log     *logger.Logger
	limiter *rate.Limiter

	conn   conn
	connMu sync.Mutex

	// gate serializes TR traffic end to end: one in-flight request,
	// then a fixed delay before the next.
	gate sync.Mutex

	pending   map[string]chan wireResponse
	pendingMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a bridge client.
func New(cfg config.KiwoomConfig, log *logger.Logger) *Client {
	return &Client{
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		pending: make(map[string]chan wireResponse),
		stopCh:  make(chan struct{}),
	}
}

// Connect dials the bridge and starts the read pump.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, c.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("bridge dial: %w", err)
	}
	c.conn = ws

	c.wg.Add(1)
	go c.readLoop()

	c.log.WithField("url", c.cfg.BridgeURL).Info("키움 브릿지 연결됨")
	return nil
}

// Login asks the terminal session to log in.
func (c *Client) Login(ctx context.Context) error {
	resp, err := c.request(ctx, wireRequest{Type: msgLogin, RqName: "login"})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("kiwoom: 로그인 실패: %s", resp.Error)
	}
	return nil
}

// Close stops the read pump and closes the socket.
func (c *Client) Close() error {
	close(c.stopCh)
	c.connMu.Lock()
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	c.wg.Wait()
	return err
}

// request sends one frame and waits for the correlated answer. Calls are
// serialized through the gate with a fixed inter-call delay.
func (c *Client) request(ctx context.Context, req wireRequest) (*wireResponse, error) {
	c.connMu.Lock()
	ws := c.conn
	c.connMu.Unlock()
	if ws == nil {
		return nil, ErrNotConnected
	}

	c.gate.Lock()
	defer func() {
		time.Sleep(c.cfg.TRDelay)
		c.gate.Unlock()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ch := make(chan wireResponse, 1)
	c.pendingMu.Lock()
	if _, dup := c.pending[req.RqName]; dup {
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("kiwoom: rqName 중복: %s", req.RqName)
	}
	c.pending[req.RqName] = ch
	c.pendingMu.Unlock()

	if err := ws.WriteJSON(req); err != nil {
		c.removePending(req.RqName)
		return nil, fmt.Errorf("bridge write: %w", err)
	}

	timer := time.NewTimer(c.cfg.TRTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("kiwoom: %s %s: %s", req.TRCode, req.RqName, resp.Error)
		}
		return &resp, nil
	case <-timer.C:
		c.removePending(req.RqName)
		return nil, fmt.Errorf("%w: %s %s", ErrTimeout, req.TRCode, req.RqName)
	case <-ctx.Done():
		c.removePending(req.RqName)
		return nil, ctx.Err()
	}
}

func (c *Client) removePending(rqName string) {
	c.pendingMu.Lock()
	delete(c.pending, rqName)
	c.pendingMu.Unlock()
}

// readLoop pumps bridge frames and resolves at most one waiter per frame.
func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		c.connMu.Lock()
		ws := c.conn
		c.connMu.Unlock()
		if ws == nil {
			return
		}

		var resp wireResponse
		if err := ws.ReadJSON(&resp); err != nil {
			select {
			case <-c.stopCh:
			default:
				c.log.WithError(err).Warn("브릿지 수신 종료")
			}
			return
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.RqName]
		if ok {
			delete(c.pending, resp.RqName)
		}
		c.pendingMu.Unlock()

		if ok {
			ch <- resp
		} else {
			c.log.WithField("rq_name", resp.RqName).Debug("대기자 없는 응답 폐기")
		}
	}
}
