package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"exchange-sim/infrastructure/logger"
)

const writeWait = 10 * time.Second

// WSMetrics 连接数指标。
type WSMetrics interface {
	RecordWSConnection()
	RecordWSDisconnect()
}

// WSOptions WebSocket 传输参数。
type WSOptions struct {
	// DefaultClientID 连接未携带 SenderCompID 时使用
	DefaultClientID string
	SessionRate     float64
	SessionBurst    int
	Logger          *logger.Logger
	Metrics         WSMetrics
}

// WSServer 以 WebSocket 承载会话：一个连接对应一个券商会话，消息为 FIX 字段名的 JSON。
type WSServer struct {
	gw       *Gateway
	feed     *MarketDataFeed
	opts     WSOptions
	upgrader websocket.Upgrader
	log      *logger.Logger
	metrics  WSMetrics

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// NewWSServer feed 为空时不提供行情端点。
func NewWSServer(gw *Gateway, feed *MarketDataFeed, opts WSOptions) *WSServer {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopWSMetrics{}
	}
	return &WSServer{
		gw:   gw,
		feed: feed,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log.Named("ws"),
		metrics: metrics,
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

// HandleFIX 建立订单会话，客户端身份取自查询参数 SenderCompID。
func (s *WSServer) HandleFIX(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("SenderCompID")
	if clientID == "" {
		clientID = s.opts.DefaultClientID
	}
	if clientID == "" {
		http.Error(w, "SenderCompID is required", http.StatusBadRequest)
		return
	}
	sess, err := s.gw.Connect(clientID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrClientConnected) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("client_id", clientID), zap.Error(err))
		sess.Close()
		return
	}
	if !s.track(conn) {
		sess.Close()
		return
	}
	defer s.untrack(conn)
	s.metrics.RecordWSConnection()
	defer s.metrics.RecordWSDisconnect()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			m, ok := sess.Next()
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				s.log.Warn("session write failed", zap.String("client_id", clientID), zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}()

	limiter := NewRateLimiter(s.opts.SessionRate, s.opts.SessionBurst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("session read ended", zap.String("client_id", clientID), zap.Error(err))
			}
			break
		}
		if err := limiter.Wait(r.Context()); err != nil {
			break
		}
		if err := sess.Submit(data); err != nil {
			break
		}
	}
	// 已接收的消息处理完毕、回报写出后再断开
	sess.Close()
	<-writerDone
	_ = conn.Close()
}

// HandleMarketData 推送增量行情，直到客户端断开。
func (s *WSServer) HandleMarketData(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		http.Error(w, "market data not enabled", http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if !s.track(conn) {
		return
	}
	defer s.untrack(conn)
	s.metrics.RecordWSConnection()
	defer s.metrics.RecordWSDisconnect()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	err = s.feed.Stream(ctx, func(m IncrementalRefresh) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("market data stream ended", zap.Error(err))
	}
	_ = conn.Close()
}

// Close 断开所有连接，之后的连接立即关闭。
func (s *WSServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *WSServer) track(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = c.Close()
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *WSServer) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

type nopWSMetrics struct{}

func (nopWSMetrics) RecordWSConnection() {}
func (nopWSMetrics) RecordWSDisconnect() {}
