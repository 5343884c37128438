package gateway

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"exchange-sim/infrastructure/logger"
	"exchange-sim/market"
)

// Session 是一个券商会话：入站消息进入无界队列，由专属 worker 按到达顺序处理。
// 出站消息同样排队，由传输层通过 Next 取出写回。
type Session struct {
	id       string
	clientID string
	in       *queue[[]byte]
	out      *queue[Message]
	handle   func(*Session, []byte)
	metrics  Metrics
	log      *logger.Logger

	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Session)
}

func newSession(clientID string, handle func(*Session, []byte), metrics Metrics, log *logger.Logger, onClose func(*Session)) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		clientID: clientID,
		in:       newQueue[[]byte](),
		out:      newQueue[Message](),
		handle:   handle,
		metrics:  metrics,
		log:      log.WithFields(map[string]interface{}{"session": id, "client_id": clientID}),
		done:     make(chan struct{}),
		onClose:  onClose,
	}
}

// ID 会话标识。
func (s *Session) ID() string { return s.id }

// ClientID 会话所属客户端。
func (s *Session) ClientID() string { return s.clientID }

// Submit 投递一条入站消息，从不阻塞；会话关闭后返回 ErrSessionClosed。
func (s *Session) Submit(raw []byte) error {
	if err := s.in.Push(raw); err != nil {
		return err
	}
	s.metrics.SetSessionQueueDepth(s.id, s.in.Len())
	return nil
}

// Send 投递一条出站消息，会话关闭后丢弃。
func (s *Session) Send(m Message) {
	if err := s.out.Push(m); err != nil {
		s.log.Debug("dropping outbound message on closed session", zap.String("msg_type", string(m.Type())))
	}
}

// Next 阻塞直到有出站消息；会话关闭且已排空时返回 false。
func (s *Session) Next() (Message, bool) {
	return s.out.Pop()
}

// Done 在 worker 退出后关闭。
func (s *Session) Done() <-chan struct{} { return s.done }

// Close 停止接收，等待已排队的入站消息处理完毕后关闭出站队列。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.in.Close()
		<-s.done
		if s.onClose != nil {
			s.onClose(s)
		}
		s.out.Close()
	})
}

func (s *Session) run() {
	defer close(s.done)
	for {
		raw, ok := s.in.Pop()
		if !ok {
			return
		}
		s.metrics.SetSessionQueueDepth(s.id, s.in.Len())
		s.dispatch(raw)
	}
}

// dispatch 单条消息的异常只影响该消息；订单簿不变量被破坏时继续向上抛出。
func (s *Session) dispatch(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.LogError(fmt.Errorf("panic handling message: %v", r), map[string]interface{}{"raw": string(raw)})
			if err, ok := r.(error); ok && errors.Is(err, market.ErrInvariant) {
				panic(r)
			}
			s.Send(businessReject(nil, BusinessRejectOther, "internal error"))
		}
	}()
	s.handle(s, raw)
}
