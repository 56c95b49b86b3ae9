package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cellrun/internal/connection"
	"cellrun/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State represents the lifecycle state of a kernel session.
type State string

const (
	StateStarting   State = "starting"
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

// SessionInfo is a snapshot of a live session.
type SessionInfo struct {
	ID        string    `json:"id"`
	KernelID  string    `json:"kernelId"`
	BaseURL   string    `json:"baseUrl"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is one server-side Jupyter session and its channels connection.
type Session struct {
	ID        string
	KernelID  string
	ClientID  string
	CreatedAt time.Time

	client *Client
	info   connection.Info
	logger *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	state   State
	pending *Future

	group   *errgroup.Group
	cancel  context.CancelFunc
	closing atomic.Bool

	shutdownOnce sync.Once
	shutdownErr  error
}

func newSession(c *Client, info connection.Info, id, kernelID string) *Session {
	return &Session{
		ID:        id,
		KernelID:  kernelID,
		ClientID:  uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		client:    c,
		info:      info,
		logger:    c.logger.With(zap.String("session_id", id)),
		state:     StateStarting,
	}
}

// start runs the reader on conn until the session shuts down or ctx ends.
func (s *Session) start(ctx context.Context, conn *websocket.Conn) {
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.group = g
	s.state = StateActive
	s.mu.Unlock()

	g.Go(func() error {
		return s.readLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:        s.ID,
		KernelID:  s.KernelID,
		BaseURL:   s.info.BaseURL,
		State:     s.state,
		CreatedAt: s.CreatedAt,
	}
}

// Execute submits code and returns a future for its completion. handler is
// called for each iopub message that belongs to this execution until the
// future settles.
func (s *Session) Execute(ctx context.Context, code string, handler Handler) (*Future, error) {
	msg, err := protocol.NewExecuteRequest(s.ClientID, code)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.pending != nil && !s.pending.settled() {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	f := newFuture(msg.Header.MsgID, handler)
	s.pending = f
	s.mu.Unlock()

	if err := s.write(msg); err != nil {
		err = transportErr("submit execute_request", err)
		f.settle(nil, err)
		return nil, err
	}

	s.logger.Debug("execute_request sent", zap.String("msg_id", msg.Header.MsgID))
	return f, nil
}

func (s *Session) write(msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads kernel messages and dispatches them in arrival order.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			if ctx.Err() != nil {
				s.failPending(ctx.Err())
				return nil
			}
			err = transportErr("read kernel channels", err)
			s.failPending(err)
			return err
		}

		msg, err := protocol.ValidateKernelMessage(data)
		if err != nil {
			s.logger.Warn("ignoring invalid kernel message", zap.Error(err))
			continue
		}

		s.dispatch(ctx, msg)
	}
}

func (s *Session) dispatch(ctx context.Context, msg *protocol.Message) {
	s.mu.Lock()
	f := s.pending
	s.mu.Unlock()

	if f == nil || f.settled() || msg.ParentID() != f.msgID {
		return
	}

	switch msg.Channel {
	case protocol.ChannelIOPub:
		ev, err := protocol.Decode(msg)
		if err != nil {
			s.logger.Warn("ignoring undecodable iopub message", zap.String("msg_type", msg.Header.MsgType), zap.Error(err))
			return
		}
		if f.handler != nil {
			if err := f.handler(ctx, ev); err != nil {
				f.settle(nil, err)
				return
			}
		}
		if st, ok := ev.(protocol.Status); ok && st.ExecutionState == "idle" {
			f.idle = true
		}

	case protocol.ChannelShell:
		if msg.Header.MsgType != protocol.TypeExecuteReply {
			return
		}
		var reply protocol.ExecuteReply
		if err := json.Unmarshal(msg.Content, &reply); err != nil {
			f.settle(nil, transportErr("decode execute_reply", err))
			return
		}
		f.reply = &reply

	default:
		return
	}

	if f.idle && f.reply != nil {
		f.settle(f.reply, nil)
	}
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	f := s.pending
	s.mu.Unlock()
	if f != nil {
		f.settle(nil, err)
	}
}

// Shutdown closes the channels connection and deletes the server session.
// It runs once; later calls return the first result.
func (s *Session) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.closing.Store(true)

		s.mu.Lock()
		conn, cancel, group := s.conn, s.cancel, s.group
		s.mu.Unlock()

		// A session that never started has no connection or reader.
		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeDeadline))
			cancel()
			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug("reader exited with error", zap.Error(err))
			}
		}

		s.failPending(ErrSessionClosed)

		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()

		if s.client.opts.Manager != nil {
			s.client.opts.Manager.remove(s.ID)
		}

		s.shutdownErr = s.client.deleteSession(ctx, s.info, s.ID)
		s.logger.Info("kernel session shut down", zap.Error(s.shutdownErr))
	})
	return s.shutdownErr
}

// Future settles when an execution completes: the shell reply and the
// kernel's return to idle have both been seen, or the exchange failed.
type Future struct {
	msgID   string
	handler Handler

	// Touched only by the session's reader.
	idle  bool
	reply *protocol.ExecuteReply

	once   sync.Once
	done   chan struct{}
	result *protocol.ExecuteReply
	err    error
}

func newFuture(msgID string, handler Handler) *Future {
	return &Future{
		msgID:   msgID,
		handler: handler,
		done:    make(chan struct{}),
	}
}

func (f *Future) settle(reply *protocol.ExecuteReply, err error) {
	f.once.Do(func() {
		f.result = reply
		f.err = err
		close(f.done)
	})
}

func (f *Future) settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// MsgID is the execute_request's msg_id.
func (f *Future) MsgID() string { return f.msgID }

// Done is closed when the execution settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the execution settles or ctx ends.
func (f *Future) Wait(ctx context.Context) (*protocol.ExecuteReply, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
