package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cellrun/internal/host"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrDisconnected is returned by host calls once the plugin has gone away.
var ErrDisconnected = errors.New("plugin disconnected")

// client is one connected editor plugin. It implements host.Editor,
// host.Notifier and host.Registrar by sending rpc.call messages and waiting
// for the matching rpc.result.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	server *Server
	logger *zap.Logger

	closeOnce sync.Once

	pendingMu sync.Mutex
	pending   map[string]chan RPCResultPayload

	actionsMu sync.RWMutex
	actions   map[string]host.Action

	// ctx is cancelled when the connection closes.
	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(s *Server, conn *websocket.Conn) *client {
	ctx, cancel := context.WithCancel(s.baseCtx)
	return &client{
		conn:    conn,
		send:    make(chan []byte, 256),
		done:    make(chan struct{}),
		server:  s,
		logger:  s.logger.With(zap.String("remote", conn.RemoteAddr().String())),
		pending: make(map[string]chan RPCResultPayload),
		actions: make(map[string]host.Action),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// close marks the client gone. Pending and future calls fail with
// ErrDisconnected.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// enqueue hands a message to the write pump.
func (c *client) enqueue(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) sendError(code, message string) {
	msg, _ := NewMessage(TypeError, ErrorPayload{Code: code, Message: message})
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}

// call performs one host API call. out may be nil when the result is unused.
func (c *client) call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	id := uuid.New().String()
	ch := make(chan RPCResultPayload, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if timeout := c.server.cfg.CallTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := NewMessage(TypeRPCCall, RPCCallPayload{ID: id, Method: method, Params: raw})
	if err != nil {
		return err
	}
	if err := c.enqueue(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return fmt.Errorf("%s: %s", method, res.Error)
		}
		if out == nil || len(res.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-c.done:
		return fmt.Errorf("%s: %w", method, ErrDisconnected)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// resolve delivers an rpc.result to its waiting call.
func (c *client) resolve(res RPCResultPayload) {
	c.pendingMu.Lock()
	ch, ok := c.pending[res.ID]
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("dropping result for unknown call", zap.String("call_id", res.ID))
		return
	}
	select {
	case ch <- res:
	default:
	}
}

func (c *client) CurrentBlock(ctx context.Context) (host.Block, error) {
	var blk *host.Block
	if err := c.call(ctx, MethodGetCurrentBlock, struct{}{}, &blk); err != nil {
		return host.Block{}, err
	}
	if blk == nil || blk.UUID == "" {
		return host.Block{}, host.ErrNoBlock
	}
	return *blk, nil
}

func (c *client) BlockProperty(ctx context.Context, blockID, key string) (string, error) {
	var value *string
	if err := c.call(ctx, MethodGetBlockProperty, BlockPropertyParams{BlockID: blockID, Key: key}, &value); err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

func (c *client) InsertBlock(ctx context.Context, ref, content string, placement host.Placement) (string, error) {
	var res InsertBlockResult
	params := InsertBlockParams{Ref: ref, Content: content, Placement: placement}
	if err := c.call(ctx, MethodInsertBlock, params, &res); err != nil {
		return "", err
	}
	if res.UUID == "" {
		return "", fmt.Errorf("%s: empty block uuid", MethodInsertBlock)
	}
	return res.UUID, nil
}

func (c *client) UpdateBlock(ctx context.Context, blockID, content string) error {
	return c.call(ctx, MethodUpdateBlock, UpdateBlockParams{BlockID: blockID, Content: content}, nil)
}

func (c *client) ExitEditing(ctx context.Context, blockID string) error {
	return c.call(ctx, MethodExitEditingMode, ExitEditingParams{BlockID: blockID}, nil)
}

func (c *client) ShowMsg(ctx context.Context, msg string, severity host.Severity, timeout time.Duration) error {
	return c.call(ctx, MethodShowMsg, ShowMsgParams{
		Message:   msg,
		Status:    severity,
		TimeoutMS: timeout.Milliseconds(),
	}, nil)
}

func (c *client) RegisterSlashCommand(name string, action host.Action) error {
	return c.register(CommandRegisterPayload{Kind: "slash", Name: name}, action)
}

func (c *client) RegisterCommandPalette(cmd host.PaletteCommand, action host.Action) error {
	return c.register(CommandRegisterPayload{
		Kind:       "palette",
		Name:       cmd.Key,
		Label:      cmd.Label,
		Keybinding: cmd.Keybinding,
	}, action)
}

func (c *client) register(p CommandRegisterPayload, action host.Action) error {
	if action == nil {
		return fmt.Errorf("command %s has no action", p.Name)
	}
	c.actionsMu.Lock()
	c.actions[p.Name] = action
	c.actionsMu.Unlock()

	msg, err := NewMessage(TypeCommandRegister, p)
	if err != nil {
		return err
	}
	return c.enqueue(c.ctx, msg)
}

func (c *client) action(name string) (host.Action, bool) {
	c.actionsMu.RLock()
	defer c.actionsMu.RUnlock()
	a, ok := c.actions[name]
	return a, ok
}
