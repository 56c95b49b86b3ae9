// Package bridge serves the websocket an editor plugin connects to. Each
// connection becomes the host (editor, notifier and command registrar) for
// the runs it triggers.
package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"cellrun/internal/command"
	"cellrun/internal/connection"
	"cellrun/internal/kernel"
	"cellrun/internal/metrics"
	"cellrun/internal/settings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval       = 30 * time.Second
	readDeadline       = 60 * time.Second
	writeDeadline      = 10 * time.Second
	defaultCallTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The plugin runs inside the editor's webview origin.
	},
}

// Config wires a Server to the run pipeline.
type Config struct {
	Driver command.Driver
	// Sessions lists live kernel sessions on GET /sessions. Optional.
	Sessions *kernel.Manager
	// Settings supplies the server URL and keybinding. When nil, the URL is
	// read from each block's "jupyter" property.
	Settings *settings.Store
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// CallTimeout bounds each host API call (default: 30s).
	CallTimeout time.Duration
}

// Server manages plugin connections.
type Server struct {
	cfg    Config
	logger *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	clients   map[*client]bool
	clientsMu sync.RWMutex

	bindingMu  sync.RWMutex
	keybinding string
}

// New creates a bridge server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	keybinding := settings.DefaultRunCellBinding
	if cfg.Settings != nil {
		if typed, err := cfg.Settings.Typed(); err == nil {
			keybinding = typed.RunCellKey
		} else {
			cfg.Logger.Warn("invalid settings, using default keybinding", zap.Error(err))
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		logger:     cfg.Logger,
		baseCtx:    ctx,
		stop:       stop,
		clients:    make(map[*client]bool),
		keybinding: keybinding,
	}
}

// Close disconnects every plugin and cancels runs in flight.
func (s *Server) Close() {
	s.stop()

	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.close()
		c.conn.Close()
	}
}

// Clients returns the number of connected plugins.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(s, conn)

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	go c.writePump()
	go c.readPump()

	s.registerCommands(c, s.currentKeybinding())
	c.logger.Info("plugin connected")
}

func (s *Server) currentKeybinding() string {
	s.bindingMu.RLock()
	defer s.bindingMu.RUnlock()
	return s.keybinding
}

// registerCommands announces the run action as the slash command and, when
// a keybinding is configured, as a palette command bound to it.
func (s *Server) registerCommands(c *client, keybinding string) {
	action := func(ctx context.Context) error {
		return s.runner(c).Run(ctx)
	}

	if err := command.Register(c, "", action); err != nil {
		c.logger.Warn("failed to register slash command", zap.Error(err))
		c.sendError(ErrRegistrationFails, err.Error())
	}
	if keybinding == "" {
		return
	}
	if err := command.Register(c, keybinding, action); err != nil {
		c.logger.Warn("failed to register palette command", zap.Error(err))
		c.sendError(ErrRegistrationFails, err.Error())
	}
}

func (s *Server) runner(c *client) *command.Runner {
	var resolver connection.Resolver = connection.PropertyResolver{Editor: c}
	if s.cfg.Settings != nil {
		resolver = connection.SettingsResolver{Settings: s.cfg.Settings}
	}
	return &command.Runner{
		Editor:   c,
		Notifier: c,
		Resolver: resolver,
		Driver:   s.cfg.Driver,
		Logger:   c.logger,
		Metrics:  s.cfg.Metrics,
	}
}

// OnSettingsChange re-registers commands on every plugin with the new
// keybinding. It is the callback for settings.Store.Watch.
func (s *Server) OnSettingsChange(st settings.Settings) {
	s.bindingMu.Lock()
	changed := s.keybinding != st.RunCellKey
	s.keybinding = st.RunCellKey
	s.bindingMu.Unlock()

	if !changed {
		return
	}
	s.logger.Info("keybinding changed", zap.String("keybinding", st.RunCellKey))

	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		s.registerCommands(c, st.RunCellKey)
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.close()
	c.logger.Info("plugin disconnected")
}

// handleMessage processes a validated plugin message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := ValidatePluginMessage(raw)
	if err != nil {
		c.sendError(ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case TypeRPCResult:
		var p RPCResultPayload
		json.Unmarshal(msg.Payload, &p)
		c.resolve(p)

	case TypeCommandInvoke:
		var p CommandInvokePayload
		json.Unmarshal(msg.Payload, &p)
		s.invoke(c, p.Name)
	}
}

// invoke runs a registered command off the read pump, which must stay free
// to deliver the command's own rpc results.
func (s *Server) invoke(c *client, name string) {
	action, ok := c.action(name)
	if !ok {
		c.sendError(ErrUnknownCommand, "command not registered: "+name)
		return
	}

	go func() {
		if err := action(c.ctx); err != nil {
			c.logger.Debug("command failed", zap.String("command", name), zap.Error(err))
		}
	}()
}
