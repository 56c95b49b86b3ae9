// Package kernel drives a Jupyter kernel over the server's REST API and the
// kernel's websocket channels: one session per execution, torn down when the
// execution settles.
package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cellrun/internal/connection"
	"cellrun/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultKernelName = "python3"
	defaultTimeout    = 30 * time.Second
	writeDeadline     = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	// KernelName is the kernelspec to start (default: python3).
	KernelName string
	// Timeout bounds REST calls and session teardown (default: 30s).
	Timeout time.Duration
	// HTTPClient overrides the REST client.
	HTTPClient *http.Client
	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
	Logger *zap.Logger
	// Manager, when set, tracks live sessions.
	Manager *Manager
}

// ExecutionRequest is the code submitted for one run.
type ExecutionRequest struct {
	Code string
}

// Handler receives iopub events for an execution, in arrival order.
// A non-nil error settles the execution with that error.
type Handler func(ctx context.Context, ev protocol.Event) error

// Client opens kernel sessions. Connection details are passed per call, so
// one Client can serve concurrent runs against different servers.
type Client struct {
	opts       Options
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

// NewClient creates a client, applying defaults.
func NewClient(opts Options) *Client {
	if opts.KernelName == "" {
		opts.KernelName = defaultKernelName
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.Timeout,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		opts:       opts,
		httpClient: httpClient,
		dialer:     dialer,
		logger:     logger,
	}
}

// Run executes req on a fresh session and streams its events to handler.
// The session is shut down after the execution settles, whether it
// succeeded, raised, or failed in transport.
func (c *Client) Run(ctx context.Context, info connection.Info, req ExecutionRequest, handler Handler) (err error) {
	sess, err := c.StartSession(ctx, info)
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()
		if serr := sess.Shutdown(shutdownCtx); serr != nil {
			if err == nil {
				err = serr
			} else {
				c.logger.Warn("session shutdown failed", zap.String("session_id", sess.ID), zap.Error(serr))
			}
		}
	}()

	fut, err := sess.Execute(ctx, req.Code, handler)
	if err != nil {
		return err
	}

	reply, err := fut.Wait(ctx)
	if err != nil {
		return err
	}

	c.logger.Debug("execution settled",
		zap.String("session_id", sess.ID),
		zap.String("status", reply.Status),
		zap.Int("execution_count", reply.ExecutionCount))
	return nil
}

type sessionModel struct {
	ID     string      `json:"id"`
	Path   string      `json:"path"`
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Kernel kernelModel `json:"kernel"`
}

type kernelModel struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// StartSession creates a server-side session with a new kernel and connects
// to its channels.
func (c *Client) StartSession(ctx context.Context, info connection.Info) (*Session, error) {
	name := "cellrun-" + uuid.New().String()
	created, err := c.createSession(ctx, info, sessionModel{
		Path:   name,
		Name:   name,
		Type:   "console",
		Kernel: kernelModel{Name: c.opts.KernelName},
	})
	if err != nil {
		return nil, err
	}

	sess := newSession(c, info, created.ID, created.Kernel.ID)

	wsURL, err := channelsURL(info, created.Kernel.ID, sess.ClientID)
	if err != nil {
		c.deleteSessionQuietly(info, created.ID)
		return nil, transportErr("build channels url", err)
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, authHeader(info))
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.deleteSessionQuietly(info, created.ID)
		return nil, transportErr("connect kernel channels", err)
	}

	// Registered only once started, so Manager.Shutdown never sees a
	// session without a connection.
	sess.start(ctx, conn)
	if c.opts.Manager != nil {
		if err := c.opts.Manager.add(sess); err != nil {
			sess.Shutdown(context.WithoutCancel(ctx))
			return nil, err
		}
	}

	c.logger.Info("kernel session started",
		zap.String("session_id", sess.ID),
		zap.String("kernel_id", sess.KernelID),
		zap.String("base_url", info.BaseURL))
	return sess, nil
}

func (c *Client) createSession(ctx context.Context, info connection.Info, model sessionModel) (*sessionModel, error) {
	body, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, info.BaseURL+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, transportErr("create session", err)
	}
	req.Header = authHeader(info)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportErr("create session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, transportErr("create session", statusError(resp))
	}

	var created sessionModel
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, transportErr("decode session", err)
	}
	if created.ID == "" || created.Kernel.ID == "" {
		return nil, transportErr("decode session", fmt.Errorf("response missing session or kernel id"))
	}
	return &created, nil
}

func (c *Client) deleteSession(ctx context.Context, info connection.Info, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, info.BaseURL+"/api/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return transportErr("delete session", err)
	}
	req.Header = authHeader(info)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportErr("delete session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return transportErr("delete session", statusError(resp))
	}
	return nil
}

func (c *Client) deleteSessionQuietly(info connection.Info, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()
	if err := c.deleteSession(ctx, info, id); err != nil {
		c.logger.Warn("failed to delete session", zap.String("session_id", id), zap.Error(err))
	}
}

func authHeader(info connection.Info) http.Header {
	h := http.Header{}
	if info.Token != "" {
		h.Set("Authorization", "token "+info.Token)
	}
	return h
}

// channelsURL returns the websocket URL for a kernel's multiplexed channels.
func channelsURL(info connection.Info, kernelID, clientID string) (string, error) {
	u, err := url.Parse(info.BaseURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/kernels/" + url.PathEscape(kernelID) + "/channels"
	q := url.Values{}
	q.Set("session_id", clientID)
	if info.Token != "" {
		q.Set("token", info.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return fmt.Errorf("unexpected status %s: %s", resp.Status, msg)
}
