// Package kerneltest provides an in-process fake Jupyter server for tests.
// It implements the session REST endpoints and a kernel channels websocket
// that answers execute_request with a scripted reply sequence.
package kerneltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"cellrun/internal/protocol"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Reply is one message the fake kernel sends in answer to a request.
type Reply struct {
	Channel string
	MsgType string
	Content any
	// Unrelated replies carry a foreign parent header.
	Unrelated bool
	// Hangup closes the channels connection instead of sending a message.
	Hangup bool
}

// Script maps submitted code to the replies sent back, in order.
type Script func(code string) []Reply

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is a fake Jupyter server.
type Server struct {
	*httptest.Server
	Token string

	script Script

	mu       sync.Mutex
	sessions map[string]string // session id → kernel id
	created  int
	deleted  int
	codes    []string
}

// New starts a fake server requiring token.
func New(token string, script Script) *Server {
	s := &Server{
		Token:    token,
		script:   script,
		sessions: make(map[string]string),
	}

	r := chi.NewRouter()
	r.Post("/api/sessions", s.handleCreateSession)
	r.Delete("/api/sessions/{id}", s.handleDeleteSession)
	r.Get("/api/kernels/{kernelID}/channels", s.handleChannels)

	s.Server = httptest.NewServer(r)
	return s
}

// ConnURL returns the server URL in the ?token= form users paste.
func (s *Server) ConnURL() string {
	return s.URL + "/?token=" + s.Token
}

// Created returns the number of sessions created.
func (s *Server) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// Deleted returns the number of sessions deleted.
func (s *Server) Deleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// Live returns the number of sessions not yet deleted.
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Codes returns every piece of code submitted, in order.
func (s *Server) Codes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.codes...)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.Token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "token "+s.Token || r.URL.Query().Get("token") == s.Token
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, `{"message":"Forbidden"}`, http.StatusForbidden)
		return
	}

	var req struct {
		Path   string `json:"path"`
		Kernel struct {
			Name string `json:"name"`
		} `json:"kernel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"message":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	id := uuid.New().String()
	kernelID := uuid.New().String()

	s.mu.Lock()
	s.sessions[id] = kernelID
	s.created++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"id":   id,
		"path": req.Path,
		"type": "console",
		"kernel": map[string]any{
			"id":   kernelID,
			"name": req.Kernel.Name,
		},
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, `{"message":"Forbidden"}`, http.StatusForbidden)
		return
	}

	id := chi.URLParam(r, "id")

	s.mu.Lock()
	_, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		s.deleted++
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, `{"message":"session not found"}`, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	kernelID := chi.URLParam(r, "kernelID")
	s.mu.Lock()
	known := false
	for _, k := range s.sessions {
		if k == kernelID {
			known = true
			break
		}
	}
	s.mu.Unlock()
	if !known {
		http.Error(w, "kernel not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.Message
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		if req.Header.MsgType != protocol.TypeExecuteRequest {
			continue
		}

		var content protocol.ExecuteRequestContent
		json.Unmarshal(req.Content, &content)

		s.mu.Lock()
		s.codes = append(s.codes, content.Code)
		s.mu.Unlock()

		if s.script == nil {
			continue
		}
		for _, reply := range s.script(content.Code) {
			if reply.Hangup {
				return
			}
			if err := conn.WriteJSON(reply.message(req.Header)); err != nil {
				return
			}
		}
	}
}

func (r Reply) message(parent protocol.Header) protocol.Message {
	data, _ := json.Marshal(r.Content)
	if r.Unrelated {
		parent = protocol.Header{MsgID: uuid.New().String(), MsgType: protocol.TypeExecuteRequest}
	}
	return protocol.Message{
		Header: protocol.Header{
			MsgID:   uuid.New().String(),
			MsgType: r.MsgType,
			Session: "fake-kernel",
			Date:    time.Now().UTC().Format(time.RFC3339Nano),
			Version: protocol.Version,
		},
		ParentHeader: parent,
		Metadata:     map[string]any{},
		Content:      data,
		Channel:      r.Channel,
	}
}
