package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/luisnisc/flowpilot-sub000/domain/board"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
)

// fakeServer implements the polling endpoints and, when live is set, the
// socket endpoint of a FlowPilot server for project p1.
type fakeServer struct {
	*httptest.Server

	mu        sync.Mutex
	live      bool
	messages  []domain.Message
	online    []string
	columns   board.Columns
	patchFail int
	postFail  bool
	relayed   []board.Task
	lastSend  SendRequest
	seq       int
}

func newFakeServer(t *testing.T, live bool) *fakeServer {
	t.Helper()
	s := &fakeServer{
		live:    live,
		online:  []string{"bob@x.com"},
		columns: board.EmptyColumns(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.handleMessages)
	mux.HandleFunc("/api/v1/projects/p1/", s.handleProject)
	mux.HandleFunc("/ws", s.handleSocket)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *fakeServer) seed(msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

func (s *fakeServer) store(req SendRequest) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.lastSend = req
	ts := time.Now().UTC().Truncate(time.Millisecond)
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	msg := domain.Message{
		ID:        fmt.Sprintf("srv-%d", s.seq),
		ProjectID: req.ProjectID,
		Author:    domain.NormalizeIdentity(req.User),
		Body:      req.Message,
		CreatedAt: ts,
	}
	s.messages = append(s.messages, msg)
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *fakeServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var after time.Time
		if raw := r.URL.Query().Get("after"); raw != "" {
			after, _ = time.Parse(time.RFC3339Nano, raw)
		}
		s.mu.Lock()
		out := []domain.Message{}
		for _, m := range s.messages {
			if m.CreatedAt.After(after) {
				out = append(out, m)
			}
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		s.mu.Lock()
		fail := s.postFail
		s.mu.Unlock()
		if fail {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_error", "message": "nope"})
			return
		}
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		writeJSON(w, http.StatusCreated, s.store(req))
	}
}

func (s *fakeServer) handleProject(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/projects/p1/")
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case path == "board" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.columns)
	case path == "online" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.online)
	case strings.HasPrefix(path, "tasks/") && r.Method == http.MethodPatch:
		if s.patchFail != 0 {
			writeJSON(w, s.patchFail, map[string]string{"error": "not_found", "message": "Task not found"})
			return
		}
		var body struct {
			Status board.Status `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		id := strings.TrimPrefix(path, "tasks/")
		b := board.FromColumns(s.columns)
		t, _ := b.Get(id)
		t.ID = id
		t.Status = body.Status
		b.Apply(t)
		s.columns = b.Columns()
		writeJSON(w, http.StatusOK, t)
	default:
		http.NotFound(w, r)
	}
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

func (s *fakeServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	if !live {
		http.NotFound(w, r)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	send := func(event string, data any, ack string) {
		_ = conn.WriteJSON(outFrame{Event: event, Data: data, Ack: ack})
	}

	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Event {
		case "joinProject":
			s.mu.Lock()
			history := append([]domain.Message{}, s.messages...)
			s.mu.Unlock()
			send("previousMessages", history, "")
		case "userJoined":
			var p presencePayload
			_ = json.Unmarshal(f.Data, &p)
			send("usersOnline", []string{"bob@x.com", domain.NormalizeIdentity(p.UserEmail)}, "")
		case "sendMessage":
			var req SendRequest
			_ = json.Unmarshal(f.Data, &req)
			if req.Message == "reject" {
				send("error", map[string]string{"event": "sendMessage", "message": "rejected"}, f.Ack)
				continue
			}
			msg := s.store(req)
			send("newMessage", msg, "")
			if req.Message != "noack" {
				send("ack", msg, f.Ack)
			}
		case "updateTask":
			var p taskPayload
			_ = json.Unmarshal(f.Data, &p)
			s.mu.Lock()
			s.relayed = append(s.relayed, p.Task)
			s.mu.Unlock()
		case "joinProjectSync":
			send("taskUpdated", board.Task{ID: "pushed", Title: "from peer", Status: board.StatusReview}, "")
		}
	}
}
