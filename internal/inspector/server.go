package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/workerhost/internal/log"
)

// sessionBuffer is how many replies may queue for a slow client before
// further replies are dropped.
const sessionBuffer = 64

// Target is a worker that inspector sessions can attach to.
type Target interface {
	ID() string
	Title() string
	URL() string

	// DispatchInspectorMessage hands a raw command to the worker.
	DispatchInspectorMessage(message string)
}

// TargetInfo is one /json/list entry.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type session struct {
	out chan string
}

// Server lists targets over HTTP and attaches websocket sessions to them.
type Server struct {
	maxConns int

	mu       sync.Mutex
	targets  map[string]Target
	sessions map[string]map[*session]struct{}

	httpServer *http.Server
	listener   net.Listener
}

// NewServer returns a server accepting at most maxConns connections at a
// time once started. Zero means unlimited.
func NewServer(maxConns int) *Server {
	return &Server{
		maxConns: maxConns,
		targets:  make(map[string]Target),
		sessions: make(map[string]map[*session]struct{}),
	}
}

// AddTarget makes t visible to clients.
func (s *Server) AddTarget(t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[t.ID()] = t
}

// RemoveTarget hides a target and closes its sessions.
func (s *Server) RemoveTarget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, id)
	for sess := range s.sessions[id] {
		close(sess.out)
	}
	delete(s.sessions, id)
}

// Send delivers a reply from target id to every attached session.
func (s *Server) Send(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions[id] {
		select {
		case sess.out <- message:
		default:
			log.Warn("inspector session is not keeping up, dropping reply", "worker", id)
		}
	}
}

// Handler serves /json/list and /devtools/{id}.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /json", s.handleList)
	mux.HandleFunc("GET /json/list", s.handleList)
	mux.HandleFunc("GET /devtools/{id}", s.handleSession)
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("inspector server stopped", "error", err)
		}
	}()
	log.Info("inspector listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Close stops a started server and ends every session.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	for id, sessions := range s.sessions {
		for sess := range sessions {
			close(sess.out)
		}
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := make([]TargetInfo, 0, len(s.targets))
	for id, t := range s.targets {
		list = append(list, TargetInfo{
			ID:                   id,
			Type:                 "worker",
			Title:                t.Title(),
			URL:                  t.URL(),
			WebSocketDebuggerURL: "ws://" + r.Host + "/devtools/" + id,
		})
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	target, ok := s.targets[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown target", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug("inspector handshake failed", "worker", id, "error", err)
		return
	}
	defer conn.CloseNow()

	sess, ok := s.attach(id)
	if !ok {
		conn.Close(websocket.StatusGoingAway, "target gone")
		return
	}
	defer s.detach(id, sess)
	log.Info("inspector session attached", "worker", id)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return err
			}
			target.DispatchInspectorMessage(string(data))
		}
	})
	g.Go(func() error {
		for {
			select {
			case msg, ok := <-sess.out:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "target gone")
					return nil
				}
				if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	err = g.Wait()
	if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
		log.Debug("inspector session ended", "worker", id, "error", err)
	}
	log.Info("inspector session detached", "worker", id)
}

func (s *Server) attach(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[id]; !ok {
		return nil, false
	}
	sess := &session{out: make(chan string, sessionBuffer)}
	if s.sessions[id] == nil {
		s.sessions[id] = make(map[*session]struct{})
	}
	s.sessions[id][sess] = struct{}{}
	return sess, true
}

func (s *Server) detach(id string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id][sess]; ok {
		delete(s.sessions[id], sess)
		close(sess.out)
	}
}
