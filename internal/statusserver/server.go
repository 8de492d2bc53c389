// Package statusserver exposes download status over HTTP: JSON snapshots,
// Prometheus metrics and a websocket stream of live notifications.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/tanq16/rangefetch/internal/events"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Hub fans notifications out to websocket subscribers. A slow subscriber
// misses notifications instead of stalling the download.
type Hub struct {
	mu        sync.Mutex
	subs      map[chan events.Notification]struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[chan events.Notification]struct{}),
		done: make(chan struct{}),
	}
}

// Close tells every subscriber stream to end. Notify keeps working and
// simply has nobody to deliver to.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

func (h *Hub) Notify(n events.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (h *Hub) subscribe() (<-chan events.Notification, func()) {
	ch := make(chan events.Notification, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

type Server struct {
	log      zerolog.Logger
	status   *events.Memory
	hub      *Hub
	srv      *http.Server
	listener net.Listener
	streams  sync.WaitGroup
}

func New(addr string, status *events.Memory, hub *Hub, logger zerolog.Logger) *Server {
	s := &Server{log: logger, status: status, hub: hub}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			s.log.Error().Err(err).Msg("write healthz response")
		}
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	get := r.PathPrefix("/v1").Methods("GET").Subrouter()
	get.HandleFunc("/downloads", s.getDownloads)
	get.HandleFunc("/downloads/{id}", s.getDownload)
	get.HandleFunc("/kinds/{kind}", s.getKind)
	get.HandleFunc("/events", s.streamEvents)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("status server stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	return nil
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.srv.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests, ends websocket streams (which
// http.Server.Shutdown does not track) and waits for both.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	err := s.srv.Shutdown(ctx)
	streamsDone := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(streamsDone)
	}()
	select {
	case <-streamsDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(started)).Msg("status request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode status response")
	}
}

func (s *Server) getDownloads(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status.All())
}

func (s *Server) getDownload(w http.ResponseWriter, r *http.Request) {
	n, ok := s.status.Latest(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}

func (s *Server) getKind(w http.ResponseWriter, r *http.Request) {
	kind, err := events.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, ok := s.status.LatestOfKind(kind)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	s.streams.Add(1)
	defer s.streams.Done()
	// Subscribe before the handshake so nothing sent after Dial returns is lost.
	ch, unsubscribe := s.hub.subscribe()
	defer unsubscribe()
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-s.hub.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case n := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, n)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("websocket subscriber gone")
				return
			}
		}
	}
}
