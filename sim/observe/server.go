package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fernandobusta/farm-concurrency/sim"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server serves /metrics, /snapshot, /ws and /healthz for one farm.
type Server struct {
	src      Source
	ticks    sim.TickSource
	addr     string
	registry *prometheus.Registry
	upgrader websocket.Upgrader

	bound    atomic.Pointer[string]
	sessions atomic.Int64
	nextID   atomic.Uint64
}

// NewServer registers the farm collector and the Go runtime collector on a
// private registry. The websocket stream paces itself on ticks. addr is only
// used by Run.
func NewServer(src Source, ticks sim.TickSource, addr string) (*Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(src)); err != nil {
		return nil, fmt.Errorf("observe: register farm collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("observe: register go collector: %w", err)
	}
	return &Server{
		src:      src,
		ticks:    ticks,
		addr:     addr,
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}, nil
}

// Addr returns the address Run is listening on, or "" before it listens.
func (s *Server) Addr() string {
	if p := s.bound.Load(); p != nil {
		return *p
	}
	return ""
}

// Sessions returns the number of open websocket streams.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/snapshot", s.snapshotHandler)
	mux.HandleFunc("/ws", s.wsHandler)
	return mux
}

// Run serves until ctx is done, then shuts the server down. Open websocket
// streams end with ctx as well. Use it as a farm service.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("observe: listen %s: %w", s.addr, err)
	}
	addr := ln.Addr().String()
	s.bound.Store(&addr)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logrus.Infof("observer listening on %s", addr)
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	return fmt.Errorf("observe: serve: %w", err)
}

func (s *Server) snapshotHandler(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(s.src.Snapshot())
}

// wsHandler sends the current snapshot, then one per tick until the client
// goes away, the request context ends, or the clock stops.
func (s *Server) wsHandler(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := fmt.Sprintf("ws-%d", s.nextID.Add(1))
	log := logrus.WithField("session", id)
	s.sessions.Add(1)
	defer s.sessions.Add(-1)
	log.Debug("observer session opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: the client never sends anything we use, but reading is how
	// a close from the other side is noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(s.src.Snapshot()); err != nil {
			log.WithError(err).Debug("observer session write failed")
			return
		}
		if err := s.ticks.AwaitNextTick(ctx); err != nil {
			reason := "bye"
			if errors.Is(err, sim.ErrClockStopped) {
				reason = "clock stopped"
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
				time.Now().Add(time.Second))
			log.Debugf("observer session closed: %s", reason)
			return
		}
	}
}
