package harness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"rodharness/internal/lifecycle"
	"rodharness/internal/logging"
)

var _ lifecycle.Server = (*StaticServer)(nil)

// StaticServer serves a directory of test fixtures on a loopback port. Register it with
// Run.UseServer.
type StaticServer struct {
	dir    string
	logger *zap.Logger
	routes func(chi.Router)

	mu   sync.Mutex
	srv  *http.Server
	host string
}

// NewStaticServer returns a server for the files under dir. routes, if given, adds extra
// handlers before the file server.
func NewStaticServer(dir string, logger *zap.Logger, routes ...func(chi.Router)) *StaticServer {
	s := &StaticServer{dir: dir, logger: logging.For(logger, logging.CategoryServer)}
	if len(routes) > 0 {
		s.routes = routes[0]
	}
	return s
}

// Start listens on 127.0.0.1 with a free port.
func (s *StaticServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	router := chi.NewRouter()
	if s.routes != nil {
		s.routes(router)
	}
	router.Handle("/*", http.FileServer(http.Dir(s.dir)))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.host = "http://" + ln.Addr().String()

	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("Fixture server stopped", zap.String("host", s.Host()), zap.Error(err))
		}
	}()
	s.logger.Info("Serving fixtures", zap.String("host", s.host), zap.String("dir", s.dir))
	return nil
}

// Stop shuts the server down, waiting for open requests until ctx ends.
func (s *StaticServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Host returns the base URL, empty before Start.
func (s *StaticServer) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// URL joins path to the base URL.
func (s *StaticServer) URL(path string) string {
	return s.Host() + "/" + strings.TrimPrefix(path, "/")
}
