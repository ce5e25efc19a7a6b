package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/swaytab/swaytab/internal/engine"
	"github.com/swaytab/swaytab/internal/metrics"
	"github.com/swaytab/swaytab/internal/rules"
	"github.com/swaytab/swaytab/internal/tree"
	"github.com/swaytab/swaytab/internal/util"
)

const connTimeout = 5 * time.Second

// Daemon is the engine surface the control socket exposes.
type Daemon interface {
	Status() engine.Status
	Rules() []rules.Status
	History() []engine.Record
	Metrics() metrics.Snapshot
	CurrentTree(ctx context.Context) (*tree.Node, error)
}

// Server hosts the control socket and serves requests.
type Server struct {
	daemon     Daemon
	logger     *util.Logger
	reload     func(reason string) error
	socketPath string

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a control server. An empty socketPath selects
// DefaultSocketPath.
func NewServer(d Daemon, logger *util.Logger, reload func(reason string) error, socketPath string) (*Server, error) {
	if socketPath == "" {
		var err error
		if socketPath, err = DefaultSocketPath(); err != nil {
			return nil, err
		}
	}
	return &Server{
		daemon:     d,
		logger:     logger,
		reload:     reload,
		socketPath: socketPath,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Serve listens on the control socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.logger.Infof("control server listening on %s", s.socketPath)
	defer s.cleanup()

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := s.accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("control accept error: %v", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) accept() (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, net.ErrClosed
	}
	return listener.Accept()
}

func (s *Server) prepareSocket() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("remove control socket: %v", err)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.writeError(conn, fmt.Errorf("decode request: %w", err))
		return
	}
	s.logger.Debugf("control request %q", req.Action)
	switch req.Action {
	case ActionStatus:
		s.writeOK(conn, s.daemon.Status())
	case ActionRulesGet:
		s.writeOK(conn, RulesResult{Rules: s.daemon.Rules()})
	case ActionInspect:
		s.writeOK(conn, InspectorSnapshot{Rules: s.daemon.Rules(), History: s.daemon.History()})
	case ActionMetrics:
		s.writeOK(conn, s.daemon.Metrics())
	case ActionTree:
		s.handleTree(ctx, conn)
	case ActionReload:
		s.handleReload(conn)
	default:
		s.writeError(conn, fmt.Errorf("unknown action %q", req.Action))
	}
}

func (s *Server) handleTree(ctx context.Context, conn net.Conn) {
	root, err := s.daemon.CurrentTree(ctx)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, tree.Filter(root))
}

func (s *Server) handleReload(conn net.Conn) {
	if s.reload == nil {
		s.writeError(conn, errors.New("reload not supported"))
		return
	}
	if err := s.reload("control request"); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func (s *Server) writeOK(conn net.Conn, data any) {
	_ = json.NewEncoder(conn).Encode(Response{Status: StatusOK, Data: data})
}

func (s *Server) writeError(conn net.Conn, err error) {
	resp := Response{Status: StatusError}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = json.NewEncoder(conn).Encode(resp)
}
