// Package rpc provides a lightweight JSON-over-TCP RPC framework for
// internal service-to-service calls, used by the stats service to read live
// analyzer state without going through Kafka or PostgreSQL.
//
// Protocol: newline-delimited JSON over a persistent TCP connection. Each
// request carries a method name, a client-assigned ID, and raw params; the
// response echoes the ID with either a result payload or an error string.
//
// Example server:
//
//	s := rpc.NewServer()
//	s.Register("Analyzer.CorpusState", func(ctx context.Context, params json.RawMessage) (any, error) {
//	    ...
//	})
//	s.Listen("localhost:9095")
//	go s.Serve()
//
// Example client:
//
//	c, _ := rpc.Dial("localhost:9095", 3*time.Second)
//	state, err := rpc.Call[CorpusState](ctx, c, "Analyzer.CorpusState", req)
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// HandlerFunc processes an RPC request and returns a response value or error.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Request is the wire format for an RPC request.
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Response is the wire format for an RPC response.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Server is a lightweight JSON-over-TCP RPC server.
type Server struct {
	handlers map[string]HandlerFunc
	listener net.Listener
	logger   *slog.Logger
	mu       sync.RWMutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	// OnRequest, when set, is called after each dispatched request with the
	// method name and outcome; the analyzer feeds it into rpc_requests_total.
	OnRequest func(method string, err error)
}

// NewServer creates a new RPC server.
func NewServer() *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
		logger:   slog.Default().With("component", "rpc-server"),
		done:     make(chan struct{}),
	}
}

// Register adds a handler for the given RPC method name.
// Method names follow the "Service.Method" convention.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// Listen binds the server's TCP listener and returns the bound address,
// which is useful with ":0" in tests.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Serve accepts connections on the listener bound by Listen and blocks
// until Stop is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		return fmt.Errorf("rpc server: Serve called before Listen")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				s.logger.Error("accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return // connection closed or read error
		}

		s.mu.RLock()
		handler, exists := s.handlers[req.Method]
		s.mu.RUnlock()

		resp := Response{ID: req.ID}

		if !exists {
			resp.Error = fmt.Sprintf("unknown method: %s", req.Method)
			if s.OnRequest != nil {
				s.OnRequest(req.Method, fmt.Errorf("unknown method"))
			}
		} else {
			result, err := handler(context.Background(), req.Params)
			if err != nil {
				resp.Error = err.Error()
			} else if data, merr := json.Marshal(result); merr != nil {
				resp.Error = fmt.Sprintf("encoding result: %v", merr)
			} else {
				resp.Result = data
			}
			if s.OnRequest != nil {
				s.OnRequest(req.Method, err)
			}
		}

		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Stop gracefully shuts down the server. Open connections are closed;
// clients with in-flight calls see a read error and must reconnect.
// Stop is idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("rpc server stopped")
	})
}
