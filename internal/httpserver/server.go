// Package httpserver implements the raw, path-routed HTTP/1.1 framing layer
// (spec.md §4.4), grounded on original_source/nexus3/rpc/http.py's
// asyncio-stdlib listener: no net/http handler chain, a hand-rolled request
// parser reading directly off the connection so the exact per-field size
// caps and timeouts spec.md §4.4 names can be enforced precisely, something
// net/http's own limits don't line up with field-for-field.
package httpserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/agentid"
	"github.com/opencode-ai/opencode/internal/protocol"
	"github.com/opencode-ai/opencode/internal/rpctoken"
)

// Size and timeout limits, spec.md §4.4.
const (
	MaxRequestLineLength = 8 * 1024
	MaxHeaderNameLength  = 1 * 1024
	MaxHeaderValueLength = 8 * 1024
	MaxHeaderCount       = 128
	MaxTotalHeaderBytes  = 32 * 1024
	MaxBodySize          = 1 * 1024 * 1024
	ReadTimeout          = 30 * time.Second
)

// DefaultPort is the conventional bind port (spec.md §6).
const DefaultPort = 8765

// HTTPParseError is a malformed-request failure at the framing layer; it
// always maps to HTTP 400 with no JSON-RPC body (spec.md §7).
type HTTPParseError struct {
	Reason string
}

func (e *HTTPParseError) Error() string { return e.Reason }

// Dispatcher is the minimal surface both the Global Dispatcher and a
// per-agent Dispatcher present to the framing layer.
type Dispatcher interface {
	Dispatch(ctx context.Context, req protocol.Request, requesterID string) *protocol.Response
}

// Pool is the minimal surface the framing layer needs from the Agent Pool:
// agent lookup, atomic get-or-restore, and the shutdown signal.
type Pool interface {
	GetDispatcher(agentID string) (Dispatcher, bool)
	GetOrRestoreDispatcher(ctx context.Context, agentID string) (Dispatcher, bool)
	ShouldShutdown() bool
}

// Server is the raw HTTP/1.1 listener.
type Server struct {
	pool       Pool
	global     Dispatcher
	token      string // empty means auth disabled
	host       string
	port       int
	log        zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New builds a Server. host must be a loopback value; New refuses anything
// else with a configuration error rather than silently binding wide
// (spec.md §4.4, §3 Non-goals: "a public network interface ... is
// refused").
func New(pool Pool, global Dispatcher, host string, port int, token string, log zerolog.Logger) (*Server, error) {
	if host != "127.0.0.1" && host != "localhost" && host != "::1" {
		return nil, fmt.Errorf("security: http server must bind to localhost only, not %q", host)
	}
	return &Server{
		pool:   pool,
		global: global,
		token:  token,
		host:   host,
		port:   port,
		log:    log.With().Str("component", "httpserver").Logger(),
	}, nil
}

// Serve binds the listener and accepts connections until the pool signals
// shutdown, the global dispatcher reports a shutdown_server request, or ctx
// is cancelled (spec.md §6: "the server loop polls these
// flags at ≤ 100ms granularity, closes its listener, waits for the listener
// to drain, then exits").
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("json-rpc http server listening")

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConnection(ctx, conn)
			}()
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			goto shutdown
		case <-ticker.C:
			if s.pool.ShouldShutdown() {
				goto shutdown
			}
			if g, ok := s.global.(interface{ ShutdownRequested() bool }); ok && g.ShutdownRequested() {
				goto shutdown
			}
		}
	}

shutdown:
	_ = ln.Close()
	<-acceptDone
	s.wg.Wait()
	s.log.Info().Msg("json-rpc http server stopped")
	return nil
}

// Addr returns the bound address, valid only after Serve has started
// listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	req, parseErr := readHTTPRequest(conn)
	if parseErr != nil {
		writeRaw(conn, 400, fmt.Sprintf(`{"error": %q}`, parseErr.Error()))
		return
	}

	if req.Method != "POST" {
		writeRaw(conn, 405, `{"error": "Method not allowed. Use POST."}`)
		return
	}

	if code, body, ok := s.authenticate(req); !ok {
		writeRaw(conn, code, body)
		return
	}

	dispatcher, requesterID, status, errBody := s.route(ctx, req)
	if dispatcher == nil {
		writeRaw(conn, status, errBody)
		return
	}

	rpcReq, parseErrObj := protocol.ParseRequest([]byte(req.Body))
	if parseErrObj != nil {
		resp := protocol.NewErrorResponse(protocol.ID{}, protocol.NewError(protocol.CodeParseError, parseErrObj.Message))
		body, _ := protocol.Encode(resp)
		writeRaw(conn, 400, string(body))
		return
	}

	var rpcResp *protocol.Response
	func() {
		defer func() {
			if r := recover(); r != nil {
				rpcResp = protocol.NewErrorResponse(rpcReq.ID, protocol.NewError(protocol.CodeInternalError, fmt.Sprintf("internal error: %v", r)))
			}
		}()
		rpcResp = dispatcher.Dispatch(ctx, rpcReq, requesterID)
	}()

	if rpcResp != nil {
		body, err := protocol.Encode(rpcResp)
		if err != nil {
			writeRaw(conn, 500, `{"error": "failed to encode response"}`)
			return
		}
		writeRaw(conn, 200, string(body))
	} else {
		writeRaw(conn, 200, "")
	}
}

// route resolves the dispatcher for the request path (spec.md §4.4). A
// nil dispatcher return means the caller should write status/body verbatim
// and stop.
func (s *Server) route(ctx context.Context, req *rawHTTPRequest) (Dispatcher, string, int, string) {
	requesterID := req.Headers["x-agent-id"]

	switch {
	case req.Path == "/" || req.Path == "/rpc":
		return s.global, requesterID, 0, ""
	case strings.HasPrefix(req.Path, "/agent/"):
		id := strings.TrimPrefix(req.Path, "/agent/")
		if id == "" {
			return nil, "", 404, `{"error": "Not found. Use /, /rpc, or /agent/{agent_id}."}`
		}
		if err := agentid.Validate(id); err != nil {
			return nil, "", 404, `{"error": "Not found. Use /, /rpc, or /agent/{agent_id}."}`
		}
		if d, ok := s.pool.GetDispatcher(id); ok {
			return d, requesterID, 0, ""
		}
		if d, ok := s.pool.GetOrRestoreDispatcher(ctx, id); ok {
			return d, requesterID, 0, ""
		}
		return nil, "", 404, fmt.Sprintf(`{"error": "Agent not found: %s"}`, id)
	default:
		return nil, "", 404, `{"error": "Not found. Use /, /rpc, or /agent/{agent_id}."}`
	}
}

// authenticate enforces the bearer-token requirement (spec.md §4.4).
func (s *Server) authenticate(req *rawHTTPRequest) (int, string, bool) {
	if s.token == "" {
		return 0, "", true
	}
	header := req.Headers["authorization"]
	if header == "" {
		return 401, errorResponseBody(protocol.CodeInvalidRequest, "Authorization header required"), false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || !rpctoken.Validate(strings.TrimPrefix(header, prefix), s.token) {
		return 403, errorResponseBody(protocol.CodeInvalidRequest, "Invalid bearer token"), false
	}
	return 0, "", true
}

func errorResponseBody(code int, message string) string {
	resp := protocol.NewErrorResponse(protocol.ID{}, protocol.NewError(code, message))
	body, _ := protocol.Encode(resp)
	return string(body)
}

func writeRaw(conn net.Conn, status int, body string) {
	statusText := map[int]string{
		200: "OK", 400: "Bad Request", 401: "Unauthorized", 403: "Forbidden",
		404: "Not Found", 405: "Method Not Allowed", 500: "Internal Server Error",
	}[status]
	if statusText == "" {
		statusText = "Unknown"
	}
	bodyBytes := []byte(body)
	header := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: application/json; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, statusText, len(bodyBytes),
	)
	_, _ = io.WriteString(conn, header)
	_, _ = conn.Write(bodyBytes)
}

// rawHTTPRequest is the parsed framing-layer request, before any JSON-RPC
// decoding.
type rawHTTPRequest struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    string
}

func readHTTPRequest(conn net.Conn) (*rawHTTPRequest, error) {
	r := bufio.NewReaderSize(conn, 16*1024)

	_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	line, err := readLimitedLine(r, MaxRequestLineLength)
	if err != nil {
		return nil, &HTTPParseError{Reason: "request line too long"}
	}
	if len(line) == 0 {
		return nil, &HTTPParseError{Reason: "empty request"}
	}
	parts := strings.Split(strings.TrimRight(line, "\r\n"), " ")
	if len(parts) != 3 {
		return nil, &HTTPParseError{Reason: fmt.Sprintf("invalid request line: %s", line)}
	}
	method, path := parts[0], parts[1]

	headers := make(map[string]string)
	totalHeaderBytes := 0
	headerCount := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		hline, err := readLimitedLine(r, MaxHeaderValueLength+MaxHeaderNameLength+4)
		if err != nil {
			return nil, &HTTPParseError{Reason: "header value too long"}
		}
		trimmed := strings.TrimRight(hline, "\r\n")
		if trimmed == "" {
			break
		}
		totalHeaderBytes += len(hline)
		if totalHeaderBytes > MaxTotalHeaderBytes {
			return nil, &HTTPParseError{Reason: "total headers size exceeds limit"}
		}
		headerCount++
		if headerCount > MaxHeaderCount {
			return nil, &HTTPParseError{Reason: "too many headers"}
		}
		idx := strings.Index(trimmed, ":")
		if idx < 0 {
			continue // malformed header line: skipped, not rejected (spec.md §4.4)
		}
		name := strings.TrimSpace(trimmed[:idx])
		value := strings.TrimSpace(trimmed[idx+1:])
		if len(name) > MaxHeaderNameLength {
			return nil, &HTTPParseError{Reason: "header name too long"}
		}
		if len(value) > MaxHeaderValueLength {
			return nil, &HTTPParseError{Reason: "header value too long"}
		}
		headers[strings.ToLower(name)] = value
	}

	body := ""
	if cl, ok := headers["content-length"]; ok && cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return nil, &HTTPParseError{Reason: fmt.Sprintf("invalid content-length: %s", cl)}
		}
		if n > MaxBodySize {
			return nil, &HTTPParseError{Reason: fmt.Sprintf("request body too large: %d > %d", n, MaxBodySize)}
		}
		if n > 0 {
			buf := make([]byte, n)
			_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, &HTTPParseError{Reason: "request body read timeout or incomplete"}
			}
			body = string(buf)
		}
	}

	return &rawHTTPRequest{Method: method, Path: path, Headers: headers, Body: body}, nil
}

// readLimitedLine reads up to and including a trailing '\n', failing once
// more than maxLen bytes have been read without finding one.
func readLimitedLine(r *bufio.Reader, maxLen int) (string, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if len(buf) == 0 {
				return "", io.EOF
			}
			return string(buf), nil
		}
		buf = append(buf, b)
		if len(buf) > maxLen {
			return "", fmt.Errorf("line exceeds maximum length of %d bytes", maxLen)
		}
		if b == '\n' {
			return string(buf), nil
		}
	}
}
