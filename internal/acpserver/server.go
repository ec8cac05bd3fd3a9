// Package acpserver implements the ACP server dispatch (C9): the
// line-delimited JSON-RPC connection to a client, request/notification
// routing, capability negotiation, and the outbound half of the protocol
// (session/update notifications, session/request_permission, and the
// fs/terminal ext requests that let an external client mediate file and
// terminal access on the agent's behalf).
package acpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/kandev/agentrt/internal/chattemplate"
	"github.com/kandev/agentrt/internal/common/logger"
	"github.com/kandev/agentrt/internal/mcpserver"
	"github.com/kandev/agentrt/internal/session"
	"github.com/kandev/agentrt/internal/todo"
	"github.com/kandev/agentrt/internal/toolhandler"
	"github.com/kandev/agentrt/internal/turn"
	"github.com/kandev/agentrt/pkg/acp/jsonrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RendererFactory builds the chat-template renderer for a session, bound to
// its model id and native template (§4.6); renderers are not shared across
// sessions since native templates vary per model.
type RendererFactory func(sess *session.Session) *chattemplate.Renderer

// Deps bundles C9's collaborators. Tools and Turn are expected to already
// carry this Server as their Notifier/FS/Terminal collaborator — Go's
// pointer-struct field injection lets the caller wire the cycle (Server
// needs Tools/Turn, Tools/Turn need Server) by constructing the zero-value
// pointers first and populating fields in either order.
type Deps struct {
	Sessions       *session.Registry
	Tools          *toolhandler.Handler
	Turn           *turn.Controller
	MCP            *mcpserver.Collaborator
	Todos          *todo.Store
	Modes          []session.Mode
	DefaultModelID string
	Renderer       RendererFactory
	Log            *logger.Logger
}

// Server is one client connection's dispatcher: readLoop/requestWorker/
// notifWorker run concurrently over a single stdio pipe, coordinated via
// errgroup, with a single writer mutex guarding the wire (§4.9/§5).
type Server struct {
	deps Deps
	log  *logger.Logger

	writeMu sync.Mutex
	w       *bufio.Writer

	clientCaps atomic.Pointer[jsonrpc.ClientCapabilities]

	nextID int64

	pendingMu sync.Mutex
	pending   map[string]chan envelope

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	termMu      sync.Mutex
	termSession map[string]string // terminalId -> sessionId
	termCwd     map[string]string // sessionId -> last ChangeDir target

	// shutdownCh closes once Serve returns, giving any turn cleanup still
	// running on a detached context (see handleSessionPrompt) a final signal
	// to stop rather than running until its grace-period timeout expires.
	shutdownCh chan struct{}
}

// New constructs a Server over deps.
func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		deps:        deps,
		log:         log.WithFields(zap.String("component", "acp-server")),
		pending:     make(map[string]chan envelope),
		cancels:     make(map[string]context.CancelFunc),
		termSession: make(map[string]string),
		termCwd:     make(map[string]string),
		shutdownCh:  make(chan struct{}),
	}
}

// envelope is the superset shape used to classify an incoming line as a
// request (method + id), a notification (method, no id), or a response to
// one of our own outbound requests (no method).
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc.Error  `json:"error,omitempty"`
}

// Serve reads newline-delimited JSON-RPC messages from r and writes
// responses/notifications to w until r is exhausted, ctx is cancelled, or
// an unrecoverable I/O error occurs.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.w = bufio.NewWriter(w)
	defer close(s.shutdownCh)

	requests := make(chan jsonrpc.Request, 64)
	notifications := make(chan jsonrpc.Request, 64)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(requests)
		defer close(notifications)
		return s.readLoop(gctx, r, requests, notifications)
	})
	g.Go(func() error { return s.requestWorker(gctx, requests) })
	g.Go(func() error { return s.notifWorker(gctx, notifications) })

	err := g.Wait()
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLoop classifies each line and routes it into requests or
// notifications. A malformed line gets a parse-error response but doesn't
// end the connection.
func (s *Server) readLoop(ctx context.Context, r io.Reader, requests, notifications chan<- jsonrpc.Request) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.writeResponse(jsonrpc.Response{
				JSONRPC: "2.0",
				ID:      nil,
				Error:   &jsonrpc.Error{Code: jsonrpc.ParseError, Message: "parse error: " + err.Error()},
			})
			continue
		}

		if env.Method == "" {
			s.deliverResponse(env)
			continue
		}

		if len(env.ID) == 0 || string(env.ID) == "null" {
			req := jsonrpc.Request{JSONRPC: env.JSONRPC, Method: env.Method, Params: env.Params}
			select {
			case notifications <- req:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		var id interface{}
		_ = json.Unmarshal(env.ID, &id)
		req := jsonrpc.Request{JSONRPC: env.JSONRPC, ID: id, Method: env.Method, Params: env.Params}
		select {
		case requests <- req:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// requestWorker processes requests serially, one at a time, preserving
// per-connection ordering for the request half of the protocol (§5).
func (s *Server) requestWorker(ctx context.Context, requests <-chan jsonrpc.Request) error {
	for req := range requests {
		result, rpcErr := s.handleRequest(ctx, req)
		resp := jsonrpc.Response{JSONRPC: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			raw, err := json.Marshal(result)
			if err != nil {
				resp.Error = &jsonrpc.Error{Code: jsonrpc.InternalError, Message: "marshal result: " + err.Error()}
			} else {
				resp.Result = raw
			}
		}
		s.writeResponse(resp)
	}
	return nil
}

// notifWorker spawns a goroutine per notification so a slow handler never
// blocks session/cancel — the one notification that must reach its target
// immediately regardless of what else is in flight (§4.9).
func (s *Server) notifWorker(ctx context.Context, notifications <-chan jsonrpc.Request) error {
	var wg sync.WaitGroup
	for n := range notifications {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleNotification(ctx, n)
		}()
	}
	wg.Wait()
	return nil
}

// handleRequest dispatches req to its method handler. An unmapped method is
// MethodNotFound; handlers return their own error codes per §7's taxonomy.
func (s *Server) handleRequest(ctx context.Context, req jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	switch req.Method {
	case jsonrpc.MethodInitialize:
		return s.handleInitialize(req)
	case jsonrpc.MethodAuthenticate:
		return nil, &jsonrpc.Error{Code: jsonrpc.MethodNotFound, Message: "authenticate is not supported"}
	case jsonrpc.MethodSessionNew:
		return s.handleSessionNew(ctx, req)
	case jsonrpc.MethodSessionLoad:
		return s.handleSessionLoad(req)
	case jsonrpc.MethodSessionSetMode:
		return s.handleSessionSetMode(req)
	case jsonrpc.MethodSessionPrompt:
		return s.handleSessionPrompt(ctx, req)
	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.MethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

// handleNotification dispatches a no-response message. session/cancel is
// the only one the protocol names; anything else is logged and dropped.
func (s *Server) handleNotification(ctx context.Context, req jsonrpc.Request) {
	switch req.Method {
	case jsonrpc.MethodSessionCancel:
		s.handleSessionCancel(req)
	default:
		s.log.Warn("unhandled notification", zap.String("method", req.Method))
	}
}

// deliverResponse routes a response line to the pending outbound request
// that is waiting on its id, if any.
func (s *Server) deliverResponse(env envelope) {
	key := string(env.ID)
	s.pendingMu.Lock()
	ch, ok := s.pending[key]
	s.pendingMu.Unlock()
	if !ok {
		return
	}
	ch <- env
}

// sendRequest issues an agent-to-client request and blocks for its
// response or ctx cancellation. Used for session/request_permission and
// the fs/terminal ext methods, which the client — not the agent — services.
func (s *Server) sendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := fmt.Sprintf("out-%d", atomic.AddInt64(&s.nextID, 1))
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	key := `"` + id + `"`
	ch := make(chan envelope, 1)
	s.pendingMu.Lock()
	s.pending[key] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, key)
		s.pendingMu.Unlock()
	}()

	req := jsonrpc.Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
	if err := s.writeMessage(req); err != nil {
		return nil, err
	}

	select {
	case env := <-ch:
		if env.Error != nil {
			return nil, fmt.Errorf("%s: %s", method, env.Error.Message)
		}
		return env.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// notify sends an agent-to-client notification (no response expected).
func (s *Server) notify(method string, params json.RawMessage) error {
	return s.writeMessage(jsonrpc.Notification{JSONRPC: "2.0", Method: method, Params: params})
}

func (s *Server) writeResponse(resp jsonrpc.Response) {
	if err := s.writeMessage(resp); err != nil {
		s.log.Error("write response failed", zap.Error(err))
	}
}

// writeMessage serializes v and writes it as one newline-terminated line,
// guarded by writeMu so responses, notifications, and outbound requests
// never interleave mid-line on the wire.
func (s *Server) writeMessage(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.w.Write(raw); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

// capsFor projects the negotiated client capabilities into
// toolhandler.Capabilities, defaulting to all-false before initialize.
func (s *Server) capsFor() toolhandler.Capabilities {
	caps := s.clientCaps.Load()
	if caps == nil {
		return toolhandler.Capabilities{}
	}
	return toolhandler.Capabilities{
		FSRead:   caps.FS.ReadTextFile,
		FSWrite:  caps.FS.WriteTextFile,
		Terminal: caps.Terminal,
	}
}
