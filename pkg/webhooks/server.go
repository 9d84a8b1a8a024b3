// Package webhooks serves the printer API: JSON-RPC over HTTP and
// websocket, a small REST surface, Prometheus metrics and the ETX framed
// unix socket used by Klipper front-ends. Every request runs through
// printer.Exec so it never races the G-code loop.
package webhooks

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/metrics"
	"klipper-go-transform/pkg/printer"
	"klipper-go-transform/pkg/reactor"
)

// SoftwareVersion is reported by the info endpoint.
var SoftwareVersion = "klipper-go-transform-dev"

// statusInterval is the subscription push period in seconds.
const statusInterval = 0.25

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeServerError    = -32000
)

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func notification(method string, params any) jsonRPCNotification {
	return jsonRPCNotification{JSONRPC: "2.0", Method: method, Params: params}
}

// Server is the API front-end of one printer.
type Server struct {
	p        *printer.Printer
	upgrader websocket.Upgrader

	mu            sync.Mutex
	endpoints     map[string]EndpointHandler
	clients       map[int64]*wsClient
	subscriptions map[int64]map[string][]string
	sockets       map[net.Conn]struct{}
	httpServer    *http.Server
	unixListener  net.Listener
	nextID        atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup
	timer  *reactor.Timer
	logger *log.Logger
}

// New creates the server and registers the built-in endpoints. Status
// pushes to subscribers start once the printer's reactor runs.
func New(p *printer.Printer) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		p:             p,
		endpoints:     make(map[string]EndpointHandler),
		clients:       make(map[int64]*wsClient),
		subscriptions: make(map[int64]map[string][]string),
		sockets:       make(map[net.Conn]struct{}),
		ctx:           ctx,
		cancel:        cancel,
		logger:        log.GetLogger("webhooks"),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	s.registerBuiltins()
	s.timer = p.Reactor().RegisterTimer(s.broadcastStatus, reactor.NOW)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("GET /websocket", s.handleWebSocket)
	mux.HandleFunc("GET /printer/info", s.restEndpoint("info"))
	mux.HandleFunc("GET /printer/objects/list", s.restEndpoint("objects/list"))
	mux.HandleFunc("GET /printer/objects/query", s.handleRESTQuery)
	mux.HandleFunc("POST /printer/gcode/script", s.handleRESTScript)
	mux.HandleFunc("GET /printer/gcode/help", s.restEndpoint("gcode/help"))
	mux.Handle("GET /metrics", metrics.Handler())
	return corsMiddleware(mux)
}

// ListenAndServe serves HTTP on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves HTTP on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()
	s.logger.WithField("addr", l.Addr().String()).Info("api server listening")
	err := srv.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listeners, disconnects every client and waits for
// the connection goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.p.Reactor().UnregisterTimer(s.timer)

	s.mu.Lock()
	srv := s.httpServer
	ul := s.unixListener
	clients := make([]*wsClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	for conn := range s.sockets {
		conn.Close()
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if ul != nil {
		ul.Close()
	}
	for _, c := range clients {
		c.close()
	}
	s.wg.Wait()
	s.logger.Info("api server stopped")
	return err
}

// call runs the endpoint of wr with exclusive access to printer state.
func (s *Server) call(ctx context.Context, wr *WebRequest, transport string) (int, error) {
	h, err := s.endpoint(wr.Method)
	if err != nil {
		metrics.APIRequests.WithLabelValues(transport, "not_found").Inc()
		return codeMethodNotFound, err
	}
	if err := s.p.Exec(ctx, func() error { return h(wr) }); err != nil {
		metrics.APIRequests.WithLabelValues(transport, "error").Inc()
		s.logger.WithFields(log.Fields{"method": wr.Method, "transport": transport}).
			WithError(err).Debug("request failed")
		return codeServerError, err
	}
	metrics.APIRequests.WithLabelValues(transport, "ok").Inc()
	return 0, nil
}

func (s *Server) dispatch(ctx context.Context, req jsonRPCRequest, clientID int64, transport string) jsonRPCResponse {
	wr := newWebRequest(req.ID, methodPath(req.Method), req.Params, clientID)
	if code, err := s.call(ctx, wr, transport); err != nil {
		return jsonRPCResponse{JSONRPC: "2.0", Error: &jsonRPCError{Code: code, Message: err.Error()}, ID: req.ID}
	}
	return jsonRPCResponse{JSONRPC: "2.0", Result: wr.Response(), ID: req.ID}
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, jsonRPCResponse{
			JSONRPC: "2.0",
			Error:   &jsonRPCError{Code: codeParseError, Message: "Parse error"},
		})
		return
	}
	writeJSON(w, http.StatusOK, s.dispatch(r.Context(), req, 0, "http"))
}

// restEndpoint serves a parameterless endpoint as {"result": ...}.
func (s *Server) restEndpoint(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveREST(w, r, newWebRequest(nil, path, nil, 0))
	}
}

func (s *Server) serveREST(w http.ResponseWriter, r *http.Request, wr *WebRequest) {
	code, err := s.call(r.Context(), wr, "rest")
	if err != nil {
		status := http.StatusBadRequest
		if code == codeMethodNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{
			"error": map[string]any{"code": status, "message": err.Error()},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": wr.Response()})
}

// handleRESTQuery serves /printer/objects/query?toolhead=position,homed_axes&gcode_move
func (s *Server) handleRESTQuery(w http.ResponseWriter, r *http.Request) {
	objects := make(map[string]any)
	for name, values := range r.URL.Query() {
		var attrs []any
		for _, v := range values {
			for _, a := range strings.Split(v, ",") {
				if a = strings.TrimSpace(a); a != "" {
					attrs = append(attrs, a)
				}
			}
		}
		objects[name] = attrs
	}
	s.serveREST(w, r, newWebRequest(nil, "objects/query", map[string]any{"objects": objects}, 0))
}

// handleRESTScript takes the script from ?script= or a JSON body.
func (s *Server) handleRESTScript(w http.ResponseWriter, r *http.Request) {
	params := map[string]any{}
	if script := r.URL.Query().Get("script"); script != "" {
		params["script"] = script
	} else if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"code": http.StatusBadRequest, "message": err.Error()},
		})
		return
	}
	s.serveREST(w, r, newWebRequest(nil, "gcode/script", params, 0))
}

// RespondGCode forwards a G-code response to every websocket client.
func (s *Server) RespondGCode(msg string) {
	n := notification("notify_gcode_response", []any{msg})
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.send(n)
	}
}

// broadcastStatus is a reactor timer: it pushes changed attributes of
// subscribed objects to their clients.
func (s *Server) broadcastStatus(eventtime float64) float64 {
	s.mu.Lock()
	type target struct {
		client  *wsClient
		objects map[string][]string
	}
	targets := make([]target, 0, len(s.subscriptions))
	for id, objects := range s.subscriptions {
		if c, ok := s.clients[id]; ok {
			targets = append(targets, target{c, objects})
		}
	}
	s.mu.Unlock()

	for _, t := range targets {
		status := s.queryStatus(t.objects)
		changed := t.client.diffStatus(status)
		if len(changed) == 0 {
			continue
		}
		t.client.send(notification("notify_status_update", []any{changed, eventtime}))
	}
	return eventtime + statusInterval
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c.id)
	delete(s.subscriptions, c.id)
	s.mu.Unlock()
	s.logger.WithField("client", c.id).Info("websocket client disconnected")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
