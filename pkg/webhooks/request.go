// API requests and endpoints
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package webhooks

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// WebRequestError is returned to clients as the error message of a
// failed request.
type WebRequestError struct {
	Message string `json:"message"`
}

func (e *WebRequestError) Error() string {
	return e.Message
}

func requestErrorf(format string, args ...any) *WebRequestError {
	return &WebRequestError{Message: fmt.Sprintf(format, args...)}
}

// WebRequest is one API call: a path such as "objects/query" and its
// parameters.
type WebRequest struct {
	ID     any
	Method string
	Params map[string]any

	// clientID is the websocket client issuing the request, 0 for plain
	// HTTP and socket calls
	clientID int64
	response any
}

func newWebRequest(id any, method string, params map[string]any, clientID int64) *WebRequest {
	if params == nil {
		params = make(map[string]any)
	}
	return &WebRequest{ID: id, Method: method, Params: params, clientID: clientID}
}

// GetStr returns a string parameter.
func (wr *WebRequest) GetStr(key, def string) string {
	if s, ok := wr.Params[key].(string); ok {
		return s
	}
	return def
}

// GetDict returns an object parameter, or nil.
func (wr *WebRequest) GetDict(key string) map[string]any {
	d, _ := wr.Params[key].(map[string]any)
	return d
}

// Send sets the response. It may be called once.
func (wr *WebRequest) Send(data any) error {
	if wr.response != nil {
		return requestErrorf("multiple calls to send not allowed")
	}
	wr.response = data
	return nil
}

// Response returns what the endpoint sent, an empty object if nothing.
func (wr *WebRequest) Response() any {
	if wr.response == nil {
		return map[string]any{}
	}
	return wr.response
}

// EndpointHandler serves one endpoint. Handlers run with exclusive
// access to printer state.
type EndpointHandler func(wr *WebRequest) error

// RegisterEndpoint adds an endpoint. Paths are unique.
func (s *Server) RegisterEndpoint(path string, handler EndpointHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[path]; ok {
		return requestErrorf("Path already registered to an endpoint: %s", path)
	}
	s.endpoints[path] = handler
	return nil
}

func (s *Server) endpoint(path string) (EndpointHandler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.endpoints[path]
	if !ok {
		return nil, requestErrorf("No registered callback for path '%s'", path)
	}
	return h, nil
}

// methodPath maps a JSON-RPC method ("printer.objects.query") to its
// endpoint path ("objects/query").
func methodPath(method string) string {
	return strings.ReplaceAll(strings.TrimPrefix(method, "printer."), ".", "/")
}

func (s *Server) registerBuiltins() {
	for path, h := range map[string]EndpointHandler{
		"info":              s.handleInfo,
		"list_endpoints":    s.handleListEndpoints,
		"objects/list":      s.handleObjectsList,
		"objects/query":     s.handleObjectsQuery,
		"objects/subscribe": s.handleObjectsSubscribe,
		"gcode/script":      s.handleGCodeScript,
		"gcode/help":        s.handleGCodeHelp,
	} {
		_ = s.RegisterEndpoint(path, h)
	}
}

func (s *Server) handleInfo(wr *WebRequest) error {
	hostname, _ := os.Hostname()
	return wr.Send(map[string]any{
		"state":            s.p.State().String(),
		"state_message":    s.p.StateMessage(),
		"hostname":         hostname,
		"software_version": SoftwareVersion,
	})
}

func (s *Server) handleListEndpoints(wr *WebRequest) error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.endpoints))
	for path := range s.endpoints {
		paths = append(paths, path)
	}
	s.mu.Unlock()
	sort.Strings(paths)
	return wr.Send(map[string]any{"endpoints": paths})
}

func (s *Server) handleObjectsList(wr *WebRequest) error {
	return wr.Send(map[string]any{"objects": s.p.StatusObjects()})
}

// objectsParam converts {"toolhead": ["position"], "gcode_move": null}
// into attribute lists; nil means every attribute.
func objectsParam(wr *WebRequest) (map[string][]string, error) {
	raw := wr.GetDict("objects")
	if raw == nil {
		return nil, requestErrorf("Missing Argument [objects]")
	}
	objects := make(map[string][]string, len(raw))
	for name, v := range raw {
		list, _ := v.([]any)
		var attrs []string
		for _, a := range list {
			if str, ok := a.(string); ok {
				attrs = append(attrs, str)
			}
		}
		objects[name] = attrs
	}
	return objects, nil
}

// queryStatus collects the requested attributes. Unknown objects are
// skipped.
func (s *Server) queryStatus(objects map[string][]string) map[string]any {
	result := make(map[string]any, len(objects))
	for name, attrs := range objects {
		st, ok := s.p.Status(name)
		if !ok {
			continue
		}
		if len(attrs) == 0 {
			result[name] = st
			continue
		}
		filtered := make(map[string]any, len(attrs))
		for _, a := range attrs {
			if v, ok := st[a]; ok {
				filtered[a] = v
			}
		}
		result[name] = filtered
	}
	return result
}

func (s *Server) handleObjectsQuery(wr *WebRequest) error {
	objects, err := objectsParam(wr)
	if err != nil {
		return err
	}
	return wr.Send(map[string]any{
		"eventtime": s.p.Reactor().Monotonic(),
		"status":    s.queryStatus(objects),
	})
}

func (s *Server) handleObjectsSubscribe(wr *WebRequest) error {
	if wr.clientID == 0 {
		return requestErrorf("objects/subscribe requires a websocket connection")
	}
	objects, err := objectsParam(wr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.subscriptions[wr.clientID] = objects
	s.mu.Unlock()
	return wr.Send(map[string]any{
		"eventtime": s.p.Reactor().Monotonic(),
		"status":    s.queryStatus(objects),
	})
}

func (s *Server) handleGCodeScript(wr *WebRequest) error {
	script := wr.GetStr("script", "")
	if script == "" {
		return requestErrorf("Missing Argument [script]")
	}
	if err := s.p.GCode().RunScript(script); err != nil {
		return err
	}
	return wr.Send(map[string]any{})
}

func (s *Server) handleGCodeHelp(wr *WebRequest) error {
	help := make(map[string]any)
	for name, desc := range s.p.GCode().Commands() {
		help[name] = desc
	}
	return wr.Send(help)
}
