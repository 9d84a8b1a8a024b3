// Websocket client connections
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package webhooks

import (
	"encoding/json"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/printer"
)

const (
	wsReadLimit    = 512 * 1024
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
	wsSendBuffer   = 64
)

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	once   sync.Once

	// lastStatus is what the client has been told so far; only touched
	// with exclusive access to printer state
	lastStatus map[string]map[string]any
	logger     *log.Logger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &wsClient{
		id:         s.nextID.Add(1),
		conn:       conn,
		server:     s,
		sendCh:     make(chan any, wsSendBuffer),
		done:       make(chan struct{}),
		lastStatus: make(map[string]map[string]any),
		logger:     s.logger.WithPrefix("ws"),
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c.id] = c
	s.wg.Add(2)
	s.mu.Unlock()
	s.logger.WithField("client", c.id).Info("websocket client connected")

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()

	var ready bool
	_ = s.p.Exec(s.ctx, func() error {
		ready = s.p.State() == printer.StateReady
		return nil
	})
	c.send(notification("notify_klippy_connected", nil))
	if ready {
		c.send(notification("notify_klippy_ready", nil))
	}

	defer s.wg.Done()
	c.readPump()
}

func (c *wsClient) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.logger.WithField("client", c.id).Warn("send buffer full, dropping message")
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("read failed")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.WithError(err).Debug("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) handleMessage(data []byte) {
	var req jsonRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.send(jsonRPCResponse{
			JSONRPC: "2.0",
			Error:   &jsonRPCError{Code: codeParseError, Message: "Parse error"},
		})
		return
	}
	resp := c.server.dispatch(c.server.ctx, req, c.id, "websocket")
	if req.Method == "printer.objects.subscribe" && resp.Error == nil {
		// the subscribe reply carries the full status; pushes are diffs
		c.resetStatus(resp.Result)
	}
	c.send(resp)
}

func (c *wsClient) resetStatus(result any) {
	res, _ := result.(map[string]any)
	status, _ := res["status"].(map[string]any)
	_ = c.server.p.Exec(c.server.ctx, func() error {
		c.lastStatus = make(map[string]map[string]any, len(status))
		for name, st := range status {
			m, ok := st.(map[string]any)
			if !ok {
				continue
			}
			// later diffs must not write into the reply being sent
			last := make(map[string]any, len(m))
			for k, v := range m {
				last[k] = v
			}
			c.lastStatus[name] = last
		}
		return nil
	})
}

// diffStatus returns the attributes that changed since the last push and
// records them as sent.
func (c *wsClient) diffStatus(status map[string]any) map[string]any {
	changed := make(map[string]any)
	for name, st := range status {
		attrs, ok := st.(map[string]any)
		if !ok {
			continue
		}
		last := c.lastStatus[name]
		if last == nil {
			last = make(map[string]any, len(attrs))
			c.lastStatus[name] = last
		}
		diff := make(map[string]any)
		for k, v := range attrs {
			if old, ok := last[k]; ok && reflect.DeepEqual(old, v) {
				continue
			}
			diff[k] = v
			last[k] = v
		}
		if len(diff) > 0 {
			changed[name] = diff
		}
	}
	return changed
}
