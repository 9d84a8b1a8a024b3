// Unix socket API server (ETX framed JSON)
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package webhooks

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"os"
)

// etx terminates every message on the unix socket.
const etx = 0x03

type socketRequest struct {
	ID     any            `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// ListenUnix accepts API clients on a unix socket until Shutdown. Methods
// are endpoint paths ("objects/query"); requests without an id get no
// reply.
func (s *Server) ListenUnix(path string) error {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		l.Close()
		return net.ErrClosed
	}
	s.unixListener = l
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.WithField("path", path).Info("unix socket listening")
	go func() {
		defer s.wg.Done()
		s.acceptLoop(l)
	}()
	return nil
}

func (s *Server) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.WithError(err).Warn("accept failed")
			}
			return
		}
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.sockets[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.serveSocket(conn)
		}()
	}
}

func (s *Server) serveSocket(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.sockets, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	for {
		msg, err := r.ReadBytes(etx)
		if err != nil {
			return
		}
		reply := s.socketReply(msg[:len(msg)-1])
		if reply == nil {
			continue
		}
		data, err := json.Marshal(reply)
		if err != nil {
			s.logger.WithError(err).Warn("encode reply")
			continue
		}
		if _, err := conn.Write(append(data, etx)); err != nil {
			return
		}
	}
}

func (s *Server) socketReply(msg []byte) map[string]any {
	var req socketRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		s.logger.WithError(err).Warn("bad socket request")
		return nil
	}
	wr := newWebRequest(req.ID, req.Method, req.Params, 0)
	_, err := s.call(s.ctx, wr, "unix")
	if req.ID == nil {
		return nil
	}
	if err != nil {
		return map[string]any{
			"id":    req.ID,
			"error": map[string]any{"error": "WebRequestError", "message": err.Error()},
		}
	}
	return map[string]any{"id": req.ID, "result": wr.Response()}
}
