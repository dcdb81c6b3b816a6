//  Copyright 2026 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package command serves JSON requests of local clients over a unix socket,
// it is how a running daemon answers status queries.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/guest-logging-go/logger"
)

// DefaultPipePath is the default socket path.
const DefaultPipePath = "/run/schedtoold/commands.sock"

// Handler is the business logic of a command. It gets the whole JSON encoded
// request and returns the JSON encoded response, a returned error is
// reported to the client as a HandlerError.
type Handler func([]byte) ([]byte, error)

// Request is the basic request structure. Command determines which handler the
// request is routed to. Callers may set additional arbitrary fields.
type Request struct {
	Command string
}

// Response is the basic response structure. Handlers may set additional
// arbitrary fields.
type Response struct {
	// Status code for the request, zero is success.
	Status int
	// StatusMessage is an optional message helping a human understand what
	// happened.
	StatusMessage string
}

var (
	// CmdNotFoundError is returned when no handler is registered for the command.
	CmdNotFoundError = Response{Status: 101, StatusMessage: "Command not found"}
	// BadRequestError is returned when the request isn't valid JSON.
	BadRequestError = Response{Status: 102, StatusMessage: "Could not parse valid JSON from request"}
	// ConnError is returned when the connection failed.
	ConnError = Response{Status: 103, StatusMessage: "Connection error"}
	// TimeoutError is returned when the client didn't send a request in time.
	TimeoutError = Response{Status: 104, StatusMessage: "Connection timeout before reading valid request"}
	// HandlerError is returned when the handler failed, StatusMessage holds
	// the handler error.
	HandlerError = Response{Status: 105}

	internalError = []byte(`{"Status":106,"StatusMessage":"Failed to marshal error response"}`)
)

// Options configures a Server.
type Options struct {
	// Pipe is the socket path.
	Pipe string
	// Mode is the socket permission bits.
	Mode os.FileMode
	// Group owns the socket, either a gid or a group name. Empty keeps the
	// process group.
	Group string
	// Timeout bounds the time a client has to send its request.
	Timeout time.Duration
}

// Server listens for command requests and routes them to handlers.
type Server struct {
	opts Options

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	mu       sync.Mutex
	listener net.Listener
}

// NewServer allocates a stopped server.
func NewServer(opts Options) *Server {
	if opts.Pipe == "" {
		opts.Pipe = DefaultPipePath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Server{
		opts:     opts,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler registers f as the handler for cmd.
func (s *Server) RegisterHandler(cmd string, f Handler) error {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if _, ok := s.handlers[cmd]; ok {
		return fmt.Errorf("cmd %s is already handled", cmd)
	}
	s.handlers[cmd] = f
	return nil
}

// UnregisterHandler clears the handler for cmd.
func (s *Server) UnregisterHandler(cmd string) error {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if _, ok := s.handlers[cmd]; !ok {
		return fmt.Errorf("cmd %s is not registered", cmd)
	}
	delete(s.handlers, cmd)
	return nil
}

// Start listens on the socket and serves requests until Close is called or
// ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server already listening")
	}

	l, err := listen(ctx, s.opts.Pipe, s.opts.Mode, s.opts.Group)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Pipe, err)
	}
	s.listener = l

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Infof("Error on connection to pipe %s: %v", s.opts.Pipe, err)
				continue
			}
			go s.serve(conn)
		}
	}()
	return nil
}

// Close stops listening for requests.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	return err
}

func writeResponse(w io.Writer, r Response) {
	b, err := json.Marshal(r)
	if err != nil {
		b = internalError
	}
	if _, err := w.Write(b); err != nil {
		logger.Debugf("Failed to write command response: %v", err)
	}
}

// serve handles a single request.
func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(s.opts.Timeout)); err != nil {
		logger.Infof("Could not set read deadline on command request: %v", err)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		logger.Debugf("Command request read error: %v", err)
		var syntaxErr *json.SyntaxError
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			writeResponse(conn, TimeoutError)
		case errors.As(err, &syntaxErr):
			writeResponse(conn, BadRequestError)
		default:
			writeResponse(conn, ConnError)
		}
		return
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		writeResponse(conn, BadRequestError)
		return
	}

	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Command]
	s.handlersMu.RUnlock()
	if !ok {
		writeResponse(conn, CmdNotFoundError)
		return
	}

	resp, err := handler(raw)
	if err != nil {
		writeResponse(conn, Response{Status: HandlerError.Status, StatusMessage: err.Error()})
		return
	}
	if _, err := conn.Write(resp); err != nil {
		logger.Debugf("Failed to write command response: %v", err)
	}
}

// Send sends a request over pipe and returns the raw response. Connection
// failures are reported as a ConnError response.
func Send(ctx context.Context, pipe string, req []byte) []byte {
	conn, err := dialPipe(ctx, pipe)
	if err != nil {
		logger.Debugf("Failed to connect to %s: %v", pipe, err)
		b, _ := json.Marshal(ConnError)
		return b
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(req); err != nil {
		b, _ := json.Marshal(ConnError)
		return b
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		b, _ := json.Marshal(ConnError)
		return b
	}
	return data
}

// Call sends a request for cmd over pipe and decodes the response into resp,
// which must embed a Response. A non zero status is returned as an error.
func Call(ctx context.Context, pipe, cmd string, resp interface{}) error {
	req, err := json.Marshal(Request{Command: cmd})
	if err != nil {
		return err
	}

	data := Send(ctx, pipe, req)

	var status Response
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("malformed response to %q: %w", cmd, err)
	}
	if status.Status != 0 {
		return fmt.Errorf("command %q failed with status %d: %s", cmd, status.Status, status.StatusMessage)
	}

	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("malformed response to %q: %w", cmd, err)
	}
	return nil
}
