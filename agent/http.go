// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package agent exposes the task API over HTTP: task creation, argument
// upload, lifecycle requests and result retrieval. It owns only the
// front half of the task lifecycle; the scheduler and the worker drive
// the rest through the shared stores.
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/gstream/gstream/filestore"
	"github.com/gstream/gstream/store"
	"github.com/rs/cors"
)

const (
	// ErrInvalidMethod is used if the HTTP method is not supported
	ErrInvalidMethod = "Invalid method"

	// apiRootPath prefixes every route when the reverse proxy fronts the
	// service. Debug deployments serve at the root.
	apiRootPath = "/background"
)

// allowCORS sets permissive CORS headers for a handler
var allowCORS = cors.New(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{"HEAD", "GET", "POST"},
	AllowedHeaders: []string{"*"},
})

// HTTPCodedError is an error with an HTTP status attached.
type HTTPCodedError interface {
	error
	Code() int
}

// CodedError builds an HTTPCodedError.
func CodedError(c int, s string) HTTPCodedError {
	return &codedError{s, c}
}

type codedError struct {
	s    string
	code int
}

func (e *codedError) Error() string {
	return e.s
}

func (e *codedError) Code() int {
	return e.code
}

// errorResponse is the body of every non-200 reply.
type errorResponse struct {
	Detail string `json:"detail"`
}

// HTTPServer exposes the task API over an HTTP listener.
type HTTPServer struct {
	config     *Config
	store      *store.Store
	files      *filestore.Store
	mux        *http.ServeMux
	listener   net.Listener
	listenerCh chan struct{}
	logger     hclog.Logger

	// Addr is the bound listen address, fixed after New.
	Addr string
}

// NewHTTPServer binds the listener and starts serving.
func NewHTTPServer(config *Config) (*HTTPServer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid http config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &HTTPServer{
		config:     config,
		store:      config.Store,
		files:      config.Files,
		mux:        http.NewServeMux(),
		listener:   ln,
		listenerCh: make(chan struct{}),
		logger:     logger.Named("http"),
		Addr:       ln.Addr().String(),
	}
	srv.registerHandlers()

	go func() {
		defer close(srv.listenerCh)
		http.Serve(ln, handlers.CompressHandler(srv.mux))
	}()

	srv.logger.Info("api listening", "address", srv.Addr, "debug", config.Debug)
	return srv, nil
}

// Shutdown closes the listener and waits for the serve loop to return.
func (s *HTTPServer) Shutdown() {
	if s != nil {
		s.logger.Debug("shutting down http server")
		s.listener.Close()
		<-s.listenerCh
	}
}

// Handler returns the routed handler. Tests drive it through httptest
// without a listener.
func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) registerHandlers() {
	prefix := apiRootPath
	if s.config.Debug {
		prefix = ""
	}

	s.mux.Handle(prefix+"/create", wrapCORS(s.wrap(s.createTaskRequest)))
	s.mux.Handle(prefix+"/state", wrapCORS(s.wrap(s.taskStateRequest)))
	s.mux.Handle(prefix+"/load-args", wrapCORS(s.wrap(s.loadArgsRequest)))
	s.mux.Handle(prefix+"/run", wrapCORS(s.wrap(s.runTaskRequest)))
	s.mux.Handle(prefix+"/kill", wrapCORS(s.wrap(s.killTaskRequest)))
	s.mux.Handle(prefix+"/accept", wrapCORS(s.wrap(s.acceptTaskRequest)))
	s.mux.Handle(prefix+"/log", wrapCORS(s.wrap(s.taskLogRequest)))
	s.mux.Handle(prefix+"/result", wrapCORS(s.wrap(s.taskResultRequest)))
	s.mux.Handle(prefix+"/ping", wrapCORS(s.wrap(s.pingRequest)))
}

// wrap adapts an endpoint to http.HandlerFunc: coded errors become a
// status plus a detail body, any other error is a 500, and a non-nil
// result is written as JSON.
func (s *HTTPServer) wrap(handler func(resp http.ResponseWriter, req *http.Request) (interface{}, error)) func(resp http.ResponseWriter, req *http.Request) {
	return func(resp http.ResponseWriter, req *http.Request) {
		reqURL := req.URL.String()
		start := time.Now()
		defer func() {
			s.logger.Debug("request complete", "method", req.Method, "path", reqURL, "duration", time.Since(start))
			metrics.MeasureSince([]string{"http", "request"}, start)
		}()

		obj, err := handler(resp, req)
		if err != nil {
			code := http.StatusInternalServerError
			if coded, ok := err.(HTTPCodedError); ok {
				code = coded.Code()
			}
			s.logger.Error("request failed", "method", req.Method, "path", reqURL, "code", code, "error", err)

			body, _ := json.Marshal(errorResponse{Detail: err.Error()})
			resp.Header().Set("Content-Type", "application/json")
			resp.WriteHeader(code)
			resp.Write(body)
			return
		}

		if obj != nil {
			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(obj); err != nil {
				s.logger.Error("response encoding failed", "path", reqURL, "error", err)
				resp.WriteHeader(http.StatusInternalServerError)
				return
			}
			resp.Header().Set("Content-Type", "application/json")
			resp.Write(buf.Bytes())
		}
	}
}

// wrapCORS wraps a HandlerFunc in allowCORS and returns a http.Handler
func wrapCORS(f func(http.ResponseWriter, *http.Request)) http.Handler {
	return allowCORS.Handler(http.HandlerFunc(f))
}
