// Package testutil provides testing utilities for the upload queue manager.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// UploadServer is a configurable HTTP test server for upload testing. It
// accepts multipart POSTs and can be told to fail, stall or rate-limit.
type UploadServer struct {
	Server *httptest.Server

	// Configuration
	FailFirstN    int           // Respond with FailStatus to the first N requests
	FailStatus    int           // Status used for injected failures (default 500)
	RetryAfter    time.Duration // If set, failures carry a Retry-After header
	Latency       time.Duration // Artificial latency per request
	MaxBodyBytes  int64         // Reject bodies larger than this with 413 (0 = unlimited)
	CustomHandler http.HandlerFunc

	// Tracking
	RequestCount  atomic.Int64
	BytesReceived atomic.Int64
	FailedCount   atomic.Int64
}

// UploadServerOption configures an UploadServer.
type UploadServerOption func(*UploadServer)

// WithHandler sets a custom request handler.
func WithHandler(h http.HandlerFunc) UploadServerOption {
	return func(s *UploadServer) {
		s.CustomHandler = h
	}
}

// WithFailFirstN makes the first n requests fail.
func WithFailFirstN(n int) UploadServerOption {
	return func(s *UploadServer) {
		s.FailFirstN = n
	}
}

// WithFailStatus sets the status code for injected failures.
func WithFailStatus(code int) UploadServerOption {
	return func(s *UploadServer) {
		s.FailStatus = code
	}
}

// WithRetryAfter adds a Retry-After header to injected failures.
func WithRetryAfter(d time.Duration) UploadServerOption {
	return func(s *UploadServer) {
		s.RetryAfter = d
	}
}

// WithLatency adds artificial latency per request.
func WithLatency(d time.Duration) UploadServerOption {
	return func(s *UploadServer) {
		s.Latency = d
	}
}

// WithMaxBodyBytes rejects larger uploads with 413.
func WithMaxBodyBytes(n int64) UploadServerOption {
	return func(s *UploadServer) {
		s.MaxBodyBytes = n
	}
}

// NewUploadServer creates and starts an upload test server.
func NewUploadServer(opts ...UploadServerOption) *UploadServer {
	s := &UploadServer{FailStatus: http.StatusInternalServerError}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// NewUploadServerT creates a server and registers cleanup with t.
func NewUploadServerT(t *testing.T, opts ...UploadServerOption) *UploadServer {
	t.Helper()
	s := NewUploadServer(opts...)
	t.Cleanup(s.Close)
	return s
}

// URL returns the server's base URL.
func (s *UploadServer) URL() string {
	return s.Server.URL
}

// Close shuts the server down.
func (s *UploadServer) Close() {
	s.Server.Close()
}

func (s *UploadServer) handle(w http.ResponseWriter, r *http.Request) {
	n := s.RequestCount.Add(1)

	if s.Latency > 0 {
		time.Sleep(s.Latency)
	}

	if s.CustomHandler != nil {
		s.CustomHandler(w, r)
		return
	}

	if s.FailFirstN > 0 && n <= int64(s.FailFirstN) {
		s.FailedCount.Add(1)
		if s.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.RetryAfter.Seconds())))
		}
		http.Error(w, http.StatusText(s.FailStatus), s.FailStatus)
		return
	}

	received, err := io.Copy(io.Discard, r.Body)
	if err != nil {
		s.FailedCount.Add(1)
		http.Error(w, "read body", http.StatusInternalServerError)
		return
	}
	s.BytesReceived.Add(received)

	if s.MaxBodyBytes > 0 && received > s.MaxBodyBytes {
		s.FailedCount.Add(1)
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
		return
	}

	w.WriteHeader(http.StatusCreated)
}
