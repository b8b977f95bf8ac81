package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Response is a canned API reply
type Response struct {
	Status  int
	Body    string
	Headers map[string]string
	// Delay holds the reply back, or until the client gives up
	Delay time.Duration
}

// FakeAPI serves canned responses by path and counts hits
type FakeAPI struct {
	*httptest.Server

	mu        sync.Mutex
	responses map[string][]Response
	hits      map[string]int
}

// NewFakeAPI starts a server closed automatically at test end. Unknown
// paths answer 404.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()

	f := &FakeAPI{
		responses: make(map[string][]Response),
		hits:      make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// Handle queues responses for path, e.g. "/capsules". The last response
// repeats once the queue is exhausted.
func (f *FakeAPI) Handle(path string, responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = responses
}

// JSON answers 200 with body on path
func (f *FakeAPI) JSON(path, body string) {
	f.Handle(path, Response{Status: http.StatusOK, Body: body})
}

// Hits returns how many requests reached path
func (f *FakeAPI) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

// BaseURL returns the server URL with a trailing slash
func (f *FakeAPI) BaseURL() string {
	return strings.TrimRight(f.URL, "/") + "/"
}

func (f *FakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	n := f.hits[r.URL.Path]
	f.hits[r.URL.Path] = n + 1
	queue := f.responses[r.URL.Path]
	f.mu.Unlock()

	if len(queue) == 0 {
		http.NotFound(w, r)
		return
	}
	resp := queue[len(queue)-1]
	if n < len(queue) {
		resp = queue[n]
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
}
