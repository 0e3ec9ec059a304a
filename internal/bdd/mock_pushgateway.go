package bdd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockPushgateway records the metric pushes the converter sends at the end
// of a run.
type MockPushgateway struct {
	Server *httptest.Server
	mu     sync.Mutex
	pushes []push
}

type push struct {
	path string
	body []byte
}

func NewMockPushgateway(t *testing.T) *MockPushgateway {
	t.Helper()
	mp := &MockPushgateway{}
	mp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mp.mu.Lock()
		mp.pushes = append(mp.pushes, push{path: r.URL.Path, body: body})
		mp.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(mp.Server.Close)
	return mp
}

// Reset forgets all recorded pushes.
func (m *MockPushgateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = nil
}

// Received reports whether a push to path carried text.
func (m *MockPushgateway) Received(path, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pushes {
		if p.path == path && bytes.Contains(p.body, []byte(text)) {
			return true
		}
	}
	return false
}
