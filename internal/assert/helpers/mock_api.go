package helpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockAPI is an httptest-backed item store with cookie-based auth, used as
// the target system in engine scenario tests
type MockAPI struct {
	mu       sync.Mutex
	server   *httptest.Server
	items    []map[string]any
	nextID   float64
	requests []string
	flaky    int
}

func NewMockAPI() *MockAPI {
	m := &MockAPI{nextID: 1}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", m.handleLogin)
	mux.HandleFunc("GET /items", m.handleList)
	mux.HandleFunc("POST /items", m.handleCreate)
	mux.HandleFunc("GET /items/{id}", m.handleGet)
	mux.HandleFunc("GET /slow", m.handleSlow)
	mux.HandleFunc("GET /flaky", m.handleFlaky)
	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockAPI) URL() string {
	return m.server.URL
}

func (m *MockAPI) Close() {
	m.server.Close()
}

// Requests returns the method+path of every call received, in order
func (m *MockAPI) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]string, len(m.requests))
	copy(res, m.requests)
	return res
}

// FailFirst makes /flaky return 500 for the next n calls
func (m *MockAPI) FailFirst(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flaky = n
}

func (m *MockAPI) record(r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, r.Method+" "+r.URL.Path)
}

func (m *MockAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "mock-session"})
	writeJSON(w, http.StatusOK, map[string]any{
		"token": "mock-token",
		"user":  "tester",
	})
}

func (m *MockAPI) handleList(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	m.mu.Lock()
	items := make([]map[string]any, len(m.items))
	copy(items, m.items)
	m.mu.Unlock()

	if tag := r.URL.Query().Get("tag"); tag != "" {
		filtered := items[:0:0]
		for _, item := range items {
			if item["tag"] == tag {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": float64(len(items)),
	})
}

func (m *MockAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "invalid body",
		})
		return
	}

	m.mu.Lock()
	body["id"] = m.nextID
	m.nextID++
	m.items = append(m.items, body)
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, body)
}

func (m *MockAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	id := strings.TrimPrefix(r.URL.Path, "/items/")

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if idOf(item) == id {
			writeJSON(w, http.StatusOK, item)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
}

func (m *MockAPI) handleSlow(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	time.Sleep(5 * time.Second)
}

func (m *MockAPI) handleFlaky(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	m.mu.Lock()
	fail := m.flaky > 0
	if fail {
		m.flaky--
	}
	m.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "try again",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func idOf(item map[string]any) string {
	id, ok := item["id"].(float64)
	if !ok {
		return ""
	}
	return strconv.FormatFloat(id, 'f', -1, 64)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
