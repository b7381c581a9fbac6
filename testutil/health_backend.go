// Package testutil provides a scriptable fake of the source-health backend
// for exercising the telemetry client end to end: queued snapshot replies,
// a controllable push stream, and a command recorder.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"sourcewatch/api/health"
	"sourcewatch/models"
)

// SnapshotReply is one scripted response from the snapshot endpoint.
type SnapshotReply struct {
	Status   int
	Snapshot *models.HealthSnapshot
	Delay    time.Duration

	// RawBody, when non-empty, is served verbatim instead of the snapshot,
	// for malformed-payload cases.
	RawBody string
}

// CommandHit records one received operator command.
type CommandHit struct {
	SourceID string
	Action   string
}

// MockHealthBackend is a fake source-health backend over httptest.
type MockHealthBackend struct {
	server *httptest.Server

	mu              sync.Mutex
	snapshotQueue   []SnapshotReply
	defaultSnapshot *models.HealthSnapshot
	snapshotHits    int

	streamRejects int
	streamConns   int
	streamSubs    map[int]chan string
	streamNextID  int

	commands      []CommandHit
	commandStatus int
	commandError  string
}

// NewMockHealthBackend starts a fake backend. Callers own Close.
func NewMockHealthBackend() *MockHealthBackend {
	m := &MockHealthBackend{
		streamSubs:    make(map[int]chan string),
		commandStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sources/health", m.handleSnapshot)
	mux.HandleFunc("/sources/status/stream", m.handleStream)
	mux.HandleFunc("/sources/", m.handleCommand)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the backend base URL.
func (m *MockHealthBackend) URL() string {
	return m.server.URL
}

// Close shuts the backend down and severs any open streams.
func (m *MockHealthBackend) Close() {
	m.SeverStreams()
	m.server.Close()
}

// SetDefaultSnapshot sets the reply served when the scripted queue is empty.
func (m *MockHealthBackend) SetDefaultSnapshot(snapshot *models.HealthSnapshot) {
	m.mu.Lock()
	m.defaultSnapshot = snapshot
	m.mu.Unlock()
}

// QueueSnapshot appends one scripted snapshot reply; replies are consumed in
// order before the default applies.
func (m *MockHealthBackend) QueueSnapshot(reply SnapshotReply) {
	m.mu.Lock()
	m.snapshotQueue = append(m.snapshotQueue, reply)
	m.mu.Unlock()
}

// SnapshotRequests reports how many snapshot fetches have been served.
func (m *MockHealthBackend) SnapshotRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotHits
}

func (m *MockHealthBackend) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.snapshotHits++
	var reply SnapshotReply
	if len(m.snapshotQueue) > 0 {
		reply = m.snapshotQueue[0]
		m.snapshotQueue = m.snapshotQueue[1:]
	} else if m.defaultSnapshot != nil {
		reply = SnapshotReply{Status: http.StatusOK, Snapshot: m.defaultSnapshot}
	} else {
		reply = SnapshotReply{Status: http.StatusServiceUnavailable}
	}
	m.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	switch {
	case reply.RawBody != "":
		fmt.Fprint(w, reply.RawBody) //nolint:errcheck
	case reply.Snapshot != nil:
		json.NewEncoder(w).Encode(reply.Snapshot) //nolint:errcheck
	}
}

// FailStream makes the next n stream connection attempts fail with 503.
func (m *MockHealthBackend) FailStream(n int) {
	m.mu.Lock()
	m.streamRejects = n
	m.mu.Unlock()
}

// StreamConnections reports how many stream connections were accepted.
func (m *MockHealthBackend) StreamConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamConns
}

// PushSnapshot broadcasts one snapshot event to every connected stream.
func (m *MockHealthBackend) PushSnapshot(snapshot *models.HealthSnapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		panic(err)
	}
	m.PushRaw(string(payload))
}

// PushRaw broadcasts one raw event payload, for malformed-frame cases.
func (m *MockHealthBackend) PushRaw(payload string) {
	m.mu.Lock()
	for _, ch := range m.streamSubs {
		select {
		case ch <- payload:
		default:
		}
	}
	m.mu.Unlock()
}

// SeverStreams disconnects every open stream mid-flight.
func (m *MockHealthBackend) SeverStreams() {
	m.mu.Lock()
	for id, ch := range m.streamSubs {
		close(ch)
		delete(m.streamSubs, id)
	}
	m.mu.Unlock()
}

func (m *MockHealthBackend) handleStream(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	if m.streamRejects > 0 {
		m.streamRejects--
		m.mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	m.streamConns++
	id := m.streamNextID
	m.streamNextID++
	ch := make(chan string, 16)
	m.streamSubs[id] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if _, ok := m.streamSubs[id]; ok {
			close(ch)
			delete(m.streamSubs, id)
		}
		m.mu.Unlock()
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload) //nolint:errcheck
			flusher.Flush()
		}
	}
}

// SetCommandResponse sets the status and error detail returned for commands.
func (m *MockHealthBackend) SetCommandResponse(status int, errMsg string) {
	m.mu.Lock()
	m.commandStatus = status
	m.commandError = errMsg
	m.mu.Unlock()
}

// Commands returns a copy of the received command log.
func (m *MockHealthBackend) Commands() []CommandHit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CommandHit(nil), m.commands...)
}

func (m *MockHealthBackend) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/sources/"), "/"), "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	m.mu.Lock()
	m.commands = append(m.commands, CommandHit{SourceID: parts[0], Action: parts[1]})
	status := m.commandStatus
	errMsg := m.commandError
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := health.CommandResponse{Status: "ok"}
	if errMsg != "" {
		body = health.CommandResponse{Status: "error", Error: errMsg}
	}
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
