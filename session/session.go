// Package session manages interactive automation sessions: asynchronous
// browser boot, direct login/logout and case operations, window control,
// idle eviction, and reattachment to detached browser processes.
package session

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/forolabs/peticionador/tribunal"
)

// Status is the session lifecycle status. A session is usable only in
// StatusReady; StatusError keeps the record readable for diagnosis until
// deleted.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
	StatusClosed       Status = "closed"
)

// Record is the persisted projection of a session. It carries everything
// needed to reattach to a persistent session's browser from another
// process; the live client itself is process-local.
type Record struct {
	ID         string    `json:"id"`
	Tribunal   string    `json:"tribunal"`
	BaseURL    string    `json:"baseUrl"`
	Instancia  int       `json:"instancia,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CDPAddress string    `json:"cdpAddress,omitempty"`
	Headless   bool      `json:"headless"`
	Persistent bool      `json:"persistent"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// Info is the API-facing view of a session.
type Info struct {
	ID          string    `json:"id"`
	Tribunal    string    `json:"tribunal"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CDPPort     int       `json:"cdpPort,omitempty"`
	CDPAddress  string    `json:"cdpAddress,omitempty"`
	ClientState string    `json:"clientState,omitempty"`
	Persistent  bool      `json:"persistent"`
	CreatedAt   time.Time `json:"createdAt"`
	LastActive  time.Time `json:"lastActive"`
}

// Session pairs a live tribunal client with its record. The mutex guards
// both: boot attaches the client while callers may already be reading the
// session, and delete may race a boot still in flight.
type Session struct {
	mu     sync.Mutex
	record Record
	client tribunal.Client
	closed bool
}

func (s *Session) snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

func (s *Session) setStatus(status Status, errMsg string) {
	s.mu.Lock()
	s.record.Status = status
	s.record.Error = errMsg
	s.mu.Unlock()
}

func (s *Session) liveClient() tribunal.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// takeClient detaches the client and marks the session closed. A boot
// still in flight observes the mark and releases its browser itself
// instead of attaching.
func (s *Session) takeClient() tribunal.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	client := s.client
	s.client = nil
	s.closed = true
	return client
}

// info builds the API view. The client state is read live when the
// session has a client.
func (s *Session) info() Info {
	s.mu.Lock()
	rec := s.record
	client := s.client
	s.mu.Unlock()
	inf := Info{
		ID:         rec.ID,
		Tribunal:   rec.Tribunal,
		Status:     rec.Status,
		Error:      rec.Error,
		CDPAddress: rec.CDPAddress,
		CDPPort:    cdpPort(rec.CDPAddress),
		Persistent: rec.Persistent,
		CreatedAt:  rec.CreatedAt,
		LastActive: rec.LastActive,
	}
	if client != nil {
		inf.ClientState = string(client.State())
	}
	return inf
}

func cdpPort(addr string) int {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return 0
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return 0
	}
	return port
}
