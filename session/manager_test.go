package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forolabs/peticionador/events"
	"github.com/forolabs/peticionador/tribunal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubClient struct {
	mu       sync.Mutex
	initErr  error
	initGate chan struct{} // when non-nil, Init blocks until closed
	cdpAddr  string
	closed   bool
	loggedIn bool
}

func (c *stubClient) Init(context.Context) error {
	if c.initGate != nil {
		<-c.initGate
	}
	return c.initErr
}

func (c *stubClient) Login(context.Context, tribunal.Auth) (*tribunal.LoginResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedIn = true
	return &tribunal.LoginResult{Success: true}, nil
}

func (c *stubClient) Logout(context.Context) error { return nil }

func (c *stubClient) ConsultarProcesso(_ context.Context, numero string) (*tribunal.ProcessoInfo, error) {
	return &tribunal.ProcessoInfo{Numero: numero}, nil
}
func (c *stubClient) ListarDocumentos(context.Context, string) ([]tribunal.Documento, error) {
	return nil, nil
}
func (c *stubClient) ListarMovimentacoes(context.Context, string) ([]tribunal.Movimentacao, error) {
	return nil, nil
}
func (c *stubClient) Peticionar(context.Context, tribunal.PeticaoParams) (*tribunal.ProtocolResult, error) {
	return &tribunal.ProtocolResult{Success: true, Protocolo: "123"}, nil
}
func (c *stubClient) ExecuteOperation(context.Context, string, json.RawMessage) (*tribunal.Result, error) {
	return &tribunal.Result{Success: true}, nil
}
func (c *stubClient) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }
func (c *stubClient) Minimize(context.Context) error             { return nil }
func (c *stubClient) Restore(context.Context) error              { return nil }
func (c *stubClient) Focus(context.Context) error                { return nil }
func (c *stubClient) State() tribunal.State                      { return tribunal.StateInitialized }
func (c *stubClient) CDPAddress() string                         { return c.cdpAddr }

func (c *stubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type managerHarness struct {
	manager *Manager
	repo    *MemoryRepository
	bus     *events.MemoryBus
	clock   *fakeClock

	mu      sync.Mutex
	clients []*stubClient
	configs []tribunal.Config
	next    *stubClient
}

func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()
	h := &managerHarness{
		repo:  NewMemoryRepository(),
		bus:   events.NewMemoryBus(),
		clock: newFakeClock(),
	}
	h.manager = NewManager(h.repo, h.bus, Config{Now: h.clock.Now})
	h.manager.newClient = func(cfg tribunal.Config) (tribunal.Client, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		client := h.next
		if client == nil {
			client = &stubClient{cdpAddr: "127.0.0.1:9333"}
		}
		h.next = nil
		h.clients = append(h.clients, client)
		h.configs = append(h.configs, cfg)
		return client, nil
	}
	return h
}

func (h *managerHarness) createReady(t *testing.T) *Info {
	t.Helper()
	info, err := h.manager.Create(context.Background(), CreateInput{
		Tribunal: "eproc",
		BaseURL:  "https://eproc.test",
	})
	require.NoError(t, err)
	require.Equal(t, StatusInitializing, info.Status)
	h.awaitStatus(t, info.ID, StatusReady)
	return info
}

func (h *managerHarness) awaitStatus(t *testing.T, id string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := h.manager.Get(context.Background(), id)
		return err == nil && info.Status == want
	}, 2*time.Second, 2*time.Millisecond)
}

func TestCreateBootsAsynchronously(t *testing.T) {
	h := newManagerHarness(t)
	statuses, cancel := h.bus.Subscribe(events.KindSessionStatusChanged)
	defer cancel()

	info := h.createReady(t)
	ready, err := h.manager.Get(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, ready.Status)
	assert.Equal(t, "127.0.0.1:9333", ready.CDPAddress)
	assert.Equal(t, 9333, ready.CDPPort)

	select {
	case evt := <-statuses:
		changed := evt.(events.SessionStatusChanged)
		assert.Equal(t, info.ID, changed.SessionID)
		assert.Equal(t, string(StatusReady), changed.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("missing status event")
	}
}

func TestCreateReturnsDebuggingPortUpFront(t *testing.T) {
	h := newManagerHarness(t)
	gate := make(chan struct{})
	h.next = &stubClient{initGate: gate, cdpAddr: "127.0.0.1:9333"}

	info, err := h.manager.Create(context.Background(), CreateInput{
		Tribunal: "eproc",
		BaseURL:  "https://eproc.test",
	})
	require.NoError(t, err)

	// The port is known before the browser finishes booting.
	assert.Equal(t, StatusInitializing, info.Status)
	assert.NotZero(t, info.CDPPort)

	close(gate)
	h.awaitStatus(t, info.ID, StatusReady)

	h.mu.Lock()
	require.Len(t, h.configs, 1)
	cfg := h.configs[0]
	h.mu.Unlock()
	assert.Equal(t, info.CDPPort, cfg.CDPPort)
}

func TestCreateRejectsUnknownTribunal(t *testing.T) {
	h := newManagerHarness(t)
	_, err := h.manager.Create(context.Background(), CreateInput{Tribunal: "projudi"})
	require.ErrorIs(t, err, tribunal.ErrUnsupportedTribunal)
}

func TestCreateBootFailureKeepsRecord(t *testing.T) {
	h := newManagerHarness(t)
	h.next = &stubClient{initErr: errors.New("chrome crashed on startup")}

	info, err := h.manager.Create(context.Background(), CreateInput{
		Tribunal: "pje",
		BaseURL:  "https://pje.test",
	})
	require.NoError(t, err)
	h.awaitStatus(t, info.ID, StatusError)

	failed, err := h.manager.Get(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Contains(t, failed.Error, "chrome crashed")

	_, err = h.manager.ConsultarProcesso(context.Background(), info.ID, "0001")
	require.ErrorIs(t, err, ErrSessionNotReady)
}

func TestOperationsRequireKnownSession(t *testing.T) {
	h := newManagerHarness(t)
	_, err := h.manager.Screenshot(context.Background(), "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, h.manager.Focus(context.Background(), "nope"), ErrSessionNotFound)
}

func TestOperationsNotReadyWhileBooting(t *testing.T) {
	h := newManagerHarness(t)
	gate := make(chan struct{})
	h.next = &stubClient{initGate: gate, cdpAddr: "127.0.0.1:9333"}

	info, err := h.manager.Create(context.Background(), CreateInput{
		Tribunal: "eproc",
		BaseURL:  "https://eproc.test",
	})
	require.NoError(t, err)

	_, err = h.manager.ConsultarProcesso(context.Background(), info.ID, "0001")
	require.ErrorIs(t, err, ErrSessionNotReady)

	close(gate)
	h.awaitStatus(t, info.ID, StatusReady)
	_, err = h.manager.ConsultarProcesso(context.Background(), info.ID, "0001")
	require.NoError(t, err)
}

func TestOperationTouchesActivity(t *testing.T) {
	h := newManagerHarness(t)
	info := h.createReady(t)

	h.clock.Advance(10 * time.Minute)
	_, err := h.manager.Screenshot(context.Background(), info.ID)
	require.NoError(t, err)

	got, err := h.manager.Get(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now(), got.LastActive)
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	h := newManagerHarness(t)
	stale := h.createReady(t)

	h.clock.Advance(29 * time.Minute)
	fresh := h.createReady(t)

	h.clock.Advance(2 * time.Minute) // stale at 31 min, fresh at 2 min
	h.manager.SweepIdle(context.Background())

	_, err := h.manager.Screenshot(context.Background(), stale.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.repo.Get(context.Background(), stale.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = h.manager.Screenshot(context.Background(), fresh.ID)
	require.NoError(t, err)

	h.mu.Lock()
	staleClient := h.clients[0]
	h.mu.Unlock()
	staleClient.mu.Lock()
	defer staleClient.mu.Unlock()
	assert.True(t, staleClient.closed)
}

func TestDeleteClosesBrowser(t *testing.T) {
	h := newManagerHarness(t)
	info := h.createReady(t)

	require.NoError(t, h.manager.Delete(context.Background(), info.ID))
	_, err := h.manager.Get(context.Background(), info.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	h.mu.Lock()
	client := h.clients[0]
	h.mu.Unlock()
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.True(t, client.closed)
}

func TestDeleteDuringBootReleasesBrowser(t *testing.T) {
	h := newManagerHarness(t)
	gate := make(chan struct{})
	stub := &stubClient{initGate: gate, cdpAddr: "127.0.0.1:9333"}
	h.next = stub

	info, err := h.manager.Create(context.Background(), CreateInput{
		Tribunal: "eproc",
		BaseURL:  "https://eproc.test",
	})
	require.NoError(t, err)

	// Delete lands while Init is still blocked.
	require.NoError(t, h.manager.Delete(context.Background(), info.ID))
	close(gate)

	require.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return stub.closed
	}, 2*time.Second, 2*time.Millisecond)

	// The finished boot must not resurrect the deleted record.
	_, err = h.manager.Get(context.Background(), info.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.repo.Get(context.Background(), info.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteUnknownSession(t *testing.T) {
	h := newManagerHarness(t)
	require.ErrorIs(t, h.manager.Delete(context.Background(), "nope"), ErrSessionNotFound)
}

func TestReattachPersistentSession(t *testing.T) {
	h := newManagerHarness(t)
	now := h.clock.Now()
	require.NoError(t, h.repo.Put(context.Background(), Record{
		ID:         "persist-1",
		Tribunal:   "eproc",
		BaseURL:    "https://eproc.test",
		Status:     StatusReady,
		CDPAddress: "127.0.0.1:9444",
		Persistent: true,
		CreatedAt:  now,
		LastActive: now,
	}))
	require.NoError(t, h.repo.Put(context.Background(), Record{
		ID:         "ephemeral-1",
		Tribunal:   "eproc",
		BaseURL:    "https://eproc.test",
		Status:     StatusReady,
		CDPAddress: "127.0.0.1:9555",
		CreatedAt:  now,
		LastActive: now,
	}))

	require.NoError(t, h.manager.Reattach(context.Background()))

	h.mu.Lock()
	require.Len(t, h.configs, 1)
	cfg := h.configs[0]
	h.mu.Unlock()
	assert.Equal(t, "127.0.0.1:9444", cfg.RemoteURL)

	_, err := h.manager.Screenshot(context.Background(), "persist-1")
	require.NoError(t, err)

	// the non-persistent record from the dead process is dropped
	_, err = h.repo.Get(context.Background(), "ephemeral-1")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLoginDelegatesToClient(t *testing.T) {
	h := newManagerHarness(t)
	info := h.createReady(t)

	result, err := h.manager.Login(context.Background(), info.ID, tribunal.Auth{Type: "password"})
	require.NoError(t, err)
	assert.True(t, result.Success)

	h.mu.Lock()
	client := h.clients[0]
	h.mu.Unlock()
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.True(t, client.loggedIn)
}
