package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forolabs/peticionador/events"
	"github.com/forolabs/peticionador/tribunal"
)

// ErrSessionNotReady is returned for operations on a session that has not
// finished booting or already failed.
var ErrSessionNotReady = errors.New("session is not ready")

// CreateInput parameterizes a new session.
type CreateInput struct {
	Tribunal   string `json:"tribunal"`
	BaseURL    string `json:"baseUrl"`
	Instancia  int    `json:"instancia,omitempty"`
	Headless   bool   `json:"headless,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
}

// Config tunes the manager.
type Config struct {
	// IdleTimeout evicts sessions with no activity for this long.
	// Default 30 minutes.
	IdleTimeout time.Duration
	// SweepInterval is the eviction check cadence. Default 1 minute.
	SweepInterval time.Duration
	// Now is the clock; tests inject a fake one.
	Now func() time.Time
	// NewClient builds tribunal clients. Defaults to tribunal.New; tests
	// inject a stub.
	NewClient func(tribunal.Config) (tribunal.Client, error)
}

func (c *Config) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewClient == nil {
		c.NewClient = tribunal.New
	}
}

// Manager owns the live session map. Records are mirrored into the
// repository so persistent sessions can be reattached by a later process.
type Manager struct {
	cfg       Config
	repo      Repository
	bus       events.Bus
	newClient func(tribunal.Config) (tribunal.Client, error)

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a manager over the given repository.
func NewManager(repo Repository, bus events.Bus, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:       cfg,
		repo:      repo,
		bus:       bus,
		newClient: cfg.NewClient,
		sessions:  make(map[string]*Session),
	}
}

// Run reattaches persistent sessions, then sweeps idle sessions until ctx
// is cancelled. On return, non-persistent sessions are closed; persistent
// browsers keep running for the next process.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Reattach(ctx); err != nil {
		slog.Warn("session: reattach pass failed", "error", err)
	}

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-ticker.C:
			m.SweepIdle(context.Background())
		}
	}
}

// Create registers the session and boots its browser in the background.
// The returned Info has status initializing; the transition to ready or
// error is observable via Get and the event bus.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Info, error) {
	if _, err := tribunal.ParseSystem(in.Tribunal); err != nil {
		return nil, err
	}
	now := m.cfg.Now()
	rec := Record{
		ID:         uuid.NewString(),
		Tribunal:   in.Tribunal,
		BaseURL:    in.BaseURL,
		Instancia:  in.Instancia,
		Status:     StatusInitializing,
		Headless:   in.Headless,
		Persistent: in.Persistent,
		CreatedAt:  now,
		LastActive: now,
	}
	// Reserve the debugging port up front so the creation response already
	// carries it; the browser binds it during the background boot.
	port := 0
	if p, err := tribunal.FreePort(); err == nil {
		port = p
		rec.CDPAddress = fmt.Sprintf("127.0.0.1:%d", p)
	} else {
		slog.Warn("session: reserving debugging port failed, deferring to launch", "error", err)
	}
	sess := &Session{record: rec}
	if err := m.repo.Put(ctx, sess.snapshot()); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sess.record.ID] = sess
	m.mu.Unlock()

	go m.boot(sess, in, port)

	info := sess.info()
	return &info, nil
}

// boot launches the browser for a freshly created session.
func (m *Manager) boot(sess *Session, in CreateInput, cdpPort int) {
	ctx := context.Background()
	rec := sess.snapshot()

	client, err := m.newClient(tribunal.Config{
		System:    tribunal.System(in.Tribunal),
		BaseURL:   in.BaseURL,
		Instancia: in.Instancia,
		Headless:  in.Headless,
		CDPPort:   cdpPort,
	})
	if err == nil {
		err = client.Init(ctx)
	}
	if err != nil {
		slog.Error("session: boot failed", "sessionId", rec.ID, "tribunal", rec.Tribunal, "error", err)
		sess.mu.Lock()
		if sess.closed {
			sess.mu.Unlock()
			return
		}
		sess.record.Status = StatusError
		sess.record.Error = err.Error()
		sess.mu.Unlock()
		m.persistAndAnnounce(ctx, sess)
		return
	}

	sess.mu.Lock()
	if sess.closed {
		// Deleted while booting: the record is already gone, so release
		// the browser instead of resurrecting it.
		sess.mu.Unlock()
		if err := client.Close(); err != nil {
			slog.Warn("session: closing browser after delete failed", "sessionId", rec.ID, "error", err)
		}
		return
	}
	sess.client = client
	sess.record.Status = StatusReady
	sess.record.CDPAddress = client.CDPAddress()
	sess.mu.Unlock()
	slog.Info("session: ready", "sessionId", rec.ID, "tribunal", rec.Tribunal, "cdp", client.CDPAddress())
	m.persistAndAnnounce(ctx, sess)
}

// Reattach rebuilds clients for persistent sessions recorded by an earlier
// process; stale non-persistent records are dropped.
func (m *Manager) Reattach(ctx context.Context) error {
	recs, err := m.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		m.mu.Lock()
		_, live := m.sessions[rec.ID]
		m.mu.Unlock()
		if live {
			continue
		}
		if !rec.Persistent || rec.Status != StatusReady || rec.CDPAddress == "" {
			if err := m.repo.Delete(ctx, rec.ID); err != nil {
				slog.Warn("session: dropping stale record failed", "sessionId", rec.ID, "error", err)
			}
			continue
		}

		client, err := m.newClient(tribunal.Config{
			System:    tribunal.System(rec.Tribunal),
			BaseURL:   rec.BaseURL,
			Instancia: rec.Instancia,
			RemoteURL: rec.CDPAddress,
		})
		if err == nil {
			err = client.Init(ctx)
		}
		sess := &Session{record: rec}
		if err != nil {
			slog.Warn("session: reattach failed", "sessionId", rec.ID, "cdp", rec.CDPAddress, "error", err)
			sess.setStatus(StatusError, fmt.Sprintf("reattach failed: %s", err))
		} else {
			sess.client = client
			slog.Info("session: reattached", "sessionId", rec.ID, "cdp", rec.CDPAddress)
		}

		m.mu.Lock()
		m.sessions[rec.ID] = sess
		m.mu.Unlock()
		m.persistAndAnnounce(ctx, sess)
	}
	return nil
}

func (m *Manager) persistAndAnnounce(ctx context.Context, sess *Session) {
	rec := sess.snapshot()
	if err := m.repo.Put(ctx, rec); err != nil {
		slog.Warn("session: persisting record failed", "sessionId", rec.ID, "error", err)
	}
	if m.bus == nil {
		return
	}
	evt := events.SessionStatusChanged{
		SessionID: rec.ID,
		Tribunal:  rec.Tribunal,
		Status:    string(rec.Status),
		Error:     rec.Error,
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		slog.Warn("session: publishing status event failed", "sessionId", rec.ID, "error", err)
	}
}

// Get returns the session view. Records without a live client in this
// process are still readable.
func (m *Manager) Get(ctx context.Context, id string) (*Info, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		info := sess.info()
		return &info, nil
	}
	rec, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	info := (&Session{record: *rec}).info()
	return &info, nil
}

// List returns every known session.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	recs, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(recs))
	for _, rec := range recs {
		m.mu.Lock()
		sess, live := m.sessions[rec.ID]
		m.mu.Unlock()
		if live {
			infos = append(infos, sess.info())
		} else {
			infos = append(infos, (&Session{record: rec}).info())
		}
	}
	return infos, nil
}

// Delete closes the session's browser and removes its record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		if client := sess.takeClient(); client != nil {
			if err := client.Close(); err != nil {
				slog.Warn("session: closing browser failed", "sessionId", id, "error", err)
			}
		}
	}
	if !ok {
		if _, err := m.repo.Get(ctx, id); err != nil {
			return err
		}
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	if ok {
		sess.setStatus(StatusClosed, "")
		m.announceOnly(ctx, sess)
	}
	return nil
}

func (m *Manager) announceOnly(ctx context.Context, sess *Session) {
	if m.bus == nil {
		return
	}
	rec := sess.snapshot()
	evt := events.SessionStatusChanged{
		SessionID: rec.ID,
		Tribunal:  rec.Tribunal,
		Status:    string(rec.Status),
		Error:     rec.Error,
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		slog.Warn("session: publishing status event failed", "sessionId", rec.ID, "error", err)
	}
}

// ready fetches a live, ready session's client and stamps its activity.
// The client is taken under the session lock so a concurrent delete or
// sweep cannot hand out a detached one.
func (m *Manager) ready(id string) (tribunal.Client, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.record.Status != StatusReady || sess.client == nil {
		return nil, fmt.Errorf("session %s is %s: %w", id, sess.record.Status, ErrSessionNotReady)
	}
	sess.record.LastActive = m.cfg.Now()
	return sess.client, nil
}

// Login authenticates the session's client interactively.
func (m *Manager) Login(ctx context.Context, id string, auth tribunal.Auth) (*tribunal.LoginResult, error) {
	client, err := m.ready(id)
	if err != nil {
		return nil, err
	}
	return client.Login(ctx, auth)
}

func (m *Manager) Logout(ctx context.Context, id string) error {
	client, err := m.ready(id)
	if err != nil {
		return err
	}
	return client.Logout(ctx)
}

func (m *Manager) ConsultarProcesso(ctx context.Context, id, numero string) (*tribunal.ProcessoInfo, error) {
	client, err := m.ready(id)
	if err != nil {
		return nil, err
	}
	return client.ConsultarProcesso(ctx, numero)
}

func (m *Manager) ListarDocumentos(ctx context.Context, id, numero string) ([]tribunal.Documento, error) {
	client, err := m.ready(id)
	if err != nil {
		return nil, err
	}
	return client.ListarDocumentos(ctx, numero)
}

func (m *Manager) ListarMovimentacoes(ctx context.Context, id, numero string) ([]tribunal.Movimentacao, error) {
	client, err := m.ready(id)
	if err != nil {
		return nil, err
	}
	return client.ListarMovimentacoes(ctx, numero)
}

func (m *Manager) Peticionar(ctx context.Context, id string, params tribunal.PeticaoParams) (*tribunal.ProtocolResult, error) {
	client, err := m.ready(id)
	if err != nil {
		return nil, err
	}
	return client.Peticionar(ctx, params)
}

func (m *Manager) Screenshot(ctx context.Context, id string) ([]byte, error) {
	client, err := m.ready(id)
	if err != nil {
		return nil, err
	}
	return client.Screenshot(ctx)
}

func (m *Manager) Minimize(ctx context.Context, id string) error {
	client, err := m.ready(id)
	if err != nil {
		return err
	}
	return client.Minimize(ctx)
}

func (m *Manager) RestoreWindow(ctx context.Context, id string) error {
	client, err := m.ready(id)
	if err != nil {
		return err
	}
	return client.Restore(ctx)
}

func (m *Manager) Focus(ctx context.Context, id string) error {
	client, err := m.ready(id)
	if err != nil {
		return err
	}
	return client.Focus(ctx)
}

// ExecuteOperation runs a queue-style operation on an interactive session.
func (m *Manager) ExecuteOperation(ctx context.Context, id, op string, params json.RawMessage) (*tribunal.Result, error) {
	client, err := m.ready(id)
	if err != nil {
		return nil, err
	}
	return client.ExecuteOperation(ctx, op, params)
}

// SweepIdle closes sessions with no activity inside the idle window.
func (m *Manager) SweepIdle(ctx context.Context) {
	cutoff := m.cfg.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, sess := range m.sessions {
		if sess.snapshot().LastActive.Before(cutoff) {
			idle = append(idle, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range idle {
		rec := sess.snapshot()
		slog.Info("session: evicting idle session", "sessionId", rec.ID, "lastActive", rec.LastActive)
		if client := sess.takeClient(); client != nil {
			if err := client.Close(); err != nil {
				slog.Warn("session: closing idle browser failed", "sessionId", rec.ID, "error", err)
			}
		}
		if err := m.repo.Delete(ctx, rec.ID); err != nil {
			slog.Warn("session: deleting idle record failed", "sessionId", rec.ID, "error", err)
		}
		sess.setStatus(StatusClosed, "idle timeout")
		m.announceOnly(ctx, sess)
	}
}

// shutdown closes non-persistent sessions. Persistent browsers stay up and
// their records stay in the repository for reattachment.
func (m *Manager) shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	ctx := context.Background()
	for _, sess := range sessions {
		rec := sess.snapshot()
		if rec.Persistent && sess.liveClient() != nil {
			continue
		}
		if client := sess.takeClient(); client != nil {
			if err := client.Close(); err != nil {
				slog.Warn("session: closing browser failed", "sessionId", rec.ID, "error", err)
			}
		}
		if err := m.repo.Delete(ctx, rec.ID); err != nil {
			slog.Warn("session: deleting record failed", "sessionId", rec.ID, "error", err)
		}
	}
}
