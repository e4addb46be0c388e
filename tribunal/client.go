// Package tribunal implements per-session automation clients for judicial
// electronic-process systems: the authentication state machine, case
// queries, and petition filing. Court-system specifics are confined to
// per-variant profiles; the protocol logic is shared.
package tribunal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forolabs/peticionador/captcha"
	"github.com/forolabs/peticionador/credential"
	"github.com/forolabs/peticionador/events"
)

// System identifies a supported court-system implementation.
type System string

const (
	SystemEproc System = "eproc"
	SystemPJe   System = "pje"
	SystemESAJ  System = "esaj"
)

// State is the client lifecycle state.
type State string

const (
	StateUninitialized  State = "uninitialized"
	StateInitialized    State = "initialized"
	StateAuthenticating State = "authenticating"
	StateLoggedIn       State = "logged_in"
	StateAuthFailed     State = "auth_failed"
	StateClosed         State = "closed"
)

// Operation names accepted by ExecuteOperation. These are the wire values
// carried in TribunalJob.Operation.
const (
	OpConsultarProcesso    = "consultar_processo"
	OpListarDocumentos     = "listar_documentos"
	OpListarMovimentacoes  = "listar_movimentacoes"
	OpPeticionar           = "peticionar"
)

var (
	// ErrUnsupportedTribunal indicates an unknown court system. Fatal
	// configuration error; never retried.
	ErrUnsupportedTribunal = errors.New("unsupported tribunal system")
	// ErrUnsupportedOperation indicates an unknown operation name. Fatal
	// configuration error; never retried.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrInvalidState indicates a call that is not legal in the client's
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid client state")
	// ErrNotLoggedIn indicates an operation that requires authentication.
	ErrNotLoggedIn = errors.New("client is not logged in")
)

// Auth carries the plaintext authentication material for one login attempt.
// The caller owns its lifetime: build it immediately before Login and wipe
// the source credential afterwards. For certificate_a1 the caller must
// provision CertPath (a scoped temporary file) and remove it regardless of
// outcome.
type Auth struct {
	Type credential.AuthType

	Login    string
	Password string

	CertPath     string
	CertPassword string

	TokenPIN string

	CloudProvider string
	CloudID       string
}

// ConsultaParams parameterizes the read-only operations.
type ConsultaParams struct {
	Numero string `json:"numero"`
}

// Arquivo is one file to attach to a petition.
type Arquivo struct {
	Path string `json:"path"`
	Nome string `json:"nome"`
	// TipoDocumento is the declared document type; empty means the
	// default "Petição".
	TipoDocumento string `json:"tipoDocumento,omitempty"`
}

// DefaultTipoDocumento is used for attachments with no declared type.
const DefaultTipoDocumento = "Petição"

// PeticaoParams parameterizes petition filing.
type PeticaoParams struct {
	Numero   string    `json:"numero"`
	Tipo     string    `json:"tipo"`
	Arquivos []Arquivo `json:"arquivos"`
}

// Config configures a client instance.
type Config struct {
	System    System
	BaseURL   string
	Instancia int // court degree, 1 or 2; eproc routes on it

	Headless    bool
	UserDataDir string // non-empty makes the browser profile persistent
	CDPPort     int    // 0 allocates a free port
	RemoteURL   string // reattach to an already-running browser instead of launching

	// Timeouts for externally-gated waits.
	PINTimeout    time.Duration // A3 physical, default 5 min
	CloudTimeout  time.Duration // A3 cloud, default 2 min
	LoginTimeout  time.Duration // synchronous logins, default 30 s
	PollInterval  time.Duration // marker poll cadence, default 2 s

	// SolveCaptcha resolves captcha challenges met during login. nil means
	// captchas fail the login.
	SolveCaptcha captcha.SolveFunc

	// Bus receives petition progress events when non-nil.
	Bus   events.Bus
	JobID string
}

func (c *Config) applyDefaults() {
	if c.PINTimeout <= 0 {
		c.PINTimeout = 5 * time.Minute
	}
	if c.CloudTimeout <= 0 {
		c.CloudTimeout = 2 * time.Minute
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
}

// Client is the capability interface of one automation session against one
// court-system instance. Implementations are not safe for concurrent use:
// one caller drives one client.
type Client interface {
	// Init boots the underlying browser engine. Uninitialized -> Initialized.
	Init(ctx context.Context) error
	// Login runs the authentication flow for the given material.
	Login(ctx context.Context, auth Auth) (*LoginResult, error)
	// Logout signs out but keeps the engine running.
	Logout(ctx context.Context) error

	ConsultarProcesso(ctx context.Context, numero string) (*ProcessoInfo, error)
	ListarDocumentos(ctx context.Context, numero string) ([]Documento, error)
	ListarMovimentacoes(ctx context.Context, numero string) ([]Movimentacao, error)
	Peticionar(ctx context.Context, params PeticaoParams) (*ProtocolResult, error)

	// ExecuteOperation dispatches a named operation with raw JSON params.
	ExecuteOperation(ctx context.Context, op string, params json.RawMessage) (*Result, error)

	// Screenshot captures the current page as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Minimize, Restore and Focus control the browser window.
	Minimize(ctx context.Context) error
	Restore(ctx context.Context) error
	Focus(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State
	// CDPAddress returns the remote-debugging endpoint for reattachment,
	// empty until Init.
	CDPAddress() string

	// Close releases the browser engine. Safe to call in any state and
	// more than once.
	Close() error
}

// New constructs a client for the configured system. Adding a court system
// means adding a variant here and its profile, nothing else.
func New(cfg Config) (Client, error) {
	cfg.applyDefaults()
	switch cfg.System {
	case SystemEproc:
		return newEprocClient(cfg), nil
	case SystemPJe:
		return newPJeClient(cfg), nil
	case SystemESAJ:
		return newESAJClient(cfg), nil
	default:
		return nil, fmt.Errorf("%q: %w", cfg.System, ErrUnsupportedTribunal)
	}
}

// ParseSystem maps a wire string to a System.
func ParseSystem(s string) (System, error) {
	switch System(s) {
	case SystemEproc, SystemPJe, SystemESAJ:
		return System(s), nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnsupportedTribunal)
	}
}
