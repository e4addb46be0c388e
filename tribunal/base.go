package tribunal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/forolabs/peticionador/captcha"
	"github.com/forolabs/peticionador/credential"
	"github.com/forolabs/peticionador/events"
)

// ErrExtraction indicates expected data was not found on the page. It is
// mapped to a structured failure at the operation level instead of
// propagating as a job error, because retrying rarely helps.
var ErrExtraction = errors.New("expected data not found on page")

// selectors is the per-system table of page locators. Their meaning is the
// shared protocol; their values are the only court-system specifics.
type selectors struct {
	loginUser   string
	loginPass   string
	loginSubmit string

	certLoginButton string
	certFileInput   string
	certPassInput   string
	certSubmit      string

	captchaImage string
	captchaInput string

	loginSuccess string
	loginError   string
	logout       string

	procClasse   string
	procAssunto  string
	procOrgao    string
	procSituacao string
	procAutuacao string
	partesTable  string
	docsTable    string
	movsTable    string

	novaPeticao      string
	peticaoTipo      string
	arquivoInput     string
	arquivoTipo      string
	adicionarArquivo string
	assinarEnviar    string

	signSuccess string
	signError   string

	protocoloElement string
	successBanner    string
}

// profile bundles a system's selectors with its URL scheme.
type profile struct {
	system       System
	sel          selectors
	loginPath    func(instancia int) string
	consultaPath func(numero string) string
	docsPath     func(numero string) string
	movsPath     func(numero string) string
	peticaoPath  func(numero string) string
}

// base implements the Client state machine and operations on top of the
// page primitive. Variants supply only their profile.
type base struct {
	cfg  Config
	prof profile

	eng *Engine
	pg  page

	mu       sync.Mutex
	state    State
	authType credential.AuthType
}

var _ Client = (*base)(nil)

func newBase(cfg Config, prof profile) *base {
	return &base{cfg: cfg, prof: prof, state: StateUninitialized}
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// requireState fails unless the current state is one of the allowed ones.
func (b *base) requireState(allowed ...State) error {
	current := b.State()
	for _, s := range allowed {
		if current == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidState, current)
}

func (b *base) requireLoggedIn() error {
	if s := b.State(); s != StateLoggedIn {
		return fmt.Errorf("%w (state %s)", ErrNotLoggedIn, s)
	}
	return nil
}

func (b *base) Init(ctx context.Context) error {
	if err := b.requireState(StateUninitialized); err != nil {
		return err
	}
	eng, err := newEngine(b.cfg)
	if err != nil {
		return err
	}
	b.eng = eng
	b.pg = eng
	b.setState(StateInitialized)
	_ = ctx
	return nil
}

func (b *base) Close() error {
	if b.State() == StateClosed {
		return nil
	}
	b.setState(StateClosed)
	if b.eng != nil {
		return b.eng.Close()
	}
	return nil
}

func (b *base) CDPAddress() string {
	if b.eng == nil {
		return ""
	}
	return b.eng.CDPAddress()
}

func (b *base) url(path string) string {
	return strings.TrimRight(b.cfg.BaseURL, "/") + path
}

// interactionTimeout returns the bounded wait for externally-gated flows.
func (b *base) interactionTimeout(t credential.AuthType) time.Duration {
	if t == credential.AuthCertA3Cloud {
		return b.cfg.CloudTimeout
	}
	return b.cfg.PINTimeout
}

func (b *base) Login(ctx context.Context, auth Auth) (*LoginResult, error) {
	if err := b.requireState(StateInitialized, StateAuthFailed); err != nil {
		return nil, err
	}
	b.setState(StateAuthenticating)
	b.authType = auth.Type

	result, err := b.login(ctx, auth)
	if err != nil {
		b.setState(StateAuthFailed)
		return nil, err
	}
	if result.Success {
		b.setState(StateLoggedIn)
	} else {
		b.setState(StateAuthFailed)
	}
	return result, nil
}

func (b *base) login(ctx context.Context, auth Auth) (*LoginResult, error) {
	if err := b.pg.Navigate(ctx, b.url(b.prof.loginPath(b.cfg.Instancia))); err != nil {
		return nil, fmt.Errorf("navigating to login page: %w", err)
	}
	if err := b.solveCaptchaIfPresent(ctx); err != nil {
		return nil, err
	}

	switch auth.Type {
	case credential.AuthPassword:
		return b.loginPassword(ctx, auth)
	case credential.AuthCertA1:
		return b.loginCertA1(ctx, auth)
	case credential.AuthCertA3Token, credential.AuthCertA3Cloud:
		return b.loginCertA3(ctx, auth)
	default:
		return nil, fmt.Errorf("auth type %q: %w", auth.Type, ErrUnsupportedOperation)
	}
}

// loginPassword is the synchronous fill-and-submit flow.
func (b *base) loginPassword(ctx context.Context, auth Auth) (*LoginResult, error) {
	sel := b.prof.sel
	if err := b.pg.SendKeys(ctx, sel.loginUser, auth.Login); err != nil {
		return nil, fmt.Errorf("filling login: %w", err)
	}
	if err := b.pg.SendKeys(ctx, sel.loginPass, auth.Password); err != nil {
		return nil, fmt.Errorf("filling password: %w", err)
	}
	if err := b.pg.Click(ctx, sel.loginSubmit); err != nil {
		return nil, fmt.Errorf("submitting login: %w", err)
	}
	return b.loginOutcome(ctx, b.cfg.LoginTimeout, false)
}

// loginCertA1 uploads the certificate file the caller provisioned at
// auth.CertPath. The caller deletes the file afterwards regardless of
// outcome.
func (b *base) loginCertA1(ctx context.Context, auth Auth) (*LoginResult, error) {
	sel := b.prof.sel
	if err := b.pg.Click(ctx, sel.certLoginButton); err != nil {
		return nil, fmt.Errorf("opening certificate login: %w", err)
	}
	if err := b.pg.SetFiles(ctx, sel.certFileInput, []string{auth.CertPath}); err != nil {
		return nil, fmt.Errorf("attaching certificate file: %w", err)
	}
	if err := b.pg.SendKeys(ctx, sel.certPassInput, auth.CertPassword); err != nil {
		return nil, fmt.Errorf("filling certificate passphrase: %w", err)
	}
	if err := b.pg.Click(ctx, sel.certSubmit); err != nil {
		return nil, fmt.Errorf("submitting certificate login: %w", err)
	}
	return b.loginOutcome(ctx, b.cfg.LoginTimeout, false)
}

// loginCertA3 enters the pending-interaction sub-state: the user must act
// on a hardware token or a mobile approval prompt while we poll for the
// outcome markers under a bounded timeout.
func (b *base) loginCertA3(ctx context.Context, auth Auth) (*LoginResult, error) {
	sel := b.prof.sel
	if err := b.pg.Click(ctx, sel.certLoginButton); err != nil {
		return nil, fmt.Errorf("opening certificate login: %w", err)
	}
	slog.Info("tribunal: waiting for out-of-band certificate approval",
		"system", b.prof.system, "authType", auth.Type)
	return b.loginOutcome(ctx, b.interactionTimeout(auth.Type), true)
}

// loginOutcome races the success/error markers against the given timeout.
// interactive marks A3 flows, where timing out is the expected "the human
// did not act in time" result.
func (b *base) loginOutcome(ctx context.Context, timeout time.Duration, interactive bool) (*LoginResult, error) {
	sel := b.prof.sel
	outcome, err := awaitMarkers(ctx, b.pg, sel.loginSuccess, sel.loginError, timeout, b.cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case markerSuccess:
		return &LoginResult{Success: true}, nil
	case markerFailure:
		msg, _ := b.pg.Text(ctx, sel.loginError)
		if msg == "" {
			msg = "login rejeitado pelo tribunal"
		}
		return &LoginResult{Success: false, Error: msg}, nil
	default:
		if interactive {
			return &LoginResult{
				Success:  false,
				TimedOut: true,
				Error:    "aprovação do certificado não concluída dentro do prazo",
			}, nil
		}
		return &LoginResult{Success: false, Error: "login não confirmado dentro do prazo"}, nil
	}
}

// solveCaptchaIfPresent routes a login captcha through the configured
// solver and types the answer in place.
func (b *base) solveCaptchaIfPresent(ctx context.Context) error {
	sel := b.prof.sel
	if sel.captchaImage == "" {
		return nil
	}
	present, err := b.pg.Exists(ctx, sel.captchaImage)
	if err != nil {
		return fmt.Errorf("checking for captcha: %w", err)
	}
	if !present {
		return nil
	}
	if b.cfg.SolveCaptcha == nil {
		return fmt.Errorf("captcha encountered but no solver configured")
	}

	img, err := b.pg.ElementScreenshot(ctx, sel.captchaImage)
	if err != nil {
		return fmt.Errorf("capturing captcha image: %w", err)
	}
	text, err := b.cfg.SolveCaptcha(ctx, captcha.Challenge{
		Kind:     captcha.ChallengeImage,
		ImagePNG: img,
	})
	if err != nil {
		return fmt.Errorf("solving captcha: %w", err)
	}
	if err := b.pg.SendKeys(ctx, sel.captchaInput, text); err != nil {
		return fmt.Errorf("typing captcha solution: %w", err)
	}
	return nil
}

func (b *base) Logout(ctx context.Context) error {
	if err := b.requireLoggedIn(); err != nil {
		return err
	}
	if err := b.pg.Click(ctx, b.prof.sel.logout); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	b.setState(StateInitialized)
	return nil
}

func (b *base) ConsultarProcesso(ctx context.Context, numero string) (*ProcessoInfo, error) {
	if err := b.requireLoggedIn(); err != nil {
		return nil, err
	}
	if err := b.pg.Navigate(ctx, b.url(b.prof.consultaPath(numero))); err != nil {
		return nil, fmt.Errorf("navigating to consulta: %w", err)
	}

	sel := b.prof.sel
	info := &ProcessoInfo{Numero: numero, ConsultaEm: time.Now().UTC()}
	info.Classe, _ = b.pg.Text(ctx, sel.procClasse)
	info.Assunto, _ = b.pg.Text(ctx, sel.procAssunto)
	info.Orgao, _ = b.pg.Text(ctx, sel.procOrgao)
	info.Situacao, _ = b.pg.Text(ctx, sel.procSituacao)
	info.Autuacao, _ = b.pg.Text(ctx, sel.procAutuacao)

	if info.Classe == "" && info.Situacao == "" {
		return nil, fmt.Errorf("processo %s: %w", numero, ErrExtraction)
	}

	if raw, err := b.pg.Text(ctx, sel.partesTable); err == nil {
		for _, cells := range tableRows(raw, 2) {
			info.Partes = append(info.Partes, Parte{Polo: cells[0], Nome: cells[1]})
		}
	}
	return info, nil
}

func (b *base) ListarDocumentos(ctx context.Context, numero string) ([]Documento, error) {
	if err := b.requireLoggedIn(); err != nil {
		return nil, err
	}
	if err := b.pg.Navigate(ctx, b.url(b.prof.docsPath(numero))); err != nil {
		return nil, fmt.Errorf("navigating to documentos: %w", err)
	}
	raw, err := b.pg.Text(ctx, b.prof.sel.docsTable)
	if err != nil {
		return nil, fmt.Errorf("processo %s documentos: %w", numero, ErrExtraction)
	}

	var docs []Documento
	for _, cells := range tableRows(raw, 3) {
		docs = append(docs, Documento{ID: cells[0], Data: cells[1], Nome: cells[2]})
	}
	return docs, nil
}

func (b *base) ListarMovimentacoes(ctx context.Context, numero string) ([]Movimentacao, error) {
	if err := b.requireLoggedIn(); err != nil {
		return nil, err
	}
	if err := b.pg.Navigate(ctx, b.url(b.prof.movsPath(numero))); err != nil {
		return nil, fmt.Errorf("navigating to movimentações: %w", err)
	}
	raw, err := b.pg.Text(ctx, b.prof.sel.movsTable)
	if err != nil {
		return nil, fmt.Errorf("processo %s movimentações: %w", numero, ErrExtraction)
	}

	var movs []Movimentacao
	for _, cells := range tableRows(raw, 2) {
		movs = append(movs, Movimentacao{Data: cells[0], Descricao: cells[1]})
	}
	return movs, nil
}

// tableRows splits a table's innerText into rows and tab-separated cells,
// skipping rows with fewer than want cells. Partial results beat total
// failure: one malformed row never aborts the listing.
func tableRows(raw string, want int) [][]string {
	var rows [][]string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cells := strings.Split(line, "\t")
		if len(cells) < want {
			continue
		}
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	return rows
}

var protocoloPattern = regexp.MustCompile(`(?i)protocolo\s*(?:n[º°o.]*)?\s*[:\-]?\s*([0-9][0-9./-]{5,})`)

func (b *base) Peticionar(ctx context.Context, params PeticaoParams) (*ProtocolResult, error) {
	if err := b.requireLoggedIn(); err != nil {
		return nil, err
	}
	sel := b.prof.sel

	if err := b.pg.Navigate(ctx, b.url(b.prof.peticaoPath(params.Numero))); err != nil {
		return nil, fmt.Errorf("navigating to peticionamento: %w", err)
	}
	if err := b.pg.Click(ctx, sel.novaPeticao); err != nil {
		return nil, fmt.Errorf("starting petition: %w", err)
	}
	if err := b.pg.SelectOption(ctx, sel.peticaoTipo, params.Tipo); err != nil {
		return nil, fmt.Errorf("selecting petition type: %w", err)
	}

	total := len(params.Arquivos)
	for i, arq := range params.Arquivos {
		tipo := arq.TipoDocumento
		if tipo == "" {
			tipo = DefaultTipoDocumento
		}
		if err := b.pg.SetFiles(ctx, sel.arquivoInput, []string{arq.Path}); err != nil {
			return nil, fmt.Errorf("attaching file %s: %w", arq.Nome, err)
		}
		if err := b.pg.SelectOption(ctx, sel.arquivoTipo, tipo); err != nil {
			return nil, fmt.Errorf("selecting document type for %s: %w", arq.Nome, err)
		}
		if err := b.pg.Click(ctx, sel.adicionarArquivo); err != nil {
			return nil, fmt.Errorf("adding file %s: %w", arq.Nome, err)
		}
		b.publish(ctx, events.PetitionFileAttached{
			JobID:    b.cfg.JobID,
			Processo: params.Numero,
			FileName: arq.Nome,
			DocType:  tipo,
			Index:    i + 1,
			Total:    total,
		})
	}

	if err := b.pg.Click(ctx, sel.assinarEnviar); err != nil {
		return nil, fmt.Errorf("invoking sign-and-send: %w", err)
	}

	// Certificate-A3 signing re-enters the same pending-interaction wait
	// used during login.
	timeout := b.cfg.LoginTimeout
	interactive := credential.NeedsUserInteraction(b.authType)
	if interactive {
		timeout = b.interactionTimeout(b.authType)
	}
	outcome, err := awaitMarkers(ctx, b.pg, sel.signSuccess, sel.signError, timeout, b.cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case markerFailure:
		msg, _ := b.pg.Text(ctx, sel.signError)
		if msg == "" {
			msg = "tribunal rejeitou o envio da petição"
		}
		return &ProtocolResult{Success: false, Error: msg}, nil
	case markerTimeout:
		if interactive {
			return &ProtocolResult{
				Success: false,
				Error:   "assinatura não confirmada dentro do prazo",
			}, nil
		}
		return &ProtocolResult{Success: false, Error: "envio não confirmado dentro do prazo"}, nil
	}

	return b.extractProtocol(ctx), nil
}

// extractProtocol tries, in order, the dedicated element, a regex scan of
// the page text, and the generic success banner. A miss yields a structured
// failure, never a thrown error.
func (b *base) extractProtocol(ctx context.Context) *ProtocolResult {
	sel := b.prof.sel
	now := time.Now().UTC()

	if text, err := b.pg.Text(ctx, sel.protocoloElement); err == nil {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return &ProtocolResult{Success: true, Protocolo: trimmed, FiledAt: now}
		}
	}

	if body, err := b.pg.BodyText(ctx); err == nil {
		if m := protocoloPattern.FindStringSubmatch(body); m != nil {
			return &ProtocolResult{Success: true, Protocolo: m[1], FiledAt: now}
		}
	}

	if ok, err := b.pg.Exists(ctx, sel.successBanner); err == nil && ok {
		return &ProtocolResult{Success: true, FiledAt: now}
	}

	return &ProtocolResult{
		Success: false,
		Error:   "não foi possível confirmar o número de protocolo",
	}
}

func (b *base) ExecuteOperation(ctx context.Context, op string, params json.RawMessage) (*Result, error) {
	switch op {
	case OpConsultarProcesso:
		var p ConsultaParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decoding params: %w", err)
		}
		info, err := b.ConsultarProcesso(ctx, p.Numero)
		return wrapResult(info, err)
	case OpListarDocumentos:
		var p ConsultaParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decoding params: %w", err)
		}
		docs, err := b.ListarDocumentos(ctx, p.Numero)
		return wrapResult(docs, err)
	case OpListarMovimentacoes:
		var p ConsultaParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decoding params: %w", err)
		}
		movs, err := b.ListarMovimentacoes(ctx, p.Numero)
		return wrapResult(movs, err)
	case OpPeticionar:
		var p PeticaoParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decoding params: %w", err)
		}
		pr, err := b.Peticionar(ctx, p)
		if err != nil {
			return nil, err
		}
		return &Result{Success: pr.Success, Data: pr, Error: pr.Error}, nil
	default:
		return nil, fmt.Errorf("%q: %w", op, ErrUnsupportedOperation)
	}
}

// wrapResult maps extraction misses to structured failures and lets
// navigation errors propagate for the worker's retry policy.
func wrapResult(data any, err error) (*Result, error) {
	if errors.Is(err, ErrExtraction) {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Data: data}, nil
}

func (b *base) publish(ctx context.Context, evt events.Event) {
	if b.cfg.Bus == nil {
		return
	}
	if err := b.cfg.Bus.Publish(ctx, evt); err != nil {
		slog.Warn("tribunal: publishing event failed", "kind", evt.EventKind(), "error", err)
	}
}

func (b *base) Screenshot(ctx context.Context) ([]byte, error) {
	if err := b.requireState(StateInitialized, StateAuthenticating, StateLoggedIn, StateAuthFailed); err != nil {
		return nil, err
	}
	return b.pg.Screenshot(ctx)
}

func (b *base) windowEngine() (*Engine, error) {
	if b.eng == nil {
		return nil, fmt.Errorf("window control requires a launched browser: %w", ErrInvalidState)
	}
	return b.eng, nil
}

func (b *base) Minimize(ctx context.Context) error {
	eng, err := b.windowEngine()
	if err != nil {
		return err
	}
	return eng.Minimize(ctx)
}

func (b *base) Restore(ctx context.Context) error {
	eng, err := b.windowEngine()
	if err != nil {
		return err
	}
	return eng.Restore(ctx)
}

func (b *base) Focus(ctx context.Context) error {
	eng, err := b.windowEngine()
	if err != nil {
		return err
	}
	return eng.Focus(ctx)
}
