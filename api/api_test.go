package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forolabs/peticionador/captcha"
	"github.com/forolabs/peticionador/credential"
	credmemory "github.com/forolabs/peticionador/credential/memory"
	"github.com/forolabs/peticionador/events"
	"github.com/forolabs/peticionador/internal/util"
	"github.com/forolabs/peticionador/queue"
	queuememory "github.com/forolabs/peticionador/queue/memory"
	"github.com/forolabs/peticionador/session"
	"github.com/forolabs/peticionador/tribunal"
	"github.com/forolabs/peticionador/vault"
)

var testKDFParams = util.Argon2idParams{Time: 1, MemoryKiB: 8 * 1024, Parallelism: 1, KeyLen: 32}

// stubTribunalClient answers every operation successfully without a browser.
type stubTribunalClient struct{}

func (stubTribunalClient) Init(context.Context) error { return nil }
func (stubTribunalClient) Login(context.Context, tribunal.Auth) (*tribunal.LoginResult, error) {
	return &tribunal.LoginResult{Success: true}, nil
}
func (stubTribunalClient) Logout(context.Context) error { return nil }
func (stubTribunalClient) ConsultarProcesso(_ context.Context, numero string) (*tribunal.ProcessoInfo, error) {
	return &tribunal.ProcessoInfo{Numero: numero, Classe: "Procedimento Comum"}, nil
}
func (stubTribunalClient) ListarDocumentos(context.Context, string) ([]tribunal.Documento, error) {
	return []tribunal.Documento{{ID: "1", Nome: "Petição Inicial"}}, nil
}
func (stubTribunalClient) ListarMovimentacoes(context.Context, string) ([]tribunal.Movimentacao, error) {
	return []tribunal.Movimentacao{{Data: "10/04/2024", Descricao: "Juntada"}}, nil
}
func (stubTribunalClient) Peticionar(context.Context, tribunal.PeticaoParams) (*tribunal.ProtocolResult, error) {
	return &tribunal.ProtocolResult{Success: true, Protocolo: "20240012345678"}, nil
}
func (stubTribunalClient) ExecuteOperation(context.Context, string, json.RawMessage) (*tribunal.Result, error) {
	return &tribunal.Result{Success: true}, nil
}
func (stubTribunalClient) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }
func (stubTribunalClient) Minimize(context.Context) error             { return nil }
func (stubTribunalClient) Restore(context.Context) error              { return nil }
func (stubTribunalClient) Focus(context.Context) error                { return nil }
func (stubTribunalClient) State() tribunal.State                      { return tribunal.StateLoggedIn }
func (stubTribunalClient) CDPAddress() string                         { return "127.0.0.1:9333" }
func (stubTribunalClient) Close() error                               { return nil }

type apiHarness struct {
	router chi.Router
	creds  *credential.Service
	jobs   *queuememory.Queue
	solver *captcha.Solver
	bus    *events.MemoryBus
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	v, err := vault.New("api-passphrase", vault.WithKDFParams(testKDFParams))
	require.NoError(t, err)

	bus := events.NewMemoryBus()
	creds := credential.NewService(credmemory.NewRepository(), v)
	jobs := queuememory.New()
	solver := captcha.NewSolver(nil, bus, captcha.Config{
		FallbackToManual: true,
		ManualTimeout:    time.Second,
	})
	t.Cleanup(solver.Close)

	sessions := session.NewManager(session.NewMemoryRepository(), bus, session.Config{
		NewClient: func(tribunal.Config) (tribunal.Client, error) {
			return stubTribunalClient{}, nil
		},
	})

	return &apiHarness{
		router: New(sessions, creds, jobs, solver).Router(),
		creds:  creds,
		jobs:   jobs,
		solver: solver,
		bus:    bus,
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) readySession(t *testing.T) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/sessions", CreateSessionRequest{
		Tribunal: "eproc",
		BaseURL:  "https://eproc.test",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, session.StatusInitializing, info.Status)

	require.Eventually(t, func() bool {
		rec := h.do(t, http.MethodGet, "/sessions/"+info.ID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var got session.Info
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.Status == session.StatusReady
	}, 2*time.Second, 2*time.Millisecond)
	return info.ID
}

func TestCreateSessionLifecycle(t *testing.T) {
	h := newAPIHarness(t)
	id := h.readySession(t)

	rec := h.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListSessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, 9333, list.Sessions[0].CDPPort)

	rec = h.do(t, http.MethodDelete, "/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(t, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSessionUnknownTribunal(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/sessions", CreateSessionRequest{Tribunal: "projudi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLoginWithStoredCredential(t *testing.T) {
	h := newAPIHarness(t)
	id := h.readySession(t)

	stored, err := h.creds.Store(context.Background(), credential.CreateInput{
		UserID:      "u-1",
		Tribunal:    "eproc",
		TribunalURL: "https://eproc.test",
		AuthType:    credential.AuthPassword,
		Login:       "12345678900",
		Password:    "segredo",
	})
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, "/sessions/"+id+"/login", SessionLoginRequest{CredentialID: stored.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var result tribunal.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	// the decrypted secret must never appear in the response
	assert.NotContains(t, rec.Body.String(), "segredo")
}

func TestSessionLoginUnknownCredential(t *testing.T) {
	h := newAPIHarness(t)
	id := h.readySession(t)
	rec := h.do(t, http.MethodPost, "/sessions/"+id+"/login", SessionLoginRequest{CredentialID: "nope"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessoEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	id := h.readySession(t)
	numero := "5001234-56.2024.8.21.0001"

	rec := h.do(t, http.MethodGet, "/sessions/"+id+"/processo/"+numero, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info tribunal.ProcessoInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, numero, info.Numero)

	rec = h.do(t, http.MethodGet, "/sessions/"+id+"/processo/"+numero+"/docs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodGet, "/sessions/"+id+"/processo/"+numero+"/movs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/sessions/"+id+"/processo/"+numero+"/peticao", PeticaoRequest{
		Tipo:     "Petição Intermediária",
		Arquivos: []PeticaoArquivo{{Path: "/tmp/p.pdf", Nome: "p.pdf"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var protocol tribunal.ProtocolResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &protocol))
	assert.Equal(t, "20240012345678", protocol.Protocolo)
}

func TestScreenshotReturnsImage(t *testing.T) {
	h := newAPIHarness(t)
	id := h.readySession(t)
	rec := h.do(t, http.MethodPost, "/sessions/"+id+"/screenshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png", rec.Body.String())
}

func TestWindowEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	id := h.readySession(t)
	for _, action := range []string{"minimize", "restore", "focus"} {
		rec := h.do(t, http.MethodPost, "/sessions/"+id+"/window/"+action, nil)
		require.Equal(t, http.StatusNoContent, rec.Code, action)
	}
}

func TestCredentialEndpointsNeverEchoSecrets(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/credentials", CreateCredentialRequest{
		UserID:      "u-1",
		Tribunal:    "eproc",
		TribunalURL: "https://eproc.test",
		AuthType:    "password",
		Name:        "OAB principal",
		Login:       "12345678900",
		Password:    "hipersecreto",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hipersecreto")
	var created CredentialSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	rec = h.do(t, http.MethodGet, "/credentials?userId=u-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hipersecreto")
	var list ListCredentialsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Credentials, 1)

	rec = h.do(t, http.MethodDelete, "/credentials/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListCredentialsRequiresUserID(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/credentials", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCredentialUnknownAuthType(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/credentials", CreateCredentialRequest{
		UserID:   "u-1",
		Tribunal: "eproc",
		AuthType: "biometric",
		Login:    "12345678900",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobEnqueues(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/jobs", CreateJobRequest{
		UserID:       "u-1",
		CredentialID: "c-1",
		Tribunal:     "eproc",
		TribunalURL:  "https://eproc.test",
		Operation:    "consultar_processo",
		Params:       json.RawMessage(`{"numero":"0001"}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job queue.TribunalJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, queue.StatusPending, job.Status)

	rec = h.do(t, http.MethodGet, "/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateJobValidation(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/jobs", CreateJobRequest{
		Tribunal: "projudi", Operation: "consultar_processo",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/jobs", CreateJobRequest{
		Tribunal: "eproc", Operation: "arquivar_processo",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/jobs/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitCaptchaResolvesManualWait(t *testing.T) {
	h := newAPIHarness(t)
	challenges, cancel := h.bus.Subscribe(events.KindCaptchaRequired)
	defer cancel()

	type outcome struct {
		sol *captcha.Solution
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		sol, err := h.solver.Solve(context.Background(), captcha.Request{
			JobID:     "job-1",
			UserID:    "u-1",
			Tribunal:  "eproc",
			Challenge: captcha.Challenge{Kind: captcha.ChallengeImage, ImagePNG: []byte("png")},
		})
		done <- outcome{sol, err}
	}()

	var captchaID string
	select {
	case evt := <-challenges:
		captchaID = evt.(events.CaptchaRequired).CaptchaID
	case <-time.After(2 * time.Second):
		t.Fatal("challenge never published")
	}

	rec := h.do(t, http.MethodPost, "/captchas/"+captchaID+"/solution", SubmitCaptchaRequest{Text: "x7k2p"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.Equal(t, "x7k2p", got.sol.Text)
		assert.Equal(t, captcha.SourceManual, got.sol.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("solve never returned")
	}
}

func TestSubmitCaptchaUnknownChallenge(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/captchas/nope/solution", SubmitCaptchaRequest{Text: "x"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenAPIDocServed(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "Peticionador Control API"))
}
