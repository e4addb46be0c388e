package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/forolabs/peticionador/credential"
	"github.com/forolabs/peticionador/queue"
	"github.com/forolabs/peticionador/session"
	"github.com/forolabs/peticionador/tribunal"
)

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// CreateSession boots a new automation session asynchronously.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	info, err := a.sessions.Create(r.Context(), session.CreateInput{
		Tribunal:   req.Tribunal,
		BaseURL:    req.BaseURL,
		Instancia:  req.Instancia,
		Headless:   req.Headless,
		Persistent: req.Persistent,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := a.sessions.List(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: infos})
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionLogin authenticates the session with a stored credential. The
// decrypted material lives only for the duration of this request.
func (a *API) SessionLogin(w http.ResponseWriter, r *http.Request) {
	var req SessionLoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cred, err := a.creds.Decrypt(r.Context(), req.CredentialID)
	if err != nil {
		mapError(w, err)
		return
	}
	if cred == nil {
		writeError(w, http.StatusNotFound, "credential not found")
		return
	}
	defer cred.Destroy()

	auth, cleanup, err := tribunal.AuthFromCredential(cred)
	if err != nil {
		mapError(w, err)
		return
	}
	defer cleanup()

	result, err := a.sessions.Login(r.Context(), chi.URLParam(r, "sessionID"), auth)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) SessionLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Logout(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) WindowMinimize(w http.ResponseWriter, r *http.Request) {
	a.windowOp(w, r, a.sessions.Minimize)
}

func (a *API) WindowRestore(w http.ResponseWriter, r *http.Request) {
	a.windowOp(w, r, a.sessions.RestoreWindow)
}

func (a *API) WindowFocus(w http.ResponseWriter, r *http.Request) {
	a.windowOp(w, r, a.sessions.Focus)
}

func (a *API) windowOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	if err := op(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Screenshot(w http.ResponseWriter, r *http.Request) {
	img, err := a.sessions.Screenshot(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		mapError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(img)
}

func (a *API) ConsultarProcesso(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.ConsultarProcesso(r.Context(),
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "numero"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) ListarDocumentos(w http.ResponseWriter, r *http.Request) {
	docs, err := a.sessions.ListarDocumentos(r.Context(),
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "numero"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *API) ListarMovimentacoes(w http.ResponseWriter, r *http.Request) {
	movs, err := a.sessions.ListarMovimentacoes(r.Context(),
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "numero"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movs)
}

func (a *API) Peticionar(w http.ResponseWriter, r *http.Request) {
	var req PeticaoRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	params := tribunal.PeticaoParams{
		Numero: chi.URLParam(r, "numero"),
		Tipo:   req.Tipo,
	}
	for _, arq := range req.Arquivos {
		params.Arquivos = append(params.Arquivos, tribunal.Arquivo{
			Path:          arq.Path,
			Nome:          arq.Nome,
			TipoDocumento: arq.TipoDocumento,
		})
	}
	result, err := a.sessions.Peticionar(r.Context(), chi.URLParam(r, "sessionID"), params)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateCredential encrypts and stores authentication material. The
// response never echoes the secret fields back.
func (a *API) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req CreateCredentialRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	stored, err := a.creds.Store(r.Context(), credential.CreateInput{
		UserID:        req.UserID,
		Tribunal:      req.Tribunal,
		TribunalURL:   req.TribunalURL,
		AuthType:      credential.AuthType(req.AuthType),
		Name:          req.Name,
		Login:         req.Login,
		Password:      req.Password,
		CertFile:      req.CertFile,
		CertPassword:  req.CertPassword,
		TokenSerial:   req.TokenSerial,
		TokenPIN:      req.TokenPIN,
		CloudProvider: req.CloudProvider,
		CloudID:       req.CloudID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, credentialSummary(stored))
}

func (a *API) ListCredentials(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	stored, err := a.creds.ListByUser(r.Context(), userID)
	if err != nil {
		mapError(w, err)
		return
	}
	resp := ListCredentialsResponse{Credentials: make([]CredentialSummary, 0, len(stored))}
	for _, c := range stored {
		resp.Credentials = append(resp.Credentials, credentialSummary(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := a.creds.Delete(r.Context(), chi.URLParam(r, "credentialID")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateJob validates and enqueues a tribunal job for the worker fleet.
func (a *API) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := tribunal.ParseSystem(req.Tribunal); err != nil {
		mapError(w, err)
		return
	}
	switch req.Operation {
	case tribunal.OpConsultarProcesso, tribunal.OpListarDocumentos,
		tribunal.OpListarMovimentacoes, tribunal.OpPeticionar:
	default:
		mapError(w, tribunal.ErrUnsupportedOperation)
		return
	}

	job := &queue.TribunalJob{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		CredentialID: req.CredentialID,
		Tribunal:     req.Tribunal,
		TribunalURL:  req.TribunalURL,
		Operation:    req.Operation,
		Params:       req.Params,
		WebhookURL:   req.WebhookURL,
		Status:       queue.StatusPending,
	}
	if err := a.jobs.Enqueue(r.Context(), job); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// SubmitCaptcha resolves a pending manual captcha challenge.
func (a *API) SubmitCaptcha(w http.ResponseWriter, r *http.Request) {
	if a.solver == nil {
		writeError(w, http.StatusServiceUnavailable, "manual captcha submission is not enabled")
		return
	}
	var req SubmitCaptchaRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.solver.Submit(chi.URLParam(r, "captchaID"), req.Text); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
