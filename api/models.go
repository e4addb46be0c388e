package api

import (
	"encoding/json"

	"github.com/forolabs/peticionador/credential"
	"github.com/forolabs/peticionador/session"
)

// ErrorResponse is the JSON body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateSessionRequest is the JSON body for POST /sessions.
type CreateSessionRequest struct {
	Tribunal   string `json:"tribunal"`
	BaseURL    string `json:"baseUrl"`
	Instancia  int    `json:"instancia,omitempty"`
	Headless   bool   `json:"headless,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
}

// SessionLoginRequest is the JSON body for POST /sessions/{sessionID}/login.
// The credential is referenced by id and decrypted server-side; plaintext
// secrets never travel through this API.
type SessionLoginRequest struct {
	CredentialID string `json:"credentialId"`
}

// ListSessionsResponse is returned from GET /sessions.
type ListSessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
}

// PeticaoRequest is the JSON body for POST .../processo/{numero}/peticao.
type PeticaoRequest struct {
	Tipo     string           `json:"tipo"`
	Arquivos []PeticaoArquivo `json:"arquivos"`
}

// PeticaoArquivo is one attachment of a petition request.
type PeticaoArquivo struct {
	Path          string `json:"path"`
	Nome          string `json:"nome"`
	TipoDocumento string `json:"tipoDocumento,omitempty"`
}

// CreateCredentialRequest is the JSON body for POST /credentials.
type CreateCredentialRequest struct {
	UserID      string `json:"userId"`
	Tribunal    string `json:"tribunal"`
	TribunalURL string `json:"tribunalUrl"`
	AuthType    string `json:"authType"`
	Name        string `json:"name,omitempty"`

	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"`

	CertFile     []byte `json:"certFile,omitempty"` // base64 in JSON
	CertPassword string `json:"certPassword,omitempty"`

	TokenSerial string `json:"tokenSerial,omitempty"`
	TokenPIN    string `json:"tokenPin,omitempty"`

	CloudProvider string `json:"cloudProvider,omitempty"`
	CloudID       string `json:"cloudId,omitempty"`
}

// CredentialSummary is the stored view of a credential: identifiers and
// shape only, never decrypted material.
type CredentialSummary struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Tribunal    string `json:"tribunal"`
	TribunalURL string `json:"tribunalUrl,omitempty"`
	AuthType    string `json:"authType"`
	Name        string `json:"name,omitempty"`
}

func credentialSummary(c *credential.StoredCredential) CredentialSummary {
	return CredentialSummary{
		ID:          c.ID,
		UserID:      c.UserID,
		Tribunal:    c.Tribunal,
		TribunalURL: c.TribunalURL,
		AuthType:    string(c.AuthType),
		Name:        c.Name,
	}
}

// ListCredentialsResponse is returned from GET /credentials.
type ListCredentialsResponse struct {
	Credentials []CredentialSummary `json:"credentials"`
}

// CreateJobRequest is the JSON body for POST /jobs.
type CreateJobRequest struct {
	UserID       string          `json:"userId"`
	CredentialID string          `json:"credentialId"`
	Tribunal     string          `json:"tribunal"`
	TribunalURL  string          `json:"tribunalUrl"`
	Operation    string          `json:"operation"`
	Params       json.RawMessage `json:"params,omitempty"`
	WebhookURL   string          `json:"webhookUrl,omitempty"`
}

// SubmitCaptchaRequest is the JSON body for POST /captchas/{captchaID}/solution.
type SubmitCaptchaRequest struct {
	Text string `json:"text"`
}
