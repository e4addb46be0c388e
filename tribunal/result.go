package tribunal

import "time"

// ProcessoInfo is the structured case data extracted from a consulta page.
type ProcessoInfo struct {
	Numero     string    `json:"numero"`
	Classe     string    `json:"classe,omitempty"`
	Assunto    string    `json:"assunto,omitempty"`
	Orgao      string    `json:"orgao,omitempty"`
	Situacao   string    `json:"situacao,omitempty"`
	Autuacao   string    `json:"autuacao,omitempty"`
	Partes     []Parte   `json:"partes,omitempty"`
	ConsultaEm time.Time `json:"consultaEm"`
}

// Parte is one party of a case with its pole (autor, réu, ...).
type Parte struct {
	Nome string `json:"nome"`
	Polo string `json:"polo,omitempty"`
}

// Documento is one row of a case's document listing.
type Documento struct {
	ID   string `json:"id,omitempty"`
	Nome string `json:"nome"`
	Tipo string `json:"tipo,omitempty"`
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Movimentacao is one row of a case's movement listing.
type Movimentacao struct {
	Data        string `json:"data"`
	Descricao   string `json:"descricao"`
	Complemento string `json:"complemento,omitempty"`
}

// LoginResult is the structured outcome of an authentication attempt.
// A rejected login or an expired interaction window is a result, not an
// error: errors are reserved for navigation and environment failures.
type LoginResult struct {
	Success  bool   `json:"success"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ProtocolResult is the outcome of a petition filing. When the tribunal
// accepted the petition, Protocolo carries the confirmation identifier.
type ProtocolResult struct {
	Success   bool      `json:"success"`
	Protocolo string    `json:"protocolo,omitempty"`
	Error     string    `json:"error,omitempty"`
	FiledAt   time.Time `json:"filedAt,omitempty"`
}

// Result is the operation-level envelope returned by ExecuteOperation.
// Expected failure modes (signature timeout, protocol extraction miss)
// arrive here with Success=false and a nil error at the call site.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
