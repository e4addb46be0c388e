// Package api is the control surface consumed by external tooling and
// operators: session lifecycle and interactive operations, credential
// registration, job submission, and manual captcha solutions.
package api

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/forolabs/peticionador/captcha"
	"github.com/forolabs/peticionador/credential"
	"github.com/forolabs/peticionador/queue"
	"github.com/forolabs/peticionador/session"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	sessions *session.Manager
	creds    *credential.Service
	jobs     queue.Queue
	solver   *captcha.Solver
}

// New creates an API instance. The solver may be nil when manual captcha
// submission is not exposed by this process.
func New(sessions *session.Manager, creds *credential.Service, jobs queue.Queue, solver *captcha.Solver) *API {
	return &API{
		sessions: sessions,
		creds:    creds,
		jobs:     jobs,
		solver:   solver,
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/sessions", a.CreateSession)
	r.Get("/sessions", a.ListSessions)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", a.GetSession)
		r.Delete("/", a.DeleteSession)
		r.Post("/login", a.SessionLogin)
		r.Post("/logout", a.SessionLogout)
		r.Post("/window/minimize", a.WindowMinimize)
		r.Post("/window/restore", a.WindowRestore)
		r.Post("/window/focus", a.WindowFocus)
		r.Post("/screenshot", a.Screenshot)
		r.Route("/processo/{numero}", func(r chi.Router) {
			r.Get("/", a.ConsultarProcesso)
			r.Get("/docs", a.ListarDocumentos)
			r.Get("/movs", a.ListarMovimentacoes)
			r.Post("/peticao", a.Peticionar)
		})
	})

	r.Post("/credentials", a.CreateCredential)
	r.Get("/credentials", a.ListCredentials)
	r.Delete("/credentials/{credentialID}", a.DeleteCredential)

	r.Post("/jobs", a.CreateJob)
	r.Get("/jobs/{jobID}", a.GetJob)

	r.Post("/captchas/{captchaID}/solution", a.SubmitCaptcha)

	return r
}
