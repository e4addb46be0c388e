package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forolabs/peticionador/captcha"
	"github.com/forolabs/peticionador/credential"
	"github.com/forolabs/peticionador/queue"
	"github.com/forolabs/peticionador/session"
	"github.com/forolabs/peticionador/tribunal"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrSessionNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tribunal.ErrUnsupportedTribunal):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tribunal.ErrUnsupportedOperation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tribunal.ErrNotLoggedIn):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tribunal.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tribunal.ErrExtraction):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, credential.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, captcha.ErrNoPendingChallenge):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, captcha.ErrSolverClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
