package captcha_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forolabs/peticionador/captcha"
)

func TestHTTPProviderSolveImage(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-key", req["clientKey"])
			task := req["task"].(map[string]any)
			assert.Equal(t, "ImageToTextTask", task["type"])
			json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "taskId": 42})
		case "/getTaskResult":
			// First poll still processing, second poll ready.
			if polls.Add(1) < 2 {
				json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "status": "processing"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"errorId": 0, "status": "ready",
				"solution": map[string]any{"text": "AB12CD"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := captcha.NewHTTPProvider(srv.URL, "test-key", captcha.WithPollInterval(10*time.Millisecond))
	text, err := p.Solve(context.Background(), captcha.Challenge{
		Kind:     captcha.ChallengeImage,
		ImagePNG: []byte{0x89, 0x50, 0x4e, 0x47},
	})
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", text)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestHTTPProviderRejectedTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"errorId": 1, "errorDescription": "ERROR_KEY_DOES_NOT_EXIST",
		})
	}))
	defer srv.Close()

	p := captcha.NewHTTPProvider(srv.URL, "bad-key")
	_, err := p.Solve(context.Background(), captcha.Challenge{
		Kind: captcha.ChallengeSiteKey, SiteKey: "6Lc...",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_KEY_DOES_NOT_EXIST")
}

func TestHTTPProviderContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "taskId": 7})
		default:
			json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "status": "processing"})
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := captcha.NewHTTPProvider(srv.URL, "key", captcha.WithPollInterval(10*time.Millisecond))
	_, err := p.Solve(ctx, captcha.Challenge{Kind: captcha.ChallengeImage, ImagePNG: []byte{1}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
