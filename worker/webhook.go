package worker

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// webhookQueueSize is the bounded channel capacity for outbound notifications.
const webhookQueueSize = 1024

// webhookPayload is the JSON body POSTed to a job's callback URL once the
// job reaches a terminal status. Fire-and-forget: delivery failures never
// affect the job outcome.
type webhookPayload struct {
	JobID       string          `json:"jobId"`
	UserID      string          `json:"userId"`
	Operation   string          `json:"operation"`
	Success     bool            `json:"success"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

type webhookDelivery struct {
	url     string
	payload webhookPayload
}

// webhookNotifier dispatches job-completion callbacks. Deliveries are
// enqueued non-blockingly into a bounded channel and sent by a background
// goroutine; when the channel is full the delivery is dropped.
type webhookNotifier struct {
	client     *http.Client
	deliveries chan webhookDelivery
	wg         sync.WaitGroup
}

func newWebhookNotifier() *webhookNotifier {
	n := &webhookNotifier{
		client:     &http.Client{Timeout: 10 * time.Second},
		deliveries: make(chan webhookDelivery, webhookQueueSize),
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// notify queues one delivery. Never blocks.
func (n *webhookNotifier) notify(url string, payload webhookPayload) {
	if url == "" {
		return
	}
	select {
	case n.deliveries <- webhookDelivery{url: url, payload: payload}:
	default:
		slog.Warn("webhook: queue full, dropping delivery", "jobId", payload.JobID)
	}
}

// close shuts the notifier down, draining queued deliveries first.
func (n *webhookNotifier) close() {
	close(n.deliveries)
	n.wg.Wait()
}

func (n *webhookNotifier) loop() {
	defer n.wg.Done()
	for d := range n.deliveries {
		n.send(d)
	}
}

// send POSTs the payload with one retry on 5xx or transport failure.
func (n *webhookNotifier) send(d webhookDelivery) {
	body, err := json.Marshal(d.payload)
	if err != nil {
		slog.Warn("webhook: marshal failed", "jobId", d.payload.JobID, "error", err)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(1 * time.Second)
		}

		req, err := http.NewRequest(http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			slog.Warn("webhook: request creation failed", "jobId", d.payload.JobID, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Peticionador-Webhook/1.0")

		resp, err := n.client.Do(req)
		if err != nil {
			slog.Warn("webhook: request failed", "jobId", d.payload.JobID, "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		if resp.StatusCode >= 500 {
			slog.Warn("webhook: server error", "jobId", d.payload.JobID, "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		// 4xx: the endpoint rejected the payload, retrying cannot help.
		slog.Warn("webhook: client error", "jobId", d.payload.JobID, "status", resp.StatusCode)
		return
	}
}
