package logic

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/pccr10001/intercom/internal/model"
	"github.com/pccr10001/intercom/internal/repository"
	"github.com/pccr10001/intercom/pkg/logger"
)

const defaultCallTemplate = "Call from {{.Caller}} to {{.Target}}"

type WebhookService struct {
	repo   *repository.WebhookRepository
	client *http.Client
	wg     sync.WaitGroup
}

func NewWebhookService(repo *repository.WebhookRepository) *WebhookService {
	return &WebhookService{
		repo:   repo,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatch notifies every webhook bound to the room the call targets.
// Deliveries run in the background.
func (s *WebhookService) Dispatch(rec *model.CallRecord, room string) {
	webhooks, err := s.repo.FindForRoom(room)
	if err != nil {
		logger.Log.Errorf("Failed to fetch webhooks for room %s: %v", room, err)
		return
	}

	for _, wh := range webhooks {
		s.wg.Add(1)
		go func(wh model.Webhook) {
			defer s.wg.Done()
			s.sendWebhook(wh, rec)
		}(wh)
	}
}

// Wait blocks until in-flight deliveries finish.
func (s *WebhookService) Wait() {
	s.wg.Wait()
}

func renderCall(tmplText string, rec *model.CallRecord) string {
	if tmplText == "" {
		tmplText = defaultCallTemplate
	}
	tmpl, err := template.New("call").Parse(tmplText)
	if err != nil {
		logger.Log.Warnf("Bad webhook template %q: %v", tmplText, err)
		return rec.Caller + " -> " + rec.Target
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, rec); err != nil {
		return rec.Caller + " -> " + rec.Target
	}
	return buf.String()
}

func (s *WebhookService) sendWebhook(wh model.Webhook, rec *model.CallRecord) {
	content := renderCall(wh.Template, rec)

	var body map[string]any
	switch wh.Platform {
	case "telegram":
		body = map[string]any{
			"text":       content,
			"parse_mode": "Markdown",
		}
		if wh.ChannelID != "" {
			body["chat_id"] = wh.ChannelID
		}
	case "slack":
		body = map[string]any{"text": content}
	default:
		body = map[string]any{
			"text": content,
			"call": rec,
		}
	}
	if strings.Contains(wh.URL, "slack.com") {
		body = map[string]any{"text": content}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		logger.Log.Errorf("Failed to marshal webhook payload: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		logger.Log.Errorf("Failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Log.Errorf("Failed to send webhook to %s: %v", wh.URL, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Log.Errorf("Webhook %s returned status: %d", wh.URL, resp.StatusCode)
	} else {
		logger.Log.Infof("Webhook sent to %s", wh.URL)
	}
}
