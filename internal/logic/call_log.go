package logic

import (
	"github.com/pccr10001/intercom/internal/model"
	"github.com/pccr10001/intercom/internal/repository"
	"github.com/pccr10001/intercom/pkg/logger"
)

// CallLog stores every call record and notifies webhooks of calls that
// reached this endpoint, answered or not.
type CallLog struct {
	repo     *repository.CallRepository
	webhooks *WebhookService
	room     string
}

func NewCallLog(repo *repository.CallRepository, webhooks *WebhookService, room string) *CallLog {
	return &CallLog{repo: repo, webhooks: webhooks, room: room}
}

func (l *CallLog) RecordCall(rec *model.CallRecord) {
	if err := l.repo.Create(rec); err != nil {
		logger.Log.Errorf("Failed to save call record: %v", err)
	}
	if l.webhooks == nil || rec.Direction != model.CallReceived {
		return
	}
	l.webhooks.Dispatch(rec, l.room)
}
