package repository

import (
	"strings"

	"github.com/pccr10001/intercom/internal/model"
	"gorm.io/gorm"
)

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(webhook *model.Webhook) error {
	return r.db.Create(webhook).Error
}

func (r *WebhookRepository) FindAll() ([]model.Webhook, error) {
	var list []model.Webhook
	err := r.db.Order("id asc").Find(&list).Error
	return list, err
}

// FindForRoom returns enabled webhooks bound to room or to every room.
func (r *WebhookRepository) FindForRoom(room string) ([]model.Webhook, error) {
	var list []model.Webhook
	err := r.db.Where("enabled = ? AND (room = '' OR LOWER(room) = ?)", true, strings.ToLower(room)).Find(&list).Error
	return list, err
}

func (r *WebhookRepository) Delete(id uint) error {
	return r.db.Delete(&model.Webhook{}, id).Error
}
