package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pccr10001/intercom/internal/model"
	"github.com/pccr10001/intercom/internal/repository"
)

type WebhookHandler struct {
	repo *repository.WebhookRepository
}

func NewWebhookHandler(repo *repository.WebhookRepository) *WebhookHandler {
	return &WebhookHandler{repo: repo}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	var (
		list []model.Webhook
		err  error
	)
	if room := c.Query("room"); room != "" {
		list, err = h.repo.FindForRoom(room)
	} else {
		list, err = h.repo.FindAll()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var req struct {
		Room      string `json:"room"`
		URL       string `json:"url" binding:"required"`
		Platform  string `json:"platform"`
		ChannelID string `json:"channel_id"`
		Template  string `json:"template"`
		Enabled   *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be http or https"})
		return
	}
	switch req.Platform {
	case "", "generic", "telegram", "slack":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "platform must be generic, telegram or slack"})
		return
	}

	wh := model.Webhook{
		Room:      req.Room,
		URL:       req.URL,
		Platform:  req.Platform,
		ChannelID: req.ChannelID,
		Template:  req.Template,
		Enabled:   req.Enabled == nil || *req.Enabled,
	}
	if err := h.repo.Create(&wh); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, wh)
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.repo.Delete(uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
