package repository

import (
	"github.com/pccr10001/intercom/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PeerRepository struct {
	db *gorm.DB
}

func NewPeerRepository(db *gorm.DB) *PeerRepository {
	return &PeerRepository{db: db}
}

func (r *PeerRepository) Upsert(peer *model.Peer) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"room", "ip", "is_mobile", "online", "last_seen"}),
	}).Create(peer).Error
}

func (r *PeerRepository) SetOnline(deviceID string, online bool) error {
	return r.db.Model(&model.Peer{}).Where("device_id = ?", deviceID).Update("online", online).Error
}

func (r *PeerRepository) FindAll() ([]model.Peer, error) {
	var list []model.Peer
	err := r.db.Order("room asc").Find(&list).Error
	return list, err
}

// MarkAllOffline resets presence at startup; peers re-announce themselves.
func (r *PeerRepository) MarkAllOffline() error {
	return r.db.Model(&model.Peer{}).Where("online = ?", true).Update("online", false).Error
}
