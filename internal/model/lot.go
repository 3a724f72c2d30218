package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CameraSourceType string

const (
	CameraSourceWebcam   CameraSourceType = "webcam"
	CameraSourceIPCamera CameraSourceType = "ip_camera"
	CameraSourceFile     CameraSourceType = "file"
	CameraSourceImage    CameraSourceType = "image"
)

type Lot struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	OwnerID          uuid.UUID        `gorm:"type:uuid;not null;index" json:"owner_id"`
	Name             string           `gorm:"type:varchar(255);not null" json:"name"`
	Address          string           `gorm:"type:text;not null" json:"address"`
	Latitude         float64          `gorm:"not null" json:"latitude"`
	Longitude        float64          `gorm:"not null" json:"longitude"`
	PricePerHour     float64          `gorm:"not null" json:"price_per_hour"`
	TotalSlots       int              `gorm:"not null" json:"total_slots"`
	IsActive         bool             `gorm:"not null;default:true" json:"is_active"`
	CameraEnabled    bool             `gorm:"not null;default:false" json:"camera_enabled"`
	CameraSource     string           `gorm:"type:text" json:"camera_source"`
	CameraSourceType CameraSourceType `gorm:"type:camera_source_type;default:file" json:"camera_source_type"`
	CameraFrameRef   string           `gorm:"type:text" json:"camera_frame_ref"`
	CameraThreshold  float64          `gorm:"not null;default:0.15" json:"camera_threshold"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Lot) TableName() string {
	return "lots"
}

func (l *Lot) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// FrameRef returns the capture source the detector should read from,
// preferring a live camera source over the stored reference frame.
func (l *Lot) FrameRef() string {
	if l.CameraSource != "" {
		return l.CameraSource
	}
	return l.CameraFrameRef
}
