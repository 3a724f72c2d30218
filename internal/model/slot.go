package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SlotSource string

const (
	SlotSourceCamera SlotSource = "camera"
	SlotSourceManual SlotSource = "manual"
)

// Polygon is an ordered list of [x, y] vertices normalized to 0..1
// against the reference frame the region was drawn on. Stored as JSONB.
type Polygon [][2]float64

func (p Polygon) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func (p *Polygon) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported polygon column type %T", value)
	}
}

// Validate checks that the polygon is usable as a detection region.
func (p Polygon) Validate() error {
	if len(p) < 3 {
		return errors.New("polygon needs at least 3 vertices")
	}
	for _, pt := range p {
		if pt[0] < 0 || pt[0] > 1 || pt[1] < 0 || pt[1] > 1 {
			return errors.New("polygon vertices must be normalized to 0..1")
		}
	}
	return nil
}

type ParkingSlot struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	LotID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_slots_lot_number,unique" json:"lot_id"`
	SlotNumber int        `gorm:"not null;index:idx_slots_lot_number,unique" json:"slot_number"`
	IsOccupied bool       `gorm:"not null;default:false" json:"is_occupied"`
	Source     SlotSource `gorm:"type:slot_source;not null;default:manual" json:"source"`

	// Detection region, present only for camera-managed slots.
	Region      Polygon `gorm:"type:jsonb" json:"region,omitempty"`
	FrameWidth  *int    `json:"frame_width,omitempty"`
	FrameHeight *int    `json:"frame_height,omitempty"`

	// Last detection pass that touched this slot.
	DetectionConfidence *float64   `json:"detection_confidence,omitempty"`
	DetectionRawSignal  *float64   `json:"detection_raw_signal,omitempty"`
	DetectedAt          *time.Time `json:"detected_at,omitempty"`

	LastUpdated time.Time `gorm:"not null" json:"last_updated"`
}

func (ParkingSlot) TableName() string {
	return "parking_slots"
}

func (s *ParkingSlot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.LastUpdated.IsZero() {
		s.LastUpdated = time.Now()
	}
	return nil
}

// HasRegion reports whether the slot carries a usable detection region.
func (s *ParkingSlot) HasRegion() bool {
	return len(s.Region) >= 3 &&
		s.FrameWidth != nil && *s.FrameWidth > 0 &&
		s.FrameHeight != nil && *s.FrameHeight > 0
}
