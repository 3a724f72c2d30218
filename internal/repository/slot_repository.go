package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"parking-service/internal/model"
)

type SlotRepository struct {
	db *gorm.DB
}

func NewSlotRepository(db *gorm.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

func (r *SlotRepository) ListByLot(ctx context.Context, lotID uuid.UUID) ([]model.ParkingSlot, error) {
	var slots []model.ParkingSlot
	err := r.db.WithContext(ctx).
		Where("lot_id = ?", lotID).
		Order("slot_number ASC").
		Find(&slots).Error
	return slots, err
}

func (r *SlotRepository) GetByLotAndID(ctx context.Context, lotID, slotID uuid.UUID) (*model.ParkingSlot, error) {
	var slot model.ParkingSlot
	err := r.db.WithContext(ctx).
		Where("id = ? AND lot_id = ?", slotID, lotID).
		First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &slot, nil
}

func (r *SlotRepository) CountByLot(ctx context.Context, lotID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ParkingSlot{}).
		Where("lot_id = ?", lotID).
		Count(&count).Error
	return int(count), err
}

// AppendSlots grows a lot's capacity, numbering the new slots after the
// current highest number.
func (r *SlotRepository) AppendSlots(ctx context.Context, lotID uuid.UUID, from, to int) error {
	slots := make([]model.ParkingSlot, 0, to-from+1)
	for i := from; i <= to; i++ {
		slots = append(slots, model.ParkingSlot{
			LotID:      lotID,
			SlotNumber: i,
			Source:     model.SlotSourceManual,
		})
	}
	if len(slots) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&slots).Error
}

// RemoveVacantAbove shrinks a lot's capacity. Only vacant slots above the
// new capacity are removed; occupied ones stay until their booking ends.
func (r *SlotRepository) RemoveVacantAbove(ctx context.Context, lotID uuid.UUID, keep int) (int, error) {
	res := r.db.WithContext(ctx).
		Where("lot_id = ? AND slot_number > ? AND is_occupied = ?", lotID, keep, false).
		Delete(&model.ParkingSlot{})
	return int(res.RowsAffected), res.Error
}

// SetRegion stores the detection region for a slot.
func (r *SlotRepository) SetRegion(ctx context.Context, slotID uuid.UUID, polygon model.Polygon, frameWidth, frameHeight int) error {
	res := r.db.WithContext(ctx).Model(&model.ParkingSlot{}).
		Where("id = ?", slotID).
		Updates(map[string]interface{}{
			"region":       polygon,
			"frame_width":  frameWidth,
			"frame_height": frameHeight,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// OverrideOccupancy is the owner's manual switch. The write is attributed to
// the manual source so the next detection pass may take over again.
func (r *SlotRepository) OverrideOccupancy(ctx context.Context, slotID uuid.UUID, occupied bool) error {
	res := r.db.WithContext(ctx).Model(&model.ParkingSlot{}).
		Where("id = ?", slotID).
		Updates(map[string]interface{}{
			"is_occupied":  occupied,
			"source":       model.SlotSourceManual,
			"last_updated": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ApplyDetection persists a camera verdict, keyed on the last_updated value
// observed when the pass loaded the slot. A concurrent claim or release
// bumps last_updated and the verdict is dropped instead of overwriting it.
func (r *SlotRepository) ApplyDetection(ctx context.Context, slotID uuid.UUID, occupied bool, confidence, rawSignal float64, seenUpdatedAt time.Time) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.ParkingSlot{}).
		Where("id = ? AND last_updated = ?", slotID, seenUpdatedAt).
		Updates(map[string]interface{}{
			"is_occupied":          occupied,
			"source":               model.SlotSourceCamera,
			"detection_confidence": confidence,
			"detection_raw_signal": rawSignal,
			"detected_at":          now,
			"last_updated":         now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
