package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"parking-service/internal/model"
)

type LotRepository struct {
	db *gorm.DB
}

func NewLotRepository(db *gorm.DB) *LotRepository {
	return &LotRepository{db: db}
}

// CreateWithSlots creates the lot and its numbered slots in one transaction.
func (r *LotRepository) CreateWithSlots(ctx context.Context, lot *model.Lot, slotCount int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(lot).Error; err != nil {
			return err
		}
		slots := make([]model.ParkingSlot, 0, slotCount)
		for i := 1; i <= slotCount; i++ {
			slots = append(slots, model.ParkingSlot{
				LotID:      lot.ID,
				SlotNumber: i,
				Source:     model.SlotSourceManual,
			})
		}
		if len(slots) == 0 {
			return nil
		}
		return tx.Create(&slots).Error
	})
}

func (r *LotRepository) GetByID(ctx context.Context, id string) (*model.Lot, error) {
	var lot model.Lot
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&lot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &lot, nil
}

func (r *LotRepository) Update(ctx context.Context, lot *model.Lot) error {
	return r.db.WithContext(ctx).Save(lot).Error
}

// Delete removes the lot together with its slots and bookings.
func (r *LotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("lot_id = ?", id).Delete(&model.Booking{}).Error; err != nil {
			return err
		}
		if err := tx.Where("lot_id = ?", id).Delete(&model.ParkingSlot{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Lot{}).Error
	})
}

func (r *LotRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Lot, error) {
	var lots []model.Lot
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&lots).Error
	return lots, err
}

type LotWithDistance struct {
	model.Lot      `gorm:"embedded"`
	DistanceMeters float64 `json:"distance_meters"`
}

const nearbyQuery = `
SELECT * FROM (
	SELECT l.*,
		(6371000 * acos(least(1.0,
			cos(radians(?)) * cos(radians(l.latitude)) *
			cos(radians(l.longitude) - radians(?)) +
			sin(radians(?)) * sin(radians(l.latitude))
		))) AS distance_meters
	FROM lots l
	WHERE l.is_active = TRUE
) nearby
WHERE nearby.distance_meters <= ?
ORDER BY nearby.distance_meters`

// ListNearby returns active lots within maxDistance meters of the point,
// closest first. Haversine over the stored coordinates.
func (r *LotRepository) ListNearby(ctx context.Context, lat, lng float64, maxDistance int) ([]LotWithDistance, error) {
	var lots []LotWithDistance
	err := r.db.WithContext(ctx).
		Raw(nearbyQuery, lat, lng, lat, maxDistance).
		Scan(&lots).Error
	return lots, err
}

func (r *LotRepository) ListActive(ctx context.Context) ([]model.Lot, error) {
	var lots []model.Lot
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		Find(&lots).Error
	return lots, err
}
