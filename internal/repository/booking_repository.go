package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"parking-service/internal/model"
)

var (
	// ErrNoVacantSlot is returned when an allocation finds no free slot to claim.
	ErrNoVacantSlot = errors.New("no vacant slot")
	// ErrBookingNotActive is returned when a release races another terminal transition.
	ErrBookingNotActive = errors.New("booking is not active")
)

type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// claimSlotQuery flips exactly one vacant slot of the lot to occupied.
// The single conditional UPDATE is what makes concurrent allocations safe:
// two racing requests can never both claim the same row, and SKIP LOCKED
// keeps them from serializing on unrelated slots.
const claimSlotQuery = `
UPDATE parking_slots
SET is_occupied = TRUE, source = 'manual', last_updated = ?
WHERE id = (
	SELECT id FROM parking_slots
	WHERE lot_id = ? AND is_occupied = FALSE
	ORDER BY slot_number ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING *`

// CreateWithClaim atomically claims one vacant slot of booking.LotID and
// inserts the ACTIVE booking against it, in a single transaction. Returns
// ErrNoVacantSlot when every slot is taken at claim time.
func (r *BookingRepository) CreateWithClaim(ctx context.Context, booking *model.Booking) (*model.ParkingSlot, error) {
	var slot model.ParkingSlot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Raw(claimSlotQuery, time.Now(), booking.LotID).Scan(&slot)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoVacantSlot
		}
		booking.SlotID = slot.ID
		return tx.Create(booking).Error
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// Release moves an ACTIVE booking to the given terminal status and frees its
// slot, both inside one transaction. The status guard makes a second release
// of the same booking fail instead of silently re-applying.
func (r *BookingRepository) Release(ctx context.Context, bookingID uuid.UUID, status model.BookingStatus) (*model.Booking, error) {
	var booking model.Booking
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&model.Booking{}).
			Where("id = ? AND status = ?", bookingID, model.BookingStatusActive).
			Updates(map[string]interface{}{
				"status":   status,
				"end_time": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&model.Booking{}).Where("id = ?", bookingID).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return gorm.ErrRecordNotFound
			}
			return ErrBookingNotActive
		}

		if err := tx.Where("id = ?", bookingID).First(&booking).Error; err != nil {
			return err
		}

		// The release event is authoritative: it overrides a camera-reported
		// occupied state until the next detection pass.
		return tx.Model(&model.ParkingSlot{}).
			Where("id = ?", booking.SlotID).
			Updates(map[string]interface{}{
				"is_occupied":  false,
				"source":       model.SlotSourceManual,
				"last_updated": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	var booking model.Booking
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &booking, nil
}

type BookingListFilter struct {
	CustomerID *uuid.UUID
	LotIDs     []uuid.UUID
	Status     *model.BookingStatus
}

func (r *BookingRepository) List(ctx context.Context, filter BookingListFilter) ([]model.Booking, error) {
	var bookings []model.Booking
	query := r.db.WithContext(ctx).Model(&model.Booking{})

	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if len(filter.LotIDs) > 0 {
		query = query.Where("lot_id IN ?", filter.LotIDs)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	if err := query.Order("created_at DESC").Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *BookingRepository) CountActiveByLot(ctx context.Context, lotID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Booking{}).
		Where("lot_id = ? AND status = ?", lotID, model.BookingStatusActive).
		Count(&count).Error
	return int(count), err
}
