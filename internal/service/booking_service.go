package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"parking-service/internal/model"
	"parking-service/internal/repository"
)

// BookingStore is the slice of the booking repository the allocation engine
// needs. CreateWithClaim and Release are the only two code paths allowed to
// flip a slot's occupancy outside a detection pass.
type BookingStore interface {
	CreateWithClaim(ctx context.Context, booking *model.Booking) (*model.ParkingSlot, error)
	Release(ctx context.Context, bookingID uuid.UUID, status model.BookingStatus) (*model.Booking, error)
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	List(ctx context.Context, filter repository.BookingListFilter) ([]model.Booking, error)
}

// LotLister extends lot reads with the owner scoping List needs.
type LotLister interface {
	LotGetter
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Lot, error)
}

// StatusRefresher triggers a best-effort detection pass before allocation.
type StatusRefresher interface {
	RefreshLotStatus(ctx context.Context, lotID uuid.UUID) (*LotStatus, error)
}

type SlotGetter interface {
	GetByLotAndID(ctx context.Context, lotID, slotID uuid.UUID) (*model.ParkingSlot, error)
}

type BookingService struct {
	bookings     BookingStore
	lots         LotLister
	slots        SlotGetter
	availability StatusRefresher
	log          zerolog.Logger
}

func NewBookingService(bookings BookingStore, lots LotLister, slots SlotGetter, availability StatusRefresher, log zerolog.Logger) *BookingService {
	return &BookingService{
		bookings:     bookings,
		lots:         lots,
		slots:        slots,
		availability: availability,
		log:          log,
	}
}

// BookingDetails carries the booking with its lot and slot denormalized for
// the caller's convenience.
type BookingDetails struct {
	model.Booking
	Lot  *model.Lot         `json:"lot,omitempty"`
	Slot *model.ParkingSlot `json:"slot,omitempty"`
}

type AllocateInput struct {
	LotID string
	Hours float64
}

// Allocate claims exactly one vacant slot of the lot and creates an ACTIVE
// booking against it. Single attempt: a racing loser gets ErrNoAvailability,
// retrying is the caller's decision.
func (s *BookingService) Allocate(ctx context.Context, principal model.Principal, input AllocateInput) (*BookingDetails, error) {
	if !principal.IsCustomer() {
		return nil, ErrPermissionDenied
	}
	if input.Hours <= 0 {
		return nil, ErrInvalidInput
	}

	lotID, err := uuid.Parse(input.LotID)
	if err != nil {
		return nil, ErrInvalidInput
	}

	lot, err := s.lots.GetByID(ctx, input.LotID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !lot.IsActive {
		return nil, ErrLotInactive
	}

	// Best-effort freshness. Detector downtime must never block allocation.
	if _, err := s.availability.RefreshLotStatus(ctx, lotID); err != nil {
		s.log.Warn().Err(err).
			Str("lot_id", input.LotID).
			Msg("status refresh before allocation failed, using stored state")
	}

	booking := &model.Booking{
		CustomerID: principal.UserID,
		LotID:      lot.ID,
		StartTime:  time.Now(),
		TotalPrice: lot.PricePerHour * input.Hours,
		Status:     model.BookingStatusActive,
	}

	slot, err := s.bookings.CreateWithClaim(ctx, booking)
	if err != nil {
		if errors.Is(err, repository.ErrNoVacantSlot) {
			return nil, ErrNoAvailability
		}
		return nil, err
	}

	return &BookingDetails{Booking: *booking, Lot: lot, Slot: slot}, nil
}

// Cancel releases an ACTIVE booking on behalf of its customer.
func (s *BookingService) Cancel(ctx context.Context, principal model.Principal, bookingID string) (*model.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.CustomerID != principal.UserID {
		return nil, ErrPermissionDenied
	}
	return s.release(ctx, booking, model.BookingEventCancel, model.BookingStatusCancelled)
}

// Complete releases an ACTIVE booking as an operational action, restricted
// to the owner of the booking's lot or an admin actor.
func (s *BookingService) Complete(ctx context.Context, principal model.Principal, bookingID string) (*model.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if !principal.IsAdmin() {
		lot, err := s.lots.GetByID(ctx, booking.LotID.String())
		if err != nil {
			return nil, err
		}
		if lot.OwnerID != principal.UserID {
			return nil, ErrPermissionDenied
		}
	}

	return s.release(ctx, booking, model.BookingEventComplete, model.BookingStatusCompleted)
}

func (s *BookingService) release(ctx context.Context, booking *model.Booking, event string, terminal model.BookingStatus) (*model.Booking, error) {
	if !booking.CanTransition(event) {
		return nil, ErrInvalidTransition
	}

	released, err := s.bookings.Release(ctx, booking.ID, terminal)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotActive) {
			return nil, ErrInvalidTransition
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return released, nil
}

func (s *BookingService) Get(ctx context.Context, principal model.Principal, bookingID string) (*BookingDetails, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	lot, err := s.lots.GetByID(ctx, booking.LotID.String())
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if !s.canAccessBooking(principal, booking, lot) {
		return nil, ErrPermissionDenied
	}

	details := &BookingDetails{Booking: *booking, Lot: lot}
	if lot != nil {
		if slot, err := s.slots.GetByLotAndID(ctx, booking.LotID, booking.SlotID); err == nil {
			details.Slot = slot
		}
	}
	return details, nil
}

// List returns the principal's bookings: customers see their own, owners see
// bookings across their lots, admins see everything.
func (s *BookingService) List(ctx context.Context, principal model.Principal) ([]model.Booking, error) {
	filter := repository.BookingListFilter{}

	switch {
	case principal.IsCustomer():
		customerID := principal.UserID
		filter.CustomerID = &customerID
	case principal.IsOwner():
		lots, err := s.lots.ListByOwner(ctx, principal.UserID)
		if err != nil {
			return nil, err
		}
		if len(lots) == 0 {
			return []model.Booking{}, nil
		}
		for _, lot := range lots {
			filter.LotIDs = append(filter.LotIDs, lot.ID)
		}
	case principal.IsAdmin():
		// unrestricted
	default:
		return nil, ErrPermissionDenied
	}

	return s.bookings.List(ctx, filter)
}

func (s *BookingService) getBooking(ctx context.Context, id string) (*model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidInput
	}
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return booking, nil
}

func (s *BookingService) canAccessBooking(principal model.Principal, booking *model.Booking, lot *model.Lot) bool {
	if principal.IsAdmin() {
		return true
	}
	if booking.CustomerID == principal.UserID {
		return true
	}
	return lot != nil && lot.OwnerID == principal.UserID
}
