package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"parking-service/internal/model"
	"parking-service/internal/repository"
)

type LotStore interface {
	CreateWithSlots(ctx context.Context, lot *model.Lot, slotCount int) error
	GetByID(ctx context.Context, id string) (*model.Lot, error)
	Update(ctx context.Context, lot *model.Lot) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Lot, error)
	ListNearby(ctx context.Context, lat, lng float64, maxDistance int) ([]repository.LotWithDistance, error)
}

type SlotAdminStore interface {
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]model.ParkingSlot, error)
	GetByLotAndID(ctx context.Context, lotID, slotID uuid.UUID) (*model.ParkingSlot, error)
	CountByLot(ctx context.Context, lotID uuid.UUID) (int, error)
	AppendSlots(ctx context.Context, lotID uuid.UUID, from, to int) error
	RemoveVacantAbove(ctx context.Context, lotID uuid.UUID, keep int) (int, error)
	SetRegion(ctx context.Context, slotID uuid.UUID, polygon model.Polygon, frameWidth, frameHeight int) error
	OverrideOccupancy(ctx context.Context, slotID uuid.UUID, occupied bool) error
}

type StatusProvider interface {
	GetLotStatus(ctx context.Context, lotID uuid.UUID) (*LotStatus, error)
}

type LotService struct {
	lots         LotStore
	slots        SlotAdminStore
	detector     Detector
	availability StatusProvider
	log          zerolog.Logger
}

func NewLotService(lots LotStore, slots SlotAdminStore, detector Detector, availability StatusProvider, log zerolog.Logger) *LotService {
	return &LotService{
		lots:         lots,
		slots:        slots,
		detector:     detector,
		availability: availability,
		log:          log,
	}
}

type CreateLotInput struct {
	Name         string
	Address      string
	Latitude     float64
	Longitude    float64
	PricePerHour float64
	TotalSlots   int
}

func (s *LotService) Create(ctx context.Context, principal model.Principal, input CreateLotInput) (*model.Lot, error) {
	if !principal.IsOwner() {
		return nil, ErrPermissionDenied
	}
	if input.Name == "" || input.Address == "" {
		return nil, ErrInvalidInput
	}
	if input.Latitude < -90 || input.Latitude > 90 || input.Longitude < -180 || input.Longitude > 180 {
		return nil, ErrInvalidInput
	}
	if input.PricePerHour < 0 || input.TotalSlots < 1 {
		return nil, ErrInvalidInput
	}

	lot := &model.Lot{
		OwnerID:      principal.UserID,
		Name:         input.Name,
		Address:      input.Address,
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
		PricePerHour: input.PricePerHour,
		TotalSlots:   input.TotalSlots,
		IsActive:     true,
	}

	if err := s.lots.CreateWithSlots(ctx, lot, input.TotalSlots); err != nil {
		return nil, err
	}
	return lot, nil
}

type UpdateLotInput struct {
	Name         *string
	Address      *string
	Latitude     *float64
	Longitude    *float64
	PricePerHour *float64
	TotalSlots   *int
	IsActive     *bool
}

// Update mutates lot fields and resizes capacity. Growing appends new vacant
// slots; shrinking removes only vacant slots above the new capacity, so an
// occupied slot survives until its booking releases it.
func (s *LotService) Update(ctx context.Context, principal model.Principal, lotID string, input UpdateLotInput) (*model.Lot, error) {
	lot, err := s.getOwnedLot(ctx, principal, lotID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		lot.Name = *input.Name
	}
	if input.Address != nil {
		lot.Address = *input.Address
	}
	if input.Latitude != nil {
		lot.Latitude = *input.Latitude
	}
	if input.Longitude != nil {
		lot.Longitude = *input.Longitude
	}
	if input.PricePerHour != nil {
		if *input.PricePerHour < 0 {
			return nil, ErrInvalidInput
		}
		lot.PricePerHour = *input.PricePerHour
	}
	if input.IsActive != nil {
		lot.IsActive = *input.IsActive
	}

	if input.TotalSlots != nil {
		if *input.TotalSlots < 1 {
			return nil, ErrInvalidInput
		}
		current, err := s.slots.CountByLot(ctx, lot.ID)
		if err != nil {
			return nil, err
		}
		target := *input.TotalSlots
		if target > current {
			if err := s.slots.AppendSlots(ctx, lot.ID, current+1, target); err != nil {
				return nil, err
			}
		} else if target < current {
			if _, err := s.slots.RemoveVacantAbove(ctx, lot.ID, target); err != nil {
				return nil, err
			}
		}
		lot.TotalSlots = target
	}

	if err := s.lots.Update(ctx, lot); err != nil {
		return nil, err
	}
	return lot, nil
}

func (s *LotService) Delete(ctx context.Context, principal model.Principal, lotID string) error {
	lot, err := s.getOwnedLot(ctx, principal, lotID)
	if err != nil {
		return err
	}
	return s.lots.Delete(ctx, lot.ID)
}

// LotView is a lot annotated with its current availability summary.
type LotView struct {
	model.Lot
	DistanceMeters *float64   `json:"distance_meters,omitempty"`
	Status         *LotStatus `json:"status,omitempty"`
	TotalSlots     int        `json:"total_slots"`
	OccupiedSlots  int        `json:"occupied_slots"`
	AvailableSlots int        `json:"available_slots"`
}

func (s *LotService) Get(ctx context.Context, lotID string) (*LotView, error) {
	lot, err := s.lots.GetByID(ctx, lotID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	view := &LotView{Lot: *lot}
	s.annotate(ctx, view)
	return view, nil
}

// ListNearby returns active lots around the point, closest first, each with
// an availability summary.
func (s *LotService) ListNearby(ctx context.Context, lat, lng float64, maxDistance int) ([]LotView, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 || maxDistance <= 0 {
		return nil, ErrInvalidInput
	}

	lots, err := s.lots.ListNearby(ctx, lat, lng, maxDistance)
	if err != nil {
		return nil, err
	}

	views := make([]LotView, 0, len(lots))
	for i := range lots {
		distance := lots[i].DistanceMeters
		view := LotView{Lot: lots[i].Lot, DistanceMeters: &distance}
		s.annotate(ctx, &view)
		views = append(views, view)
	}
	return views, nil
}

func (s *LotService) ListOwned(ctx context.Context, principal model.Principal) ([]LotView, error) {
	if !principal.IsOwner() {
		return nil, ErrPermissionDenied
	}

	lots, err := s.lots.ListByOwner(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	views := make([]LotView, 0, len(lots))
	for i := range lots {
		view := LotView{Lot: lots[i]}
		s.annotate(ctx, &view)
		views = append(views, view)
	}
	return views, nil
}

// annotate fills the availability summary, falling back to stored slot counts
// when the reconciliation call fails.
func (s *LotService) annotate(ctx context.Context, view *LotView) {
	status, err := s.availability.GetLotStatus(ctx, view.ID)
	if err == nil {
		view.Status = status
		view.TotalSlots = status.TotalSlots
		view.OccupiedSlots = status.Occupied
		view.AvailableSlots = status.Vacant
		return
	}

	s.log.Warn().Err(err).Str("lot_id", view.ID.String()).Msg("availability summary failed, counting stored slots")

	slots, err := s.slots.ListByLot(ctx, view.ID)
	if err != nil {
		view.TotalSlots = view.Lot.TotalSlots
		return
	}
	view.TotalSlots = len(slots)
	for i := range slots {
		if slots[i].IsOccupied {
			view.OccupiedSlots++
		}
	}
	view.AvailableSlots = view.TotalSlots - view.OccupiedSlots
}

type EnableCameraInput struct {
	Source     string
	SourceType model.CameraSourceType
	FrameRef   string
	Threshold  *float64
}

// EnableCamera wires a capture source to the lot and turns detection on.
// Requires the detection service to answer its health check.
func (s *LotService) EnableCamera(ctx context.Context, principal model.Principal, lotID string, input EnableCameraInput) (*model.Lot, error) {
	lot, err := s.getOwnedLot(ctx, principal, lotID)
	if err != nil {
		return nil, err
	}

	if input.Source == "" && input.FrameRef == "" {
		return nil, ErrInvalidInput
	}
	if input.Threshold != nil && (*input.Threshold < 0 || *input.Threshold > 1) {
		return nil, ErrInvalidInput
	}

	if !s.detector.HealthCheck(ctx) {
		return nil, ErrConflict
	}

	lot.CameraEnabled = true
	lot.CameraSource = input.Source
	lot.CameraFrameRef = input.FrameRef
	if input.SourceType != "" {
		lot.CameraSourceType = input.SourceType
	}
	if input.Threshold != nil {
		lot.CameraThreshold = *input.Threshold
	}

	if err := s.lots.Update(ctx, lot); err != nil {
		return nil, err
	}
	return lot, nil
}

func (s *LotService) DisableCamera(ctx context.Context, principal model.Principal, lotID string) (*model.Lot, error) {
	lot, err := s.getOwnedLot(ctx, principal, lotID)
	if err != nil {
		return nil, err
	}

	lot.CameraEnabled = false
	if err := s.lots.Update(ctx, lot); err != nil {
		return nil, err
	}
	return lot, nil
}

func (s *LotService) ProbeCamera(ctx context.Context, principal model.Principal, source string) error {
	if !principal.IsOwner() && !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	if source == "" {
		return ErrInvalidInput
	}
	return s.detector.ProbeSource(ctx, source)
}

type SlotRegionInput struct {
	SlotID      string
	Polygon     model.Polygon
	FrameWidth  int
	FrameHeight int
}

// DefineRegions stores detection regions for the given slots. Regions may be
// defined before the camera is enabled; they stay dormant until then.
func (s *LotService) DefineRegions(ctx context.Context, principal model.Principal, lotID string, regions []SlotRegionInput) ([]model.ParkingSlot, error) {
	lot, err := s.getOwnedLot(ctx, principal, lotID)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, ErrInvalidInput
	}

	updated := make([]model.ParkingSlot, 0, len(regions))
	for _, region := range regions {
		slotID, err := uuid.Parse(region.SlotID)
		if err != nil {
			return nil, ErrInvalidInput
		}
		if err := region.Polygon.Validate(); err != nil {
			return nil, ErrInvalidInput
		}
		if region.FrameWidth <= 0 || region.FrameHeight <= 0 {
			return nil, ErrInvalidInput
		}

		slot, err := s.slots.GetByLotAndID(ctx, lot.ID, slotID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}

		if err := s.slots.SetRegion(ctx, slot.ID, region.Polygon, region.FrameWidth, region.FrameHeight); err != nil {
			return nil, err
		}

		slot.Region = region.Polygon
		slot.FrameWidth = &region.FrameWidth
		slot.FrameHeight = &region.FrameHeight
		updated = append(updated, *slot)
	}

	return updated, nil
}

// OverrideSlotOccupancy lets the owner flip a slot by hand. The write is
// attributed to the manual source so a later detection pass can reclaim it.
func (s *LotService) OverrideSlotOccupancy(ctx context.Context, principal model.Principal, lotID, slotID string, occupied bool) (*model.ParkingSlot, error) {
	lot, err := s.getOwnedLot(ctx, principal, lotID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(slotID)
	if err != nil {
		return nil, ErrInvalidInput
	}

	slot, err := s.slots.GetByLotAndID(ctx, lot.ID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := s.slots.OverrideOccupancy(ctx, slot.ID, occupied); err != nil {
		return nil, err
	}

	return s.slots.GetByLotAndID(ctx, lot.ID, id)
}

func (s *LotService) getOwnedLot(ctx context.Context, principal model.Principal, lotID string) (*model.Lot, error) {
	if _, err := uuid.Parse(lotID); err != nil {
		return nil, ErrInvalidInput
	}

	lot, err := s.lots.GetByID(ctx, lotID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !principal.IsAdmin() && lot.OwnerID != principal.UserID {
		return nil, ErrPermissionDenied
	}
	return lot, nil
}
