package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"parking-service/internal/client"
	"parking-service/internal/model"
)

// LotGetter is the slice of the lot repository the availability service needs.
type LotGetter interface {
	GetByID(ctx context.Context, id string) (*model.Lot, error)
}

// SlotStatusStore covers reading a lot's slots and persisting camera verdicts.
type SlotStatusStore interface {
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]model.ParkingSlot, error)
	ApplyDetection(ctx context.Context, slotID uuid.UUID, occupied bool, confidence, rawSignal float64, seenUpdatedAt time.Time) (bool, error)
}

// Detector is the external occupancy detection service.
type Detector interface {
	HealthCheck(ctx context.Context) bool
	Detect(ctx context.Context, frameRef string, regions []client.SlotRegion, threshold float64) ([]client.RegionVerdict, error)
	ProbeSource(ctx context.Context, source string) error
}

// StatusPublisher pushes status snapshots to live subscribers. Optional.
type StatusPublisher interface {
	PublishLotStatus(lotID uuid.UUID, status interface{})
}

type SlotStatus struct {
	SlotID      uuid.UUID        `json:"slot_id"`
	SlotNumber  int              `json:"slot_number"`
	Status      string           `json:"status"`
	Source      model.SlotSource `json:"source"`
	Confidence  *float64         `json:"confidence,omitempty"`
	LastUpdated time.Time        `json:"last_updated"`
}

// LotStatus is the canonical occupancy view of one lot, reconciled from
// camera and manual signals.
type LotStatus struct {
	LotID        uuid.UUID    `json:"lot_id"`
	CameraActive bool         `json:"camera_active"`
	Slots        []SlotStatus `json:"slots"`
	TotalSlots   int          `json:"total_slots"`
	Occupied     int          `json:"occupied_slots"`
	Vacant       int          `json:"vacant_slots"`
}

type AvailabilityService struct {
	lots      LotGetter
	slots     SlotStatusStore
	detector  Detector
	publisher StatusPublisher
	log       zerolog.Logger
}

func NewAvailabilityService(lots LotGetter, slots SlotStatusStore, detector Detector, publisher StatusPublisher, log zerolog.Logger) *AvailabilityService {
	return &AvailabilityService{
		lots:      lots,
		slots:     slots,
		detector:  detector,
		publisher: publisher,
		log:       log,
	}
}

// GetLotStatus returns the canonical per-slot occupancy of the lot. When the
// lot's camera is enabled a detection pass runs first; any failure on that
// path degrades to the stored view and is never surfaced to the caller.
func (s *AvailabilityService) GetLotStatus(ctx context.Context, lotID uuid.UUID) (*LotStatus, error) {
	lot, err := s.lots.GetByID(ctx, lotID.String())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	slots, err := s.slots.ListByLot(ctx, lot.ID)
	if err != nil {
		return nil, err
	}

	status := s.resolveSource(lot, slots).status(ctx, lot, slots)
	if s.publisher != nil {
		s.publisher.PublishLotStatus(lot.ID, status)
	}
	return status, nil
}

// RefreshLotStatus forces a detection pass. Same contract as GetLotStatus;
// no caching layer separates them, the name documents intent.
func (s *AvailabilityService) RefreshLotStatus(ctx context.Context, lotID uuid.UUID) (*LotStatus, error) {
	return s.GetLotStatus(ctx, lotID)
}

// occupancySource is the per-request strategy that turns stored slots into a
// canonical status. Resolved once per call so new sources slot in without
// touching allocation.
type occupancySource interface {
	status(ctx context.Context, lot *model.Lot, slots []model.ParkingSlot) *LotStatus
}

func (s *AvailabilityService) resolveSource(lot *model.Lot, slots []model.ParkingSlot) occupancySource {
	if !lot.CameraEnabled || lot.FrameRef() == "" {
		return manualSource{}
	}
	hasRegions := false
	for i := range slots {
		if slots[i].HasRegion() {
			hasRegions = true
			break
		}
	}
	if !hasRegions {
		return manualSource{}
	}
	return &cameraSource{svc: s}
}

// manualSource derives status purely from stored occupancy flags.
type manualSource struct{}

func (manualSource) status(_ context.Context, lot *model.Lot, slots []model.ParkingSlot) *LotStatus {
	status := &LotStatus{
		LotID:        lot.ID,
		CameraActive: false,
		Slots:        make([]SlotStatus, 0, len(slots)),
		TotalSlots:   len(slots),
	}
	for i := range slots {
		status.Slots = append(status.Slots, manualSlotStatus(&slots[i]))
	}
	tally(status)
	return status
}

// cameraSource runs a batched detection pass and merges it with stored state.
// Every failure abandons the whole pass in favor of the manual view; a guard
// conflict on a single slot only skips that slot.
type cameraSource struct {
	svc *AvailabilityService
}

func (c *cameraSource) status(ctx context.Context, lot *model.Lot, slots []model.ParkingSlot) *LotStatus {
	merged, err := c.detect(ctx, lot, slots)
	if err != nil {
		c.svc.log.Warn().Err(err).
			Str("lot_id", lot.ID.String()).
			Msg("camera detection failed, falling back to stored state")
		return manualSource{}.status(ctx, lot, slots)
	}
	return merged
}

func (c *cameraSource) detect(ctx context.Context, lot *model.Lot, slots []model.ParkingSlot) (*LotStatus, error) {
	if !c.svc.detector.HealthCheck(ctx) {
		return nil, client.ErrDetectorUnavailable
	}

	regions := make([]client.SlotRegion, 0, len(slots))
	for i := range slots {
		if !slots[i].HasRegion() {
			continue
		}
		regions = append(regions, client.SlotRegion{
			SlotID:      slots[i].ID.String(),
			SlotNumber:  slots[i].SlotNumber,
			Coordinates: slots[i].Region,
			FrameWidth:  *slots[i].FrameWidth,
			FrameHeight: *slots[i].FrameHeight,
		})
	}

	verdicts, err := c.svc.detector.Detect(ctx, lot.FrameRef(), regions, lot.CameraThreshold)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]client.RegionVerdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.SlotID] = v
	}

	status := &LotStatus{
		LotID:        lot.ID,
		CameraActive: true,
		Slots:        make([]SlotStatus, 0, len(slots)),
		TotalSlots:   len(slots),
	}

	for i := range slots {
		slot := &slots[i]
		verdict, ok := byID[slot.ID.String()]
		if !slot.HasRegion() || !ok {
			// Region-less slots ride along on stored state (mixed mode).
			status.Slots = append(status.Slots, manualSlotStatus(slot))
			continue
		}

		if verdict.Confidence < lot.CameraThreshold {
			// Low-confidence verdicts are not trusted over stored state.
			status.Slots = append(status.Slots, storedSlotStatus(slot))
			continue
		}

		occupied := verdict.Status == client.OccupancyStatusOccupied
		if occupied != slot.IsOccupied || slot.Source != model.SlotSourceCamera {
			applied, err := c.svc.slots.ApplyDetection(ctx, slot.ID, occupied, verdict.Confidence, verdict.OccupancyRatio, slot.LastUpdated)
			if err != nil {
				return nil, err
			}
			if !applied {
				// Lost to a concurrent claim or release; that write wins
				// until the next pass.
				c.svc.log.Debug().
					Str("slot_id", slot.ID.String()).
					Msg("detection skipped, slot changed during pass")
				status.Slots = append(status.Slots, storedSlotStatus(slot))
				continue
			}
		}

		conf := verdict.Confidence
		status.Slots = append(status.Slots, SlotStatus{
			SlotID:      slot.ID,
			SlotNumber:  slot.SlotNumber,
			Status:      verdict.Status,
			Source:      model.SlotSourceCamera,
			Confidence:  &conf,
			LastUpdated: time.Now(),
		})
	}

	tally(status)
	return status, nil
}

// manualSlotStatus reads the stored flag and attributes it to manual
// bookkeeping, regardless of which source last wrote it.
func manualSlotStatus(slot *model.ParkingSlot) SlotStatus {
	st := SlotStatus{
		SlotID:      slot.ID,
		SlotNumber:  slot.SlotNumber,
		Status:      client.OccupancyStatusVacant,
		Source:      model.SlotSourceManual,
		LastUpdated: slot.LastUpdated,
	}
	if slot.IsOccupied {
		st.Status = client.OccupancyStatusOccupied
	}
	return st
}

// storedSlotStatus keeps the slot's last persisted value and attribution.
// Used inside the camera path when this refresh could not update the slot.
func storedSlotStatus(slot *model.ParkingSlot) SlotStatus {
	st := SlotStatus{
		SlotID:      slot.ID,
		SlotNumber:  slot.SlotNumber,
		Status:      client.OccupancyStatusVacant,
		Source:      slot.Source,
		LastUpdated: slot.LastUpdated,
	}
	if slot.IsOccupied {
		st.Status = client.OccupancyStatusOccupied
	}
	if slot.Source == model.SlotSourceCamera && slot.DetectionConfidence != nil {
		conf := *slot.DetectionConfidence
		st.Confidence = &conf
	}
	return st
}

func tally(status *LotStatus) {
	for _, s := range status.Slots {
		if s.Status == client.OccupancyStatusOccupied {
			status.Occupied++
		} else {
			status.Vacant++
		}
	}
}
