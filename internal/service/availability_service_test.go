package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"parking-service/internal/client"
	"parking-service/internal/model"
)

type fakeLotGetter struct {
	lot *model.Lot
}

func (f *fakeLotGetter) GetByID(_ context.Context, id string) (*model.Lot, error) {
	if f.lot == nil || f.lot.ID.String() != id {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *f.lot
	return &copied, nil
}

type detectionCall struct {
	slotID   uuid.UUID
	occupied bool
}

type fakeSlotStatusStore struct {
	slots []model.ParkingSlot

	applyCalls  []detectionCall
	applyDenied map[uuid.UUID]bool
	applyErr    error
}

func (f *fakeSlotStatusStore) ListByLot(_ context.Context, lotID uuid.UUID) ([]model.ParkingSlot, error) {
	out := make([]model.ParkingSlot, 0, len(f.slots))
	for _, slot := range f.slots {
		if slot.LotID == lotID {
			out = append(out, slot)
		}
	}
	return out, nil
}

func (f *fakeSlotStatusStore) ApplyDetection(_ context.Context, slotID uuid.UUID, occupied bool, confidence, rawSignal float64, seenUpdatedAt time.Time) (bool, error) {
	if f.applyErr != nil {
		return false, f.applyErr
	}
	if f.applyDenied[slotID] {
		return false, nil
	}
	f.applyCalls = append(f.applyCalls, detectionCall{slotID: slotID, occupied: occupied})
	for i := range f.slots {
		if f.slots[i].ID == slotID {
			f.slots[i].IsOccupied = occupied
			f.slots[i].Source = model.SlotSourceCamera
			f.slots[i].DetectionConfidence = &confidence
			f.slots[i].DetectionRawSignal = &rawSignal
			f.slots[i].LastUpdated = time.Now()
		}
	}
	return true, nil
}

type fakeDetector struct {
	healthy   bool
	verdicts  []client.RegionVerdict
	detectErr error
	probeErr  error

	detectCalls int
}

func (f *fakeDetector) HealthCheck(context.Context) bool { return f.healthy }

func (f *fakeDetector) Detect(_ context.Context, _ string, _ []client.SlotRegion, _ float64) ([]client.RegionVerdict, error) {
	f.detectCalls++
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	return f.verdicts, nil
}

func (f *fakeDetector) ProbeSource(context.Context, string) error { return f.probeErr }

type fakePublisher struct {
	published []uuid.UUID
}

func (f *fakePublisher) PublishLotStatus(lotID uuid.UUID, _ interface{}) {
	f.published = append(f.published, lotID)
}

func regionSlot(lotID uuid.UUID, number int, occupied bool) model.ParkingSlot {
	width, height := 1280, 720
	return model.ParkingSlot{
		ID:          uuid.New(),
		LotID:       lotID,
		SlotNumber:  number,
		IsOccupied:  occupied,
		Source:      model.SlotSourceManual,
		Region:      model.Polygon{{0.1, 0.1}, {0.2, 0.1}, {0.2, 0.2}, {0.1, 0.2}},
		FrameWidth:  &width,
		FrameHeight: &height,
		LastUpdated: time.Now().Add(-time.Minute),
	}
}

func plainSlot(lotID uuid.UUID, number int, occupied bool) model.ParkingSlot {
	return model.ParkingSlot{
		ID:          uuid.New(),
		LotID:       lotID,
		SlotNumber:  number,
		IsOccupied:  occupied,
		Source:      model.SlotSourceManual,
		LastUpdated: time.Now().Add(-time.Minute),
	}
}

func cameraLot() *model.Lot {
	return &model.Lot{
		ID:              uuid.New(),
		OwnerID:         uuid.New(),
		Name:            "Garage",
		IsActive:        true,
		CameraEnabled:   true,
		CameraSource:    "rtsp://cam.local/stream",
		CameraThreshold: 0.15,
	}
}

func statusBySlotNumber(status *LotStatus) map[int]SlotStatus {
	out := make(map[int]SlotStatus, len(status.Slots))
	for _, s := range status.Slots {
		out[s.SlotNumber] = s
	}
	return out
}

func TestAvailabilityServiceManualLot(t *testing.T) {
	lot := cameraLot()
	lot.CameraEnabled = false

	slots := &fakeSlotStatusStore{slots: []model.ParkingSlot{
		plainSlot(lot.ID, 1, true),
		plainSlot(lot.ID, 2, false),
		plainSlot(lot.ID, 3, false),
	}}
	detector := &fakeDetector{healthy: true}
	svc := NewAvailabilityService(&fakeLotGetter{lot: lot}, slots, detector, nil, zerolog.Nop())

	status, err := svc.GetLotStatus(context.Background(), lot.ID)
	if err != nil {
		t.Fatalf("GetLotStatus: %v", err)
	}

	if status.CameraActive {
		t.Error("CameraActive = true for a manual lot")
	}
	if status.TotalSlots != 3 || status.Occupied != 1 || status.Vacant != 2 {
		t.Errorf("counts = %d/%d/%d, want 3/1/2", status.TotalSlots, status.Occupied, status.Vacant)
	}
	for _, s := range status.Slots {
		if s.Source != model.SlotSourceManual {
			t.Errorf("slot %d source = %v, want manual", s.SlotNumber, s.Source)
		}
	}
	if detector.detectCalls != 0 {
		t.Errorf("detector called %d times for a manual lot", detector.detectCalls)
	}
}

func TestAvailabilityServiceCameraPass(t *testing.T) {
	lot := cameraLot()

	occupied := regionSlot(lot.ID, 1, false)
	vacant := regionSlot(lot.ID, 2, true)
	slots := &fakeSlotStatusStore{slots: []model.ParkingSlot{occupied, vacant}}

	detector := &fakeDetector{
		healthy: true,
		verdicts: []client.RegionVerdict{
			{SlotID: occupied.ID.String(), SlotNumber: 1, Status: client.OccupancyStatusOccupied, Confidence: 0.9, OccupancyRatio: 0.42},
			{SlotID: vacant.ID.String(), SlotNumber: 2, Status: client.OccupancyStatusVacant, Confidence: 0.8, OccupancyRatio: 0.03},
		},
	}
	svc := NewAvailabilityService(&fakeLotGetter{lot: lot}, slots, detector, nil, zerolog.Nop())

	status, err := svc.GetLotStatus(context.Background(), lot.ID)
	if err != nil {
		t.Fatalf("GetLotStatus: %v", err)
	}

	if !status.CameraActive {
		t.Error("CameraActive = false")
	}
	if status.Occupied != 1 || status.Vacant != 1 {
		t.Errorf("counts = %d/%d, want 1/1", status.Occupied, status.Vacant)
	}

	byNumber := statusBySlotNumber(status)
	if got := byNumber[1]; got.Status != client.OccupancyStatusOccupied || got.Source != model.SlotSourceCamera {
		t.Errorf("slot 1 = %v/%v, want occupied/camera", got.Status, got.Source)
	}
	if got := byNumber[1]; got.Confidence == nil || *got.Confidence != 0.9 {
		t.Errorf("slot 1 confidence = %v, want 0.9", got.Confidence)
	}
	if got := byNumber[2]; got.Status != client.OccupancyStatusVacant {
		t.Errorf("slot 2 = %v, want vacant", got.Status)
	}
	if len(slots.applyCalls) != 2 {
		t.Errorf("ApplyDetection calls = %d, want 2", len(slots.applyCalls))
	}
}

func TestAvailabilityServiceDetectorFallback(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*fakeDetector)
	}{
		{"health check fails", func(d *fakeDetector) { d.healthy = false }},
		{"detect call fails", func(d *fakeDetector) { d.detectErr = client.ErrDetectorUnavailable }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lot := cameraLot()
			slot := regionSlot(lot.ID, 1, true)
			slots := &fakeSlotStatusStore{slots: []model.ParkingSlot{slot}}
			detector := &fakeDetector{healthy: true}
			tc.mod(detector)

			svc := NewAvailabilityService(&fakeLotGetter{lot: lot}, slots, detector, nil, zerolog.Nop())

			status, err := svc.GetLotStatus(context.Background(), lot.ID)
			if err != nil {
				t.Fatalf("GetLotStatus: %v", err)
			}

			if status.CameraActive {
				t.Error("CameraActive = true on fallback")
			}
			if status.Occupied != 1 {
				t.Errorf("Occupied = %d, want 1 (stored state preserved)", status.Occupied)
			}
			if got := status.Slots[0].Source; got != model.SlotSourceManual {
				t.Errorf("fallback source = %v, want manual", got)
			}
			if len(slots.applyCalls) != 0 {
				t.Errorf("ApplyDetection calls = %d, want 0 on fallback", len(slots.applyCalls))
			}
		})
	}
}

func TestAvailabilityServiceMixedMode(t *testing.T) {
	lot := cameraLot()

	withRegion := regionSlot(lot.ID, 1, false)
	withoutRegion := plainSlot(lot.ID, 2, true)
	slots := &fakeSlotStatusStore{slots: []model.ParkingSlot{withRegion, withoutRegion}}

	detector := &fakeDetector{
		healthy: true,
		verdicts: []client.RegionVerdict{
			{SlotID: withRegion.ID.String(), SlotNumber: 1, Status: client.OccupancyStatusOccupied, Confidence: 0.7},
		},
	}
	svc := NewAvailabilityService(&fakeLotGetter{lot: lot}, slots, detector, nil, zerolog.Nop())

	status, err := svc.GetLotStatus(context.Background(), lot.ID)
	if err != nil {
		t.Fatalf("GetLotStatus: %v", err)
	}

	byNumber := statusBySlotNumber(status)
	if got := byNumber[1]; got.Source != model.SlotSourceCamera || got.Status != client.OccupancyStatusOccupied {
		t.Errorf("regioned slot = %v/%v, want occupied/camera", got.Status, got.Source)
	}
	if got := byNumber[2]; got.Source != model.SlotSourceManual || got.Status != client.OccupancyStatusOccupied {
		t.Errorf("region-less slot = %v/%v, want occupied/manual", got.Status, got.Source)
	}
	if status.TotalSlots != 2 || status.Occupied != 2 {
		t.Errorf("counts = %d/%d, want 2/2", status.TotalSlots, status.Occupied)
	}
}

func TestAvailabilityServiceConfidenceFloor(t *testing.T) {
	lot := cameraLot()
	lot.CameraThreshold = 0.5

	slot := regionSlot(lot.ID, 1, true)
	prior := 0.8
	slot.Source = model.SlotSourceCamera
	slot.DetectionConfidence = &prior
	slots := &fakeSlotStatusStore{slots: []model.ParkingSlot{slot}}

	detector := &fakeDetector{
		healthy: true,
		verdicts: []client.RegionVerdict{
			{SlotID: slot.ID.String(), SlotNumber: 1, Status: client.OccupancyStatusVacant, Confidence: 0.2},
		},
	}
	svc := NewAvailabilityService(&fakeLotGetter{lot: lot}, slots, detector, nil, zerolog.Nop())

	status, err := svc.GetLotStatus(context.Background(), lot.ID)
	if err != nil {
		t.Fatalf("GetLotStatus: %v", err)
	}

	got := status.Slots[0]
	if got.Status != client.OccupancyStatusOccupied {
		t.Errorf("Status = %v, want occupied (low-confidence verdict discarded)", got.Status)
	}
	if got.Source != model.SlotSourceCamera {
		t.Errorf("Source = %v, want prior camera attribution", got.Source)
	}
	if got.Confidence == nil || *got.Confidence != prior {
		t.Errorf("Confidence = %v, want prior %v", got.Confidence, prior)
	}
	if len(slots.applyCalls) != 0 {
		t.Errorf("ApplyDetection calls = %d, want 0", len(slots.applyCalls))
	}
}

func TestAvailabilityServiceGuardConflict(t *testing.T) {
	lot := cameraLot()

	slot := regionSlot(lot.ID, 1, true)
	slots := &fakeSlotStatusStore{
		slots:       []model.ParkingSlot{slot},
		applyDenied: map[uuid.UUID]bool{slot.ID: true},
	}

	detector := &fakeDetector{
		healthy: true,
		verdicts: []client.RegionVerdict{
			{SlotID: slot.ID.String(), SlotNumber: 1, Status: client.OccupancyStatusVacant, Confidence: 0.9},
		},
	}
	svc := NewAvailabilityService(&fakeLotGetter{lot: lot}, slots, detector, nil, zerolog.Nop())

	status, err := svc.GetLotStatus(context.Background(), lot.ID)
	if err != nil {
		t.Fatalf("GetLotStatus: %v", err)
	}

	got := status.Slots[0]
	if got.Status != client.OccupancyStatusOccupied {
		t.Errorf("Status = %v, want occupied (concurrent write wins)", got.Status)
	}
	if got.Source != model.SlotSourceManual {
		t.Errorf("Source = %v, want manual", got.Source)
	}
}

func TestAvailabilityServicePublishesSnapshots(t *testing.T) {
	lot := cameraLot()
	lot.CameraEnabled = false

	slots := &fakeSlotStatusStore{slots: []model.ParkingSlot{plainSlot(lot.ID, 1, false)}}
	publisher := &fakePublisher{}
	svc := NewAvailabilityService(&fakeLotGetter{lot: lot}, slots, &fakeDetector{}, publisher, zerolog.Nop())

	if _, err := svc.GetLotStatus(context.Background(), lot.ID); err != nil {
		t.Fatalf("GetLotStatus: %v", err)
	}

	if len(publisher.published) != 1 || publisher.published[0] != lot.ID {
		t.Errorf("published = %v, want one snapshot for %v", publisher.published, lot.ID)
	}
}

func TestAvailabilityServiceUnknownLot(t *testing.T) {
	svc := NewAvailabilityService(&fakeLotGetter{}, &fakeSlotStatusStore{}, &fakeDetector{}, nil, zerolog.Nop())

	if _, err := svc.GetLotStatus(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
