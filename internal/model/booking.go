package model

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusActive    BookingStatus = "ACTIVE"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// Booking lifecycle events. Both transitions are terminal.
const (
	BookingEventCancel   = "cancel"
	BookingEventComplete = "complete"
)

type Booking struct {
	ID         uuid.UUID     `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	CustomerID uuid.UUID     `gorm:"type:uuid;not null;index" json:"customer_id"`
	LotID      uuid.UUID     `gorm:"type:uuid;not null;index" json:"lot_id"`
	SlotID     uuid.UUID     `gorm:"type:uuid;not null;index" json:"slot_id"`
	StartTime  time.Time     `gorm:"not null" json:"start_time"`
	EndTime    *time.Time    `json:"end_time"`
	TotalPrice float64       `gorm:"not null" json:"total_price"`
	Status     BookingStatus `gorm:"type:booking_status;not null;default:ACTIVE" json:"status"`
	CreatedAt  time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Booking) TableName() string {
	return "bookings"
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func bookingMachine(current BookingStatus) *fsm.FSM {
	return fsm.NewFSM(
		string(current),
		fsm.Events{
			{Name: BookingEventCancel, Src: []string{string(BookingStatusActive)}, Dst: string(BookingStatusCancelled)},
			{Name: BookingEventComplete, Src: []string{string(BookingStatusActive)}, Dst: string(BookingStatusCompleted)},
		},
		fsm.Callbacks{},
	)
}

// CanTransition reports whether the booking may take the given lifecycle event.
func (b *Booking) CanTransition(event string) bool {
	return bookingMachine(b.Status).Can(event)
}

// Transition applies a lifecycle event to the booking status.
func (b *Booking) Transition(ctx context.Context, event string) error {
	m := bookingMachine(b.Status)
	if err := m.Event(ctx, event); err != nil {
		return err
	}
	b.Status = BookingStatus(m.Current())
	return nil
}
