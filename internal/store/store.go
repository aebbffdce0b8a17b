package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kalebecaldas/sistema-senhas-web2/internal/models"
)

type CreateTicketInput struct {
	RequestID    string
	PatientClass string
	FirstVisit   bool
	IssuedAt     time.Time
	// Confirm runs inside the creation transaction, after the ticket row is
	// written but before commit. A non-nil error rolls the ticket back; the
	// kiosk wires the printer here so unprinted tickets never enter the queue.
	Confirm func(models.Ticket) error
}

type CallNextInput struct {
	OperatorID   string
	CounterLabel string
	Streak       int
	CalledAt     time.Time
}

type RecallInput struct {
	TicketID     int64
	OperatorID   string
	CounterLabel string
	CalledAt     time.Time
}

type CustomCallInput struct {
	Text         string
	OperatorID   string
	CounterLabel string
	CalledAt     time.Time
}

// CallResult carries the called ticket plus the interleave streak the caller
// must store back into the operator session.
type CallResult struct {
	Ticket models.Ticket
	Streak int
}

type CallEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type QueueStats struct {
	WaitingNormal   int     `json:"waiting_normal"`
	WaitingPriority int     `json:"waiting_priority"`
	CalledToday     int     `json:"called_today"`
	AvgWaitMinutes  float64 `json:"avg_wait_minutes"`
}

type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	CallNext(ctx context.Context, input CallNextInput) (CallResult, error)
	Recall(ctx context.Context, input RecallInput) (models.Ticket, error)
	CallCustom(ctx context.Context, input CustomCallInput) (models.Ticket, error)
	ListPending(ctx context.Context, patientClass string) ([]models.Ticket, error)
	ListDisplayQueue(ctx context.Context, limit int) ([]models.Ticket, error)
	LastCall(ctx context.Context) (models.Ticket, bool, error)
	// ListCallEvents pages the event log in (created_at, event_id) order.
	// afterID tie-breaks events that share the after timestamp; empty means
	// strictly after it.
	ListCallEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]CallEvent, error)
	Stats(ctx context.Context) (QueueStats, error)
	PurgeCalledBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

// FieldError reports one rejected priority-config field. Writes are
// per-field: valid fields apply, invalid ones are returned here.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ConfigStore interface {
	GetPriorityConfig(ctx context.Context) (models.PriorityConfig, error)
	UpdatePriorityConfig(ctx context.Context, updates map[string]any) (models.PriorityConfig, []FieldError, error)
	GetDisplaySettings(ctx context.Context) (models.DisplaySettings, error)
	UpdateDisplaySettings(ctx context.Context, settings models.DisplaySettings) (models.DisplaySettings, error)
}
