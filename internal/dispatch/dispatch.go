package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/kalebecaldas/sistema-senhas-web2/internal/announce"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/hub"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/store"
)

// Dispatcher polls the call event log and pushes envelopes to display
// clients over the hub. The offset is in-memory and starts at boot, so a
// restart skips history instead of replaying old announcements.
type Dispatcher struct {
	store     store.TicketStore
	hub       *hub.Hub
	batchSize int
	last      time.Time
	lastID    string
}

type Config struct {
	BatchSize int
}

type eventEnvelope struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Announcement string          `json:"announcement,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func New(ticketStore store.TicketStore, h *hub.Hub, cfg Config) *Dispatcher {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Dispatcher{
		store:     ticketStore,
		hub:       h,
		batchSize: batch,
		last:      time.Now().UTC(),
	}
}

// Run drains one batch of events. It returns the number of events pushed
// so the loop can log progress.
func (d *Dispatcher) Run(ctx context.Context) (int, error) {
	events, err := d.store.ListCallEvents(ctx, d.last, d.lastID, d.batchSize)
	if err != nil {
		return 0, err
	}

	for _, event := range events {
		d.last = event.CreatedAt
		d.lastID = event.EventID
		envelope := eventEnvelope{
			Type:         event.Type,
			Payload:      event.Payload,
			Announcement: announcementFor(event),
			CreatedAt:    event.CreatedAt,
		}
		payload, err := json.Marshal(envelope)
		if err != nil {
			log.Printf("dispatch marshal error: %v", err)
			continue
		}
		d.hub.Broadcast(payload, channelFor(event.Type))
	}
	return len(events), nil
}

// Loop polls until the context is cancelled. A CAS flag keeps a slow drain
// from stacking ticks.
func (d *Dispatcher) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var running int32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&running, 0, 1) {
				continue
			}
			runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if _, err := d.Run(runCtx); err != nil {
				log.Printf("dispatch poll error: %v", err)
			}
			cancel()
			atomic.StoreInt32(&running, 0)
		}
	}
}

func channelFor(eventType string) string {
	switch eventType {
	case "ticket.called", "ticket.recalled":
		return hub.ChannelCalls
	default:
		return hub.ChannelQueue
	}
}

// announcementFor renders the spoken phrase for call events; creation
// events carry no announcement.
func announcementFor(event store.CallEvent) string {
	if event.Type != "ticket.called" && event.Type != "ticket.recalled" {
		return ""
	}
	var payload struct {
		DisplayLabel string  `json:"display_label"`
		CounterLabel *string `json:"counter_label"`
	}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return ""
	}
	if payload.DisplayLabel == "" {
		return ""
	}
	counter := ""
	if payload.CounterLabel != nil {
		counter = *payload.CounterLabel
	}
	return announce.Format(payload.DisplayLabel, counter)
}
