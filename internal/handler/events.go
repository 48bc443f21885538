package handler

import (
	"encoding/json"
	"log"

	"github.com/balcao-pos/api/internal/ws"
	"github.com/google/uuid"
)

// EventPublisher pushes store-scoped events to live subscribers.
// Satisfied by *ws.Hub; a nil publisher disables pushes.
type EventPublisher interface {
	BroadcastToStore(storeID uuid.UUID, event ws.Event)
}

// publishEvent is best effort: subscribers see the push only if they are
// connected, and a marshal failure never surfaces to the request that
// triggered it.
func publishEvent(events EventPublisher, storeID uuid.UUID, eventType string, payload interface{}) {
	if events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: marshal %s event: %v", eventType, err)
		return
	}
	events.BroadcastToStore(storeID, ws.Event{Type: eventType, Payload: data})
}

// stockReconciledEvent tells subscribers which stock changed, so counters can
// refetch just the affected product or order.
type stockReconciledEvent struct {
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	ProductID *uuid.UUID `json:"product_id,omitempty"`
}
