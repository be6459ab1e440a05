// Package queue defines message payloads exchanged over the message broker.
package queue

import "github.com/iliyamo/echo-cicd-demo/internal/model"

// Event types carried in ItemEvent.Type.
const (
    ItemCreated = "item.created"
    ItemUpdated = "item.updated"
    ItemDeleted = "item.deleted"
)

// ItemEvent is published after an item is created, replaced or deleted.
// Item holds the new value and is nil for deletions.
type ItemEvent struct {
    EventID     string      `json:"event_id"`
    Type        string      `json:"type"`
    ItemID      int64       `json:"item_id"`
    Item        *model.Item `json:"item,omitempty"`
    Environment string      `json:"environment"`
    OccurredAt  string      `json:"occurred_at"`
}
