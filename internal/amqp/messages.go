package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncRequestMessage asks a worker to pull new transactions for one linked
// item. It carries the aggregator's item id only; the worker loads the item
// and its cursor from the store.
type SyncRequestMessage struct {
	ItemID    string    `json:"item_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSyncRequestMessage creates a new sync request stamped with the current time
func NewSyncRequestMessage(itemID, reason string) *SyncRequestMessage {
	return &SyncRequestMessage{
		ItemID:    itemID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SyncRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncRequestMessageFromJSON decodes a message and rejects one without an item id.
func SyncRequestMessageFromJSON(data []byte) (*SyncRequestMessage, error) {
	var msg SyncRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ItemID == "" {
		return nil, fmt.Errorf("sync request without item_id")
	}
	return &msg, nil
}
