package amqp

import (
	"encoding/json"
	"time"

	"piggysaving/internal/core"
)

// ModelChangedMessage announces that the savings model changed. Amounts are
// decimal strings; consumers re-read the store for the records themselves.
type ModelChangedMessage struct {
	Event           string    `json:"event"`
	Date            string    `json:"date,omitempty"`
	CumulativeSaved string    `json:"cumulative_saved"`
	CumulativeCost  string    `json:"cumulative_cost"`
	ServerSum       string    `json:"server_sum,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewModelChangedMessage(event, date string, totals core.Totals) *ModelChangedMessage {
	msg := &ModelChangedMessage{
		Event:           event,
		Date:            date,
		CumulativeSaved: totals.CumulativeSaved.StringFixed(2),
		CumulativeCost:  totals.CumulativeCost.StringFixed(2),
		Timestamp:       time.Now(),
	}
	if totals.ServerReportedSum.Valid {
		msg.ServerSum = totals.ServerReportedSum.Decimal.StringFixed(2)
	}
	return msg
}

// ToJSON converts the message to JSON bytes
func (m *ModelChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ModelChangedMessageFromJSON parses a message body
func ModelChangedMessageFromJSON(data []byte) (*ModelChangedMessage, error) {
	var msg ModelChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
