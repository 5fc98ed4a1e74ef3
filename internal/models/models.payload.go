// FilePath: server/devicehub/internal/models/models.payload.go
package models

import "time"

// PayloadState is the outcome recorded for an ingestion attempt
type PayloadState string

const (
	PayloadValid PayloadState = "VALID"
	PayloadSkip  PayloadState = "SKIP"
	PayloadError PayloadState = "ERROR"
)

// PayloadRecord is the append-only audit entry of one ingestion attempt
type PayloadRecord struct {
	UUID        string       `json:"uuid"`
	DeviceModel string       `json:"device_model"`
	Payload     JSON         `json:"payload"`
	Valid       bool         `json:"valid"`
	State       PayloadState `json:"state"`
	Reason      string       `json:"reason,omitempty"`
	APIAction   string       `json:"api_action"`
	ReceivedAt  time.Time    `json:"received_at"`
}

// Engine is a tenant. Its index holds the tenant copies of devices, assets and history.
type Engine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Group     string    `json:"group,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
