package models

import "time"

// ConnectionType selects how the resolver authenticates requests made
// through a connection.
type ConnectionType string

const (
	ConnectionTypeAPIKey ConnectionType = "api_key"
	ConnectionTypeBearer ConnectionType = "bearer"
	ConnectionTypeBasic  ConnectionType = "basic"
	ConnectionTypeNone   ConnectionType = "none"
)

// Connection references an external API plus the credential material needed
// to call it. The engine treats Credentials as opaque; interpreting them is
// the resolver's job.
type Connection struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"     validate:"required"`
	Type        ConnectionType    `json:"type"     validate:"required,oneof=api_key bearer basic none"`
	BaseURL     string            `json:"base_url" validate:"required,url"`
	Credentials map[string]string `json:"credentials,omitempty"`
	Owner       string            `json:"owner"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
