package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Push events broadcast to every client
	MessageTypeProcessCreated MessageType = "process-created"
	MessageTypeProcessRemoved MessageType = "process-removed"
	MessageTypeProcessStatus  MessageType = "process-status"
	MessageTypeDeviceBattery  MessageType = "device-battery"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ProcessStatusData carries a process state change
type ProcessStatusData struct {
	Account  string `json:"account"`
	Previous string `json:"previous_status,omitempty"`
	Status   string `json:"status,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewProcessStatusMessage builds the push event for a status change
func NewProcessStatusMessage(msgType MessageType, account, previous, status string) Message {
	return NewMessage(msgType, ProcessStatusData{
		Account:  account,
		Previous: previous,
		Status:   status,
	})
}
