package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenFleetCore/internal/auth"
	"github.com/KevinKickass/OpenFleetCore/internal/orchestrator"
	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 65536

	// Send channel buffer size
	sendBufferSize = 256

	// Per-command execution budget
	commandTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

// envelope is the wire form of a client command.
type envelope struct {
	Type  string          `json:"type"`
	Token string          `json:"token,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	logger        *zap.Logger
	authenticated bool
	permissions   []auth.Permission
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	// 10 seconds timeout for authentication
	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	for {
		var msg envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.conn.RemoteAddr().String()))
			}
			break
		}

		// First message MUST be authentication
		if !c.authenticated {
			if msg.Type != "auth" {
				c.sendAuthFailed("First message must be authentication")
				c.conn.Close()
				return
			}
			if msg.Token == "" {
				c.sendAuthFailed("Missing token in auth message")
				c.conn.Close()
				return
			}

			permissions, _, err := c.hub.authService.ValidateToken(msg.Token)
			if err != nil {
				c.logger.Warn("WebSocket authentication failed",
					zap.Error(err),
					zap.String("remote_addr", c.conn.RemoteAddr().String()))
				c.sendAuthFailed("Invalid or expired token")
				c.conn.Close()
				return
			}

			// Authentication successful
			c.authenticated = true
			c.permissions = permissions
			c.conn.SetReadDeadline(time.Time{}) // Remove deadline

			c.sendAuthSuccess(permissions)
			c.logger.Info("WebSocket client authenticated",
				zap.String("remote_addr", c.conn.RemoteAddr().String()),
				zap.Any("permissions", permissions))

			// NOW register to hub (only after auth)
			c.hub.register <- c
			continue
		}

		c.handleCommand(msg)
	}
}

// handleCommand routes one client command to the orchestrator and
// answers with its `<command>-message` ack.
func (c *Client) handleCommand(msg envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	o := c.hub.commands
	var ack orchestrator.Ack

	switch msg.Type {
	case "create-process":
		var cmd orchestrator.CreateProcessCommand
		if !c.decode(msg, &cmd, "create-process-message") {
			return
		}
		ack = o.CreateProcess(ctx, cmd)

	case "create-processes":
		var cmd orchestrator.BulkCreateCommand
		if !c.decode(msg, &cmd, "create-processes-message") {
			return
		}
		ack = o.CreateProcesses(ctx, cmd)

	case "stop-process":
		var account string
		if !c.decode(msg, &account, "stop-process-message") {
			return
		}
		ack = o.StopProcess(ctx, account)

	case "remove-process":
		var account string
		if !c.decode(msg, &account, "remove-process-message") {
			return
		}
		ack = o.RemoveProcess(account)

	case "remove-schedule":
		var account string
		if !c.decode(msg, &account, "remove-schedule-message") {
			return
		}
		ack = o.RemoveSchedule(account)

	case "update-process":
		var snap types.Process
		if !c.decode(msg, &snap, "update-process-message") {
			return
		}
		ack = o.UpdateProcess(snap)

	case "update-processes":
		var snaps []types.Process
		if !c.decode(msg, &snaps, "update-processes-message") {
			return
		}
		ack = o.UpdateProcesses(snaps)

	case "get-process":
		var cmd struct {
			Account  string `json:"account"`
			DeviceID string `json:"device_id"`
		}
		if !c.decode(msg, &cmd, "get-process-message") {
			return
		}
		ack = o.GetProcess(cmd.Account, cmd.DeviceID)

	case "get-processes":
		var cmd struct {
			Status types.Status `json:"status"`
		}
		if len(msg.Data) > 0 && !c.decode(msg, &cmd, "get-processes-message") {
			return
		}
		ack = o.GetProcesses(cmd.Status)

	case "get-device":
		var id string
		if !c.decode(msg, &id, "get-device-message") {
			return
		}
		ack = o.GetDevice(id)

	case "get-devices":
		ack = o.GetDevices()

	case "get-devices-battery":
		ack = o.GetDevicesBattery(ctx)

	case "preview-device":
		var id string
		if !c.decode(msg, &id, "preview-device-message") {
			return
		}
		ack = o.PreviewDevice(id)

	case "get-sessions":
		ack = o.GetSessions()

	case "get-config":
		var cmd struct {
			Account    string `json:"account"`
			ConfigFile string `json:"config_file"`
		}
		if !c.decode(msg, &cmd, "get-config-message") {
			return
		}
		ack = o.GetConfig(cmd.Account, cmd.ConfigFile)

	case "save-config":
		var cmd struct {
			Account    string         `json:"account"`
			ConfigFile string         `json:"config_file"`
			Config     map[string]any `json:"config"`
		}
		if !c.decode(msg, &cmd, "save-config-message") {
			return
		}
		ack = o.SaveConfig(cmd.Account, cmd.ConfigFile, cmd.Config)

	case "send-status-to-telegram":
		ack = o.SendStatusToTelegram(ctx)

	default:
		c.logger.Debug("unknown client command",
			zap.String("type", msg.Type),
			zap.String("remote_addr", c.conn.RemoteAddr().String()))
		return
	}

	c.sendAck(ack)
}

// decode unmarshals the command payload, acking a malformed request.
func (c *Client) decode(msg envelope, into any, event string) bool {
	if err := json.Unmarshal(msg.Data, into); err != nil {
		c.sendAck(orchestrator.Ack{Event: event, Payload: "[ERROR] Malformed request payload."})
		return false
	}
	return true
}

func (c *Client) sendAck(ack orchestrator.Ack) {
	data, err := json.Marshal(NewMessage(MessageType(ack.Event), ack.Payload))
	if err != nil {
		c.logger.Error("Failed to marshal ack", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full, ack dropped",
			zap.String("event", ack.Event))
	}
}

func (c *Client) sendAuthSuccess(permissions []auth.Permission) {
	msg := map[string]interface{}{
		"type":        "auth_success",
		"timestamp":   time.Now(),
		"permissions": permissions,
	}
	data, _ := json.Marshal(msg)
	c.send <- data
}

func (c *Client) sendAuthFailed(reason string) {
	msg := map[string]interface{}{
		"type":      "auth_failed",
		"timestamp": time.Now(),
		"reason":    reason,
	}
	data, _ := json.Marshal(msg)
	c.send <- data
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages into current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger, // <- Logger vom Hub übernehmen
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
