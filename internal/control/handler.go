// Package control receives host events and operator commands over MQTT and
// forwards them to the service.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/reelcore/internal/config"
	"github.com/e7canasta/reelcore/modules/coordinator"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Config  map[string]interface{} `json:"config,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Client is the part of mqtt.Client the handler uses.
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// ScrollSample is the payload of scroll_sample.
type ScrollSample struct {
	Velocity     float64 `json:"velocity"`
	DwellSeconds float64 `json:"dwell_s"`
	Category     string  `json:"category"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	// Host events
	OnMountItem       func(coordinator.ItemProps) error
	OnUnmountItem     func(id string) error
	OnSetVisibleIndex func(index int) error
	OnScrollSample    func(ScrollSample) error
	OnProcessState    func(active bool) error
	OnFocusState      func(focused bool) error

	// Operator commands
	OnResetItem    func(id string) error
	OnResetSession func() error
	OnForceActive  func(id string) error
	OnGetStatus    func() map[string]interface{}
	OnUpdateConfig func(map[string]interface{}) error
	OnShutdown     func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg      *config.Config
	client   Client
	commands chan Command
	logger   *slog.Logger

	callbacks     CommandCallbacks
	shutdownDelay time.Duration
	now           func() time.Time
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client Client, callbacks CommandCallbacks, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:           cfg,
		client:        client,
		commands:      make(chan Command, 64),
		logger:        logger,
		callbacks:     callbacks,
		shutdownDelay: 500 * time.Millisecond,
		now:           time.Now,
	}
}

// ResponseTopic is where command responses are published.
func (h *Handler) ResponseTopic() string {
	return h.cfg.MQTT.Topics.Control + "/response"
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	h.logger.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	h.logger.Info("control plane handler started")

	// Commands run one at a time, in arrival order.
	go h.processCommands(ctx)

	return nil
}

// Stop unsubscribes. Commands already queued are abandoned.
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}

	h.logger.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		h.logger.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	h.logger.Debug("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		h.logger.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "mount_item":
		if h.callbacks.OnMountItem == nil {
			notImplemented(&resp)
			break
		}
		var props coordinator.ItemProps
		if err := decodeParams(cmd.Params, &props); err != nil {
			fail(&resp, err)
			break
		}
		if props.ID == "" {
			fail(&resp, fmt.Errorf("missing or invalid 'id' parameter (expected string)"))
			break
		}
		done(&resp, h.callbacks.OnMountItem(props), map[string]interface{}{
			"id":    props.ID,
			"index": props.Index,
		})

	case "unmount_item", "reset_item", "force_active":
		callback := map[string]func(string) error{
			"unmount_item": h.callbacks.OnUnmountItem,
			"reset_item":   h.callbacks.OnResetItem,
			"force_active": h.callbacks.OnForceActive,
		}[cmd.Command]
		if callback == nil {
			notImplemented(&resp)
			break
		}
		id, ok := cmd.Params["id"].(string)
		if !ok || id == "" {
			fail(&resp, fmt.Errorf("missing or invalid 'id' parameter (expected string)"))
			break
		}
		done(&resp, callback(id), map[string]interface{}{"id": id})

	case "set_visible_index":
		if h.callbacks.OnSetVisibleIndex == nil {
			notImplemented(&resp)
			break
		}
		index, ok := intParam(cmd.Params, "index")
		if !ok {
			fail(&resp, fmt.Errorf("missing or invalid 'index' parameter (expected integer)"))
			break
		}
		done(&resp, h.callbacks.OnSetVisibleIndex(index), map[string]interface{}{"visible_index": index})

	case "scroll_sample":
		if h.callbacks.OnScrollSample == nil {
			notImplemented(&resp)
			break
		}
		var sample ScrollSample
		if err := decodeParams(cmd.Params, &sample); err != nil {
			fail(&resp, err)
			break
		}
		done(&resp, h.callbacks.OnScrollSample(sample), nil)

	case "process_state":
		if h.callbacks.OnProcessState == nil {
			notImplemented(&resp)
			break
		}
		active, ok := cmd.Params["active"].(bool)
		if !ok {
			fail(&resp, fmt.Errorf("missing or invalid 'active' parameter (expected bool)"))
			break
		}
		done(&resp, h.callbacks.OnProcessState(active), map[string]interface{}{"process_active": active})

	case "focus_state":
		if h.callbacks.OnFocusState == nil {
			notImplemented(&resp)
			break
		}
		focused, ok := cmd.Params["focused"].(bool)
		if !ok {
			fail(&resp, fmt.Errorf("missing or invalid 'focused' parameter (expected bool)"))
			break
		}
		done(&resp, h.callbacks.OnFocusState(focused), map[string]interface{}{"host_focused": focused})

	case "reset_session":
		if h.callbacks.OnResetSession == nil {
			notImplemented(&resp)
			break
		}
		done(&resp, h.callbacks.OnResetSession(), map[string]interface{}{
			"message": "pattern memory cleared",
		})

	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			notImplemented(&resp)
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "update_config":
		if h.callbacks.OnUpdateConfig == nil {
			notImplemented(&resp)
			break
		}
		done(&resp, h.callbacks.OnUpdateConfig(cmd.Config), map[string]interface{}{
			"config_updated": true,
		})

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			notImplemented(&resp)
			break
		}
		h.logger.Warn("shutdown command received via MQTT control plane")
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		// Send response BEFORE triggering shutdown
		h.sendResponse(resp)

		go func() {
			time.Sleep(h.shutdownDelay)
			if err := h.callbacks.OnShutdown(); err != nil {
				h.logger.Error("shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

// sendResponse publishes a response on the response topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = h.now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.ResponseTopic(), h.cfg.MQTT.QoS["control"], false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		h.logger.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		h.logger.Error("failed to publish response", "error", err)
		return
	}

	h.logger.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func done(resp *Response, err error, data map[string]interface{}) {
	if err != nil {
		fail(resp, err)
		return
	}
	resp.Status = "success"
	resp.Data = data
}

func fail(resp *Response, err error) {
	resp.Status = "error"
	resp.Error = err.Error()
}

func notImplemented(resp *Response) {
	resp.Status = "error"
	resp.Error = resp.CommandAck + " not implemented"
}

// decodeParams maps the generic params object onto v.
func decodeParams(params map[string]interface{}, v any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// intParam reads a JSON number that must be a whole number.
func intParam(params map[string]interface{}, key string) (int, bool) {
	f, ok := params[key].(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
