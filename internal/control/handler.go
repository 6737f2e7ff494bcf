// Package control is the MQTT command plane: JSON commands arrive on the
// control topic, run against the client, and are acknowledged on the
// responses topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/client"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/subject"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

const (
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 2 * time.Second
	queueSize        = 10
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command is a control plane command. Fields beyond Command are read by
// the commands that need them.
type Command struct {
	Command             string   `json:"command"`
	Subject             string   `json:"subject,omitempty"`
	Subjects            []string `json:"subjects,omitempty"`
	Source              string   `json:"source,omitempty"`
	Enabled             *bool    `json:"enabled,omitempty"`
	Mode                string   `json:"mode,omitempty"`
	InterpolationOffset *float64 `json:"interpolation_offset,omitempty"`
}

// Response acknowledges a command.
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Controller is the part of the client commands act on.
type Controller interface {
	SubjectNames() []string
	Sources() []client.SourceInfo
	SubjectStats(name string) (subject.Stats, bool)
	ClearSubject(name string) bool
	ClearSubjectFrames(name string) error
	ClearAllSubjectsFrames()
	SaveFrames() bool
	SetSaveFrames(save bool) bool
	AddVirtualSubject(name string) error
	UpdateVirtualSubject(name string, subjects []string) error
	RemoveVirtualSubject(name string) bool
	RemoveSource(guid uuid.UUID) bool
	SourceSettings(guid uuid.UUID) (types.SourceSettings, bool)
	UpdateSourceSettings(guid uuid.UUID, settings types.SourceSettings) error
}

// Config configures the handler.
type Config struct {
	Topic         string // commands
	ResponseTopic string
	QoS           byte
	Clock         clock.Clock
}

// Handler handles control plane commands.
type Handler struct {
	cfg      Config
	client   mqtt.Client
	ctrl     Controller
	commands chan Command

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler creates a handler publishing and subscribing through c.
func NewHandler(cfg Config, c mqtt.Client, ctrl Controller) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &Handler{
		cfg:      cfg,
		client:   c,
		ctrl:     ctrl,
		commands: make(chan Command, queueSize),
	}
}

// Start subscribes to the control topic and processes commands until ctx
// is done or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("control: subscribing to control plane", "topic", h.cfg.Topic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(h.cfg.Topic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go h.processCommands(ctx)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes and waits for the command loop to exit.
func (h *Handler) Stop() {
	if h.client.IsConnected() {
		h.client.Unsubscribe(h.cfg.Topic).WaitTimeout(subscribeTimeout)
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
	slog.Info("control: handler stopped")
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Warn("control: failed to parse command", "error", err)
		h.sendResponse(Response{CommandAck: "unknown", Status: StatusError, Error: "invalid JSON"})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.Execute(cmd))
		}
	}
}

// Execute runs one command and returns its response.
func (h *Handler) Execute(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: StatusSuccess}
	data, err := h.execute(cmd)
	if err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		return resp
	}
	resp.Data = data
	return resp
}

func (h *Handler) execute(cmd Command) (map[string]any, error) {
	switch cmd.Command {
	case "get_status":
		return h.status(), nil

	case "list_subjects":
		return map[string]any{"subjects": h.ctrl.SubjectNames()}, nil

	case "subject_stats":
		st, ok := h.ctrl.SubjectStats(cmd.Subject)
		if !ok {
			return nil, fmt.Errorf("%w: %q", client.ErrSubjectNotFound, cmd.Subject)
		}
		return map[string]any{
			"buffered_frames":     st.BufferedFrames,
			"rate_mean":           st.RateMean,
			"rate_stddev":         st.RateStdDev,
			"jitter_mean":         st.JitterMean,
			"max_gap":             st.MaxGap,
			"stable":              st.IsStable,
			"synchronized":        st.Synchronized,
			"sparse_for_rollover": st.SparseForRollover,
		}, nil

	case "clear_subject":
		if !h.ctrl.ClearSubject(cmd.Subject) {
			return nil, fmt.Errorf("%w: %q", client.ErrSubjectNotFound, cmd.Subject)
		}
		return nil, nil

	case "clear_subject_frames":
		return nil, h.ctrl.ClearSubjectFrames(cmd.Subject)

	case "clear_all_frames":
		h.ctrl.ClearAllSubjectsFrames()
		return nil, nil

	case "set_save_frames":
		if cmd.Enabled == nil {
			return nil, fmt.Errorf("enabled is required")
		}
		previous := h.ctrl.SetSaveFrames(*cmd.Enabled)
		return map[string]any{"save_frames": *cmd.Enabled, "previous": previous}, nil

	case "add_virtual_subject":
		if cmd.Subject == "" {
			return nil, fmt.Errorf("subject is required")
		}
		if err := h.ctrl.AddVirtualSubject(cmd.Subject); err != nil {
			return nil, err
		}
		return nil, h.ctrl.UpdateVirtualSubject(cmd.Subject, cmd.Subjects)

	case "update_virtual_subject":
		return nil, h.ctrl.UpdateVirtualSubject(cmd.Subject, cmd.Subjects)

	case "remove_virtual_subject":
		if !h.ctrl.RemoveVirtualSubject(cmd.Subject) {
			return nil, fmt.Errorf("%w: %q", client.ErrSubjectNotFound, cmd.Subject)
		}
		return nil, nil

	case "remove_source":
		guid, err := uuid.Parse(cmd.Source)
		if err != nil {
			return nil, fmt.Errorf("invalid source: %w", err)
		}
		if !h.ctrl.RemoveSource(guid) {
			return nil, fmt.Errorf("%w: %s", client.ErrSourceNotFound, guid)
		}
		return nil, nil

	case "set_source_mode":
		return h.setSourceMode(cmd)

	default:
		return nil, fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

func (h *Handler) setSourceMode(cmd Command) (map[string]any, error) {
	guid, err := uuid.Parse(cmd.Source)
	if err != nil {
		return nil, fmt.Errorf("invalid source: %w", err)
	}
	settings, ok := h.ctrl.SourceSettings(guid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", client.ErrSourceNotFound, guid)
	}
	mode, err := types.ParseSourceMode(cmd.Mode)
	if err != nil {
		return nil, err
	}
	settings.Mode = mode
	if cmd.InterpolationOffset != nil {
		if *cmd.InterpolationOffset < 0 {
			return nil, fmt.Errorf("interpolation_offset must be >= 0")
		}
		settings.Interpolation.InterpolationOffset = *cmd.InterpolationOffset
	}
	if err := h.ctrl.UpdateSourceSettings(guid, settings); err != nil {
		return nil, err
	}
	return map[string]any{
		"mode":                 mode.String(),
		"interpolation_offset": settings.Interpolation.InterpolationOffset,
	}, nil
}

func (h *Handler) status() map[string]any {
	var sources []map[string]any
	for _, s := range h.ctrl.Sources() {
		sources = append(sources, map[string]any{
			"guid":   s.GUID.String(),
			"type":   s.Type,
			"status": s.Status,
			"mode":   s.Settings.Mode.String(),
		})
	}
	return map[string]any{
		"subjects":    h.ctrl.SubjectNames(),
		"sources":     sources,
		"save_frames": h.ctrl.SaveFrames(),
	}
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = h.cfg.Clock.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.ResponseTopic, h.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		slog.Error("control: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}
	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
