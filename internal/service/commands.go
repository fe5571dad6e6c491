package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/backstage/waterweb/internal/messaging"
	"example.com/backstage/waterweb/internal/models"
	"example.com/backstage/waterweb/internal/repository"

	"github.com/sirupsen/logrus"
)

// CommandTime asks the server for its clock. It is the only supported command.
const CommandTime = "time"

// Command sources, used for logging only
const (
	SourceBus = "bus"
	SourceAPI = "api"
)

// Execution status derived from a stored response
const (
	ExecutionSuccess = "success"
	ExecutionFailed  = "failed"
)

var (
	// ErrCommandRejected is the parent of every validation failure
	ErrCommandRejected = errors.New("command rejected")
	// ErrMissingDeviceID means neither the payload nor the caller named a device
	ErrMissingDeviceID = fmt.Errorf("%w: device_id is required", ErrCommandRejected)
	// ErrUnsupportedCommand means the command name is not supported
	ErrUnsupportedCommand = fmt.Errorf("%w: only command %q is supported", ErrCommandRejected, CommandTime)
	// ErrPublishFailed means the downlink could not be delivered to the broker
	ErrPublishFailed = errors.New("downlink publish failed")
)

// IsRejected reports whether err is a validation failure
func IsRejected(err error) bool {
	return errors.Is(err, ErrCommandRejected)
}

// CommandResponse is the downlink body sent back to the device
type CommandResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// CommandQuery selects audit records
type CommandQuery struct {
	DeviceID string
	Limit    int
}

// CommandView is an audit record with its derived execution status
type CommandView struct {
	models.CommandRecord
	ExecutionStatus string `json:"execution_status"`
}

// CommandCorrelator validates commands, answers them on the downlink topic
// and keeps the audit trail.
type CommandCorrelator interface {
	Handle(ctx context.Context, payload map[string]interface{}, fallbackDeviceID, source string) (*CommandResponse, error)
	List(ctx context.Context, query CommandQuery) ([]CommandView, error)
}

type commandCorrelator struct {
	repo     repository.Repository
	downlink messaging.Publisher
	events   messaging.ServiceBusClient
	template string
	log      *logrus.Logger
	now      func() time.Time
}

func newCommandCorrelator(cfg ServiceConfig) *commandCorrelator {
	return &commandCorrelator{
		repo:     cfg.Repository,
		downlink: cfg.Downlink,
		events:   cfg.Events,
		template: cfg.DownlinkTemplate,
		log:      cfg.Logger,
		now:      cfg.Clock,
	}
}

// DownlinkTopic substitutes the device id into the template
func DownlinkTopic(template, deviceID string) string {
	return strings.ReplaceAll(template, "{device_id}", deviceID)
}

// Handle runs one command. The reply is published before the audit record is
// written; a failed publish leaves no record behind.
func (c *commandCorrelator) Handle(ctx context.Context, payload map[string]interface{}, fallbackDeviceID, source string) (*CommandResponse, error) {
	deviceID := IdentifierString(payload["device_id"])
	if deviceID == "" {
		deviceID = strings.TrimSpace(fallbackDeviceID)
	}
	command, _ := payload["command"].(string)

	entry := c.log.WithFields(logrus.Fields{
		"device_id": deviceID,
		"command":   command,
		"source":    source,
	})
	entry.Debug("Command received")

	if deviceID == "" {
		entry.Warn("Command rejected: missing device id")
		return nil, ErrMissingDeviceID
	}
	if command != CommandTime {
		entry.Warn("Command rejected: unsupported command")
		return nil, fmt.Errorf("%w, got %q", ErrUnsupportedCommand, command)
	}
	entry.Debug("Command validated")

	now := c.now()
	response := &CommandResponse{Timestamp: now.UnixMilli()}
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("encode command response: %w", err)
	}
	requestJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode command request: %w", err)
	}

	topic := DownlinkTopic(c.template, deviceID)
	if err := c.downlink.Publish(ctx, topic, responseJSON); err != nil {
		entry.WithError(err).Error("Command downlink publish failed")
		return nil, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	entry.WithField("topic", topic).Info("Command responded")

	responseText := string(responseJSON)
	record := &models.CommandRecord{
		DeviceID:     deviceID,
		Command:      command,
		RequestJSON:  string(requestJSON),
		ResponseJSON: &responseText,
		CreatedAt:    models.FormatTimestamp(now),
	}
	if err := c.repo.CreateCommandRecord(ctx, record); err != nil {
		entry.WithError(err).Error("Failed to log command")
		return nil, fmt.Errorf("save command record: %w", err)
	}
	entry.WithField("record_id", record.ID).Debug("Command logged")

	event := messaging.Event{Type: messaging.EventCommandReply, DeviceID: deviceID, Data: record}
	if err := c.events.SendMessage(ctx, event, deviceID); err != nil {
		entry.WithError(err).Warn("Failed to forward command record")
	}

	return response, nil
}

// List returns audit records newest first, at most MaxListLimit rows
func (c *commandCorrelator) List(ctx context.Context, query CommandQuery) ([]CommandView, error) {
	records, err := c.repo.ListCommandRecords(ctx, repository.CommandFilter{
		DeviceID: query.DeviceID,
		Limit:    clampLimit(query.Limit, MaxListLimit),
	})
	if err != nil {
		return nil, err
	}

	views := make([]CommandView, 0, len(records))
	for _, record := range records {
		views = append(views, CommandView{
			CommandRecord:   *record,
			ExecutionStatus: DeriveExecutionStatus(record.ResponseJSON),
		})
	}
	return views, nil
}

// DeriveExecutionStatus classifies a stored response. It is a success unless
// the response is missing or unreadable, has a truthy error field, or has
// ok set to false.
func DeriveExecutionStatus(responseJSON *string) string {
	if responseJSON == nil || strings.TrimSpace(*responseJSON) == "" {
		return ExecutionFailed
	}

	var response map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(*responseJSON))
	dec.UseNumber()
	if err := dec.Decode(&response); err != nil || response == nil {
		return ExecutionFailed
	}

	if truthy(response["error"]) {
		return ExecutionFailed
	}
	if ok, present := response["ok"].(bool); present && !ok {
		return ExecutionFailed
	}
	return ExecutionSuccess
}

// truthy follows JSON-in-JavaScript truthiness
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}
