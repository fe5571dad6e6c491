package models

import (
	"time"
)

// TimestampLayout is the canonical stored form of every timestamp column.
// Fixed width UTC with milliseconds, so string order equals time order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the canonical stored form
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a stored timestamp. RFC3339 input is accepted as well.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// DeviceStatus is the advisory status a device last reported
type DeviceStatus string

const (
	// StatusOnline is reported by a device that says it is up
	StatusOnline DeviceStatus = "online"
	// StatusOffline is reported by a device going down, and is the initial value
	StatusOffline DeviceStatus = "offline"
)

// Device is the liveness record kept per device identifier
type Device struct {
	DeviceID       string       `json:"device_id" gorm:"column:device_id;primaryKey;size:128"`
	Status         DeviceStatus `json:"status" gorm:"column:status;size:16;not null"`
	RuntimeSeconds int64        `json:"runtime_seconds" gorm:"column:runtime_seconds;not null"`
	LastSeen       string       `json:"last_seen" gorm:"column:last_seen;size:32"`
	UpdatedAt      string       `json:"updated_at" gorm:"column:updated_at;size:32;index"`
}

// TableName overrides the table name
func (Device) TableName() string {
	return "devices"
}

// MetricSample is one telemetry uplink. Rows are never updated.
type MetricSample struct {
	ID        uint     `json:"id" gorm:"primaryKey"`
	DeviceID  string   `json:"device_id" gorm:"column:device_id;size:128;index:idx_water_quality_device_created,priority:1"`
	TDS       *float64 `json:"tds" gorm:"column:tds"`
	COD       *float64 `json:"cod" gorm:"column:cod"`
	TOC       *float64 `json:"toc" gorm:"column:toc"`
	UV254     *float64 `json:"uv254" gorm:"column:uv254"`
	PH        *float64 `json:"ph" gorm:"column:ph"`
	Tem       *float64 `json:"tem" gorm:"column:tem"`
	Tur       *float64 `json:"tur" gorm:"column:tur"`
	AirTemp   *float64 `json:"air_temp" gorm:"column:air_temp"`
	AirHum    *float64 `json:"air_hum" gorm:"column:air_hum"`
	Pressure  *float64 `json:"pressure" gorm:"column:pressure"`
	Altitude  *float64 `json:"altitude" gorm:"column:altitude"`
	RawJSON   string   `json:"raw_json" gorm:"column:raw_json;type:text"`
	CreatedAt string   `json:"created_at" gorm:"column:created_at;size:32;index;index:idx_water_quality_device_created,priority:2"`
}

// TableName overrides the table name
func (MetricSample) TableName() string {
	return "water_quality"
}

// CommandRecord is the audit row written after a downlink was published
type CommandRecord struct {
	ID           uint    `json:"id" gorm:"primaryKey"`
	DeviceID     string  `json:"device_id" gorm:"column:device_id;size:128;index"`
	Command      string  `json:"command" gorm:"column:command;size:64"`
	RequestJSON  string  `json:"request_json" gorm:"column:request_json;type:text"`
	ResponseJSON *string `json:"response_json" gorm:"column:response_json;type:text"`
	CreatedAt    string  `json:"created_at" gorm:"column:created_at;size:32;index"`
}

// TableName overrides the table name
func (CommandRecord) TableName() string {
	return "commands"
}
