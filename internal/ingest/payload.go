package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"example.com/backstage/waterweb/internal/models"
	"example.com/backstage/waterweb/internal/service"
)

// Payload is a decoded JSON object. Numbers are kept as json.Number.
type Payload = map[string]interface{}

// ErrUnidentifiable is returned for uplink and status messages that carry no
// device identifier in the topic or the body.
var ErrUnidentifiable = errors.New("message has no device identifier")

// DecodeFailure reports a message body that is not a JSON object
type DecodeFailure struct {
	Topic string
	Raw   string
	Err   error
}

func (e *DecodeFailure) Error() string {
	return fmt.Sprintf("decode payload on %s: %v", e.Topic, e.Err)
}

func (e *DecodeFailure) Unwrap() error {
	return e.Err
}

// Decode parses raw as a single JSON object
func Decode(topic string, raw []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload Payload
	if err := dec.Decode(&payload); err != nil {
		return nil, &DecodeFailure{Topic: topic, Raw: string(raw), Err: err}
	}
	if payload == nil {
		return nil, &DecodeFailure{Topic: topic, Raw: string(raw), Err: errors.New("payload is not a JSON object")}
	}
	if dec.More() {
		return nil, &DecodeFailure{Topic: topic, Raw: string(raw), Err: errors.New("trailing data after JSON object")}
	}
	return payload, nil
}

// TopicDeviceID returns the second segment of a devices/{id}/... topic
func TopicDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ResolveDeviceID picks the first non-empty identifier from the topic path,
// then device_id, deviceId and id in the payload.
func ResolveDeviceID(topic string, payload Payload) string {
	if id := TopicDeviceID(topic); id != "" {
		return id
	}
	for _, key := range []string{"device_id", "deviceId", "id"} {
		if id := service.IdentifierString(payload[key]); id != "" {
			return id
		}
	}
	return ""
}

var offlineWords = map[string]bool{
	"offline":      true,
	"off":          true,
	"down":         true,
	"disconnected": true,
	"false":        true,
	"0":            true,
}

// NormalizeStatus maps free text onto online/offline. Unrecognized text is online.
func NormalizeStatus(text string) models.DeviceStatus {
	if offlineWords[strings.ToLower(strings.TrimSpace(text))] {
		return models.StatusOffline
	}
	return models.StatusOnline
}

// StatusFromPayload extracts the merge hints of a status message. A boolean
// online field wins over the status text; blank text is no hint at all.
func StatusFromPayload(payload Payload) service.StatusUpdate {
	var update service.StatusUpdate

	if online, ok := payload["online"].(bool); ok {
		status := models.StatusOffline
		if online {
			status = models.StatusOnline
		}
		update.Status = &status
	} else if text, ok := payload["status"].(string); ok && strings.TrimSpace(text) != "" {
		status := NormalizeStatus(text)
		update.Status = &status
	}

	if runtime, ok := RuntimeSeconds(payload["runtime_seconds"]); ok {
		update.RuntimeSeconds = &runtime
	}

	return update
}

// RuntimeSeconds accepts a finite, non-negative number or numeric string.
// Fractions are truncated.
func RuntimeSeconds(v interface{}) (int64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, i >= 0
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int:
		return int64(n), n >= 0
	case int64:
		return n, n >= 0
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(math.Floor(f)), true
}
