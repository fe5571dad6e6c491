package service

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"example.com/backstage/waterweb/internal/models"
)

// metricField binds a payload key to the sample column it fills
type metricField struct {
	key   string
	apply func(s *models.MetricSample, v *float64)
}

var metricFields = []metricField{
	{"TDS", func(s *models.MetricSample, v *float64) { s.TDS = v }},
	{"COD", func(s *models.MetricSample, v *float64) { s.COD = v }},
	{"TOC", func(s *models.MetricSample, v *float64) { s.TOC = v }},
	{"UV254", func(s *models.MetricSample, v *float64) { s.UV254 = v }},
	{"pH", func(s *models.MetricSample, v *float64) { s.PH = v }},
	{"Tem", func(s *models.MetricSample, v *float64) { s.Tem = v }},
	{"Tur", func(s *models.MetricSample, v *float64) { s.Tur = v }},
	{"air_temp", func(s *models.MetricSample, v *float64) { s.AirTemp = v }},
	{"air_hum", func(s *models.MetricSample, v *float64) { s.AirHum = v }},
	{"pressure", func(s *models.MetricSample, v *float64) { s.Pressure = v }},
	{"altitude", func(s *models.MetricSample, v *float64) { s.Altitude = v }},
}

// ExtractMetrics fills every numeric field it can find in the payload.
// For each field the lookup order is params.KEY.value, params.KEY, then a
// top level KEY, each tried with the canonical and the lowercase key.
func ExtractMetrics(sample *models.MetricSample, payload map[string]interface{}) {
	params, _ := payload["params"].(map[string]interface{})

	for _, field := range metricFields {
		field.apply(sample, lookupMetric(payload, params, field.key))
	}
}

func lookupMetric(payload, params map[string]interface{}, key string) *float64 {
	keys := []string{key}
	if lower := strings.ToLower(key); lower != key {
		keys = append(keys, lower)
	}

	for _, k := range keys {
		if entry, ok := params[k].(map[string]interface{}); ok {
			if v, ok := toFloat(entry["value"]); ok {
				return &v
			}
		}
	}
	for _, k := range keys {
		if v, ok := toFloat(params[k]); ok {
			return &v
		}
	}
	for _, k := range keys {
		if v, ok := toFloat(payload[k]); ok {
			return &v
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// IdentifierString renders a string or numeric identifier. Anything else is empty.
func IdentifierString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}

// clampLimit bounds a caller supplied row count to [1, MaxListLimit].
// Zero or negative means def.
func clampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	if limit < 1 {
		return 1
	}
	return limit
}
