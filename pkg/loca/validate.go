package loca

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Coordinate bounds for GPS fields.
const (
	minLatitude  = -90.0
	maxLatitude  = 90.0
	minLongitude = -180.0
	maxLongitude = 180.0
)

// ParseFloat converts an untrusted payload value (JSON number or string)
// into a float64.
func ParseFloat(field string, v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, &ValidationError{Field: field, Reason: "not a number"}
		}
		return f, nil
	case nil:
		return 0, &ValidationError{Field: field, Reason: "missing"}
	default:
		return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}

// ParseCoordinates validates a latitude/longitude pair from the payload.
// Both values must parse and fall inside the WGS84 ranges.
func ParseCoordinates(latRaw, lonRaw any) (float64, float64, error) {
	lat, err := ParseFloat("latitude", latRaw)
	if err != nil {
		return 0, 0, err
	}
	lon, err := ParseFloat("longitude", lonRaw)
	if err != nil {
		return 0, 0, err
	}
	if math.IsNaN(lat) || lat < minLatitude || lat > maxLatitude {
		return 0, 0, &ValidationError{Field: "latitude", Reason: fmt.Sprintf("%v out of range", lat)}
	}
	if math.IsNaN(lon) || lon < minLongitude || lon > maxLongitude {
		return 0, 0, &ValidationError{Field: "longitude", Reason: fmt.Sprintf("%v out of range", lon)}
	}
	return lat, lon, nil
}

// ParseBatteryLevel validates a battery percentage, clamping to 0-100.
func ParseBatteryLevel(v any) (int, error) {
	f, err := ParseFloat("battery_level", v)
	if err != nil {
		return 0, err
	}
	level := int(f)
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}
	return level, nil
}

// ParseSpeed validates a speed value. Negative readings are rejected.
func ParseSpeed(v any) (float64, error) {
	f, err := ParseFloat("speed", v)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, &ValidationError{Field: "speed", Reason: "negative"}
	}
	return f, nil
}

// ParseAccuracy validates a GPS accuracy value in meters, enforcing a
// positive result.
func ParseAccuracy(v any) (int, error) {
	f, err := ParseFloat("gps_accuracy", v)
	if err != nil {
		return 0, err
	}
	acc := int(f)
	if acc < 1 {
		acc = 1
	}
	return acc, nil
}

// ParseCount validates a non-negative integer field such as a satellite
// count or signal strength.
func ParseCount(field string, v any) (int, error) {
	f, err := ParseFloat(field, v)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, &ValidationError{Field: field, Reason: "negative"}
	}
	return int(f), nil
}

// isoLayouts are the ISO-8601 shapes the Loca API has been observed to emit
// for timestamps without a numeric epoch.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp normalizes a last-seen value to a UTC instant. The API
// emits either Unix-epoch seconds (number or digit string) or an ISO-8601
// string; both forms must land on the same instant.
func ParseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case float64:
		return time.Unix(int64(val), 0).UTC(), nil
	case int:
		return time.Unix(int64(val), 0).UTC(), nil
	case int64:
		return time.Unix(val, 0).UTC(), nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, &ValidationError{Field: "timestamp", Reason: "empty"}
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(epoch, 0).UTC(), nil
		}
		for _, layout := range isoLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: "unrecognized format"}
	case nil:
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: "missing"}
	default:
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}

// ParseDeviceID validates a device identifier. Identifiers arrive as
// numbers or strings and must be non-blank.
func ParseDeviceID(v any) (string, error) {
	switch val := v.(type) {
	case string:
		id := strings.TrimSpace(val)
		if id == "" {
			return "", &ValidationError{Field: "device_id", Reason: "blank"}
		}
		return id, nil
	case float64:
		return strconv.FormatInt(int64(val), 10), nil
	case int:
		return strconv.Itoa(val), nil
	case nil:
		return "", &ValidationError{Field: "device_id", Reason: "missing"}
	default:
		return "", &ValidationError{Field: "device_id", Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}
