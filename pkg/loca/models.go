package loca

import (
	"strings"
	"time"
)

// LocationSource indicates how a fix was obtained.
const (
	SourceGPS       = "GPS"
	SourceCellTower = "Cell Tower"
)

// AssetInfo carries static metadata about a tracked asset.
type AssetInfo struct {
	Brand     string `json:"brand,omitempty"`
	Model     string `json:"model,omitempty"`
	Serial    string `json:"serial,omitempty"`
	Type      int    `json:"type"`
	GroupID   int    `json:"group_id"`
	GroupName string `json:"group_name,omitempty"`
}

// AssetRecord is one device's last known state. All fields except ID are
// optional and independently nullable: a nil field means the device did not
// report it, not that the device is unreachable.
type AssetRecord struct {
	ID             string     `json:"device_id"`
	Name           string     `json:"name"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	Speed          *float64   `json:"speed,omitempty"`
	BatteryLevel   *int       `json:"battery_level,omitempty"`
	GPSAccuracy    *int       `json:"gps_accuracy,omitempty"`
	Satellites     *int       `json:"satellites,omitempty"`
	SignalStrength *int       `json:"signal_strength,omitempty"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	Address        *string    `json:"address,omitempty"`
	LocationLabel  *string    `json:"location_label,omitempty"`
	LocationSource string     `json:"location_source,omitempty"`
	Asset          AssetInfo  `json:"asset_info"`
}

// HasCoordinates reports whether the record carries a usable GPS fix.
func (r *AssetRecord) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// GroupRecord is device-group metadata cached by the client.
type GroupRecord struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// Wire-level shapes for the StatusList endpoint. Numeric fields are decoded
// as `any` because the API emits them inconsistently as numbers or strings;
// the validators normalize them.
type statusEntry struct {
	Asset   assetWire    `json:"Asset"`
	History *historyWire `json:"History"`
	Spot    *spotWire    `json:"Spot"`
}

type assetWire struct {
	ID     any    `json:"id"`
	Label  string `json:"label"`
	Brand  string `json:"brand"`
	Model  string `json:"model"`
	Serial string `json:"serial"`
	Type   int    `json:"type"`
	Group  *int   `json:"group"`
}

type historyWire struct {
	Latitude   any `json:"latitude"`
	Longitude  any `json:"longitude"`
	Speed      any `json:"speed"`
	Charge     any `json:"charge"`
	Time       any `json:"time"`
	HDOP       any `json:"HDOP"`
	Satellites any `json:"SATU"`
	Strength   any `json:"strength"`
}

type spotWire struct {
	Origin  int    `json:"origin"`
	Label   string `json:"label"`
	Street  string `json:"street"`
	Number  string `json:"number"`
	City    string `json:"city"`
	Zipcode string `json:"zipcode"`
	Country string `json:"country"`
}

type statusListResponse struct {
	StatusList []statusEntry `json:"StatusList"`
}

type groupsResponse struct {
	Groups []GroupRecord `json:"groups"`
}

type loginResponse struct {
	User *struct {
		UserID   int    `json:"userid"`
		Username string `json:"username"`
	} `json:"user"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// formatAddress renders a Spot as a single line using Dutch postal
// conventions: "Street Number, Zipcode City, Country".
func (s *spotWire) formatAddress() string {
	var parts []string

	if s.Street != "" && s.Number != "" {
		parts = append(parts, s.Street+" "+s.Number)
	} else if s.Street != "" {
		parts = append(parts, s.Street)
	}

	var zipcodeCity []string
	if s.Zipcode != "" {
		zipcodeCity = append(zipcodeCity, s.Zipcode)
	}
	if s.City != "" {
		zipcodeCity = append(zipcodeCity, s.City)
	}
	if len(zipcodeCity) > 0 {
		parts = append(parts, strings.Join(zipcodeCity, " "))
	}

	if s.Country != "" {
		parts = append(parts, s.Country)
	}

	return strings.Join(parts, ", ")
}
