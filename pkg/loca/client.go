package loca

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

// API endpoints relative to the base URL.
const (
	EndpointLogin  = "Login.json"
	EndpointLogout = "Logout.json"
	EndpointStatus = "StatusList.json"
	EndpointGroups = "Groups.json"

	// DefaultBaseURL is the production Loca API.
	DefaultBaseURL = "https://api.loca.nl/v1"

	// DefaultTimeout bounds every request issued by the client.
	DefaultTimeout = 30 * time.Second
)

// Credentials holds the account secrets. They are never logged in full and
// never included in error messages.
type Credentials struct {
	APIKey   string
	Username string
	Password string
}

// Client communicates with the Loca API. It owns one lazily-created HTTP
// session, performs authentication, and classifies every failure into the
// closed error taxonomy before surfacing it.
type Client struct {
	baseURL     string
	credentials Credentials
	timeout     time.Duration
	logger      zerolog.Logger

	sessionMu     sync.Mutex
	session       atomic.Pointer[http.Client]
	authenticated atomic.Bool

	groups cmap.ConcurrentMap[string, string]
}

// NewClient creates a Client for the given base URL and credentials. An
// empty baseURL selects the production API; a zero timeout selects the
// default 30 seconds.
func NewClient(baseURL string, credentials Credentials, timeout time.Duration, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:     baseURL,
		credentials: credentials,
		timeout:     timeout,
		logger:      logger,
		groups:      cmap.New[string](),
	}
}

// HasCredentials reports whether all required credentials are set.
func (c *Client) HasCredentials() bool {
	return c.credentials.APIKey != "" && c.credentials.Username != "" && c.credentials.Password != ""
}

// IsAuthenticated reports whether the last authentication attempt succeeded
// and has not since been invalidated.
func (c *Client) IsAuthenticated() bool {
	return c.authenticated.Load()
}

// GroupsCacheSize returns the number of cached group records.
func (c *Client) GroupsCacheSize() int {
	return c.groups.Count()
}

// GroupName resolves a cached group label by id, or "" when unknown.
func (c *Client) GroupName(groupID int) string {
	name, _ := c.groups.Get(strconv.Itoa(groupID))
	return name
}

// getSession returns the shared HTTP session, creating it exactly once even
// under concurrent callers. The common case (session exists) stays
// lock-free; creation is serialized with a re-check under the lock.
func (c *Client) getSession() *http.Client {
	if session := c.session.Load(); session != nil {
		return session
	}

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if session := c.session.Load(); session != nil {
		return session
	}

	session := &http.Client{Timeout: c.timeout}
	c.session.Store(session)
	c.logger.Debug().Dur("timeout", c.timeout).Msg("Created API session")
	return session
}

// invalidateSession tears down the current session so the next call builds
// a fresh one. Used when the API rejects our authentication.
func (c *Client) invalidateSession() {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if session := c.session.Swap(nil); session != nil {
		session.CloseIdleConnections()
	}
	c.authenticated.Store(false)
}

// post issues one authenticated-context POST to endpoint and returns the
// raw body. All failures come back classified.
func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newAPIError(ErrKindProtocol, endpoint, 0, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newAPIError(ErrKindProtocol, endpoint, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.getSession().Do(req)
	if err != nil {
		return nil, classify(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		classified := classifyStatus(endpoint, resp.StatusCode)
		if IsAuthenticationError(classified) {
			c.invalidateSession()
		}
		return nil, classified
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(endpoint, err)
	}
	return data, nil
}

// Login authenticates with the API. Success is signalled by a user object
// in the response; a 200 without one means the credentials were rejected.
func (c *Client) Login(ctx context.Context) error {
	if !c.HasCredentials() {
		return newAPIError(ErrKindAuthentication, EndpointLogin, 0, nil)
	}

	data, err := c.post(ctx, EndpointLogin, map[string]string{
		"key":      c.credentials.APIKey,
		"username": c.credentials.Username,
		"password": c.credentials.Password,
	})
	if err != nil {
		c.authenticated.Store(false)
		return err
	}

	var login loginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		c.authenticated.Store(false)
		return newAPIError(ErrKindProtocol, EndpointLogin, 0, err)
	}

	if login.User == nil {
		c.authenticated.Store(false)
		c.logger.Warn().Str("endpoint", EndpointLogin).Msg("Authentication rejected by API")
		return newAPIError(ErrKindAuthentication, EndpointLogin, 0, nil)
	}

	c.authenticated.Store(true)
	c.logger.Info().Int("user_id", login.User.UserID).Msg("Authenticated with Loca API")
	return nil
}

// Logout ends the API session. Errors are reported but leave the client in
// a logged-out state either way.
func (c *Client) Logout(ctx context.Context) error {
	if !c.authenticated.Load() {
		return nil
	}

	_, err := c.post(ctx, EndpointLogout, map[string]string{"key": c.credentials.APIKey})
	c.authenticated.Store(false)
	if err != nil {
		return err
	}

	c.logger.Info().Msg("Logged out from Loca API")
	return nil
}

// ensureAuthenticated logs in when no valid authentication is held.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	if c.authenticated.Load() {
		return nil
	}
	return c.Login(ctx)
}

// FetchAssets retrieves the current status of every tracked asset. Each
// record is validated field by field; a malformed optional field is dropped
// to nil without failing the record or the fetch.
func (c *Client) FetchAssets(ctx context.Context) ([]AssetRecord, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	data, err := c.post(ctx, EndpointStatus, map[string]string{"key": c.credentials.APIKey})
	if err != nil {
		return nil, err
	}

	var status statusListResponse
	if err := json.Unmarshal(data, &status); err != nil {
		// Fallback: some deployments return the list without the wrapper.
		var entries []statusEntry
		if err2 := json.Unmarshal(data, &entries); err2 != nil {
			return nil, newAPIError(ErrKindProtocol, EndpointStatus, 0, err)
		}
		status.StatusList = entries
	}

	records := make([]AssetRecord, 0, len(status.StatusList))
	for _, entry := range status.StatusList {
		record, err := c.parseStatusEntry(entry)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Skipping status entry without usable identifier")
			continue
		}
		records = append(records, record)
	}

	c.logger.Debug().Int("count", len(records)).Msg("Fetched asset records")
	return records, nil
}

// FetchGroups retrieves the device groups and refreshes the group cache.
func (c *Client) FetchGroups(ctx context.Context) ([]GroupRecord, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	data, err := c.post(ctx, EndpointGroups, map[string]string{"key": c.credentials.APIKey})
	if err != nil {
		return nil, err
	}

	var groups groupsResponse
	if err := json.Unmarshal(data, &groups); err != nil {
		var list []GroupRecord
		if err2 := json.Unmarshal(data, &list); err2 != nil {
			return nil, newAPIError(ErrKindProtocol, EndpointGroups, 0, err)
		}
		groups.Groups = list
	}

	c.groups.Clear()
	for _, group := range groups.Groups {
		c.groups.Set(strconv.Itoa(group.ID), group.Label)
	}

	c.logger.Debug().Int("count", c.groups.Count()).Msg("Refreshed groups cache")
	return groups.Groups, nil
}

// parseStatusEntry converts one wire entry into an AssetRecord. Only the
// identifier is mandatory; every other field degrades to nil when invalid.
func (c *Client) parseStatusEntry(entry statusEntry) (AssetRecord, error) {
	deviceID, err := ParseDeviceID(entry.Asset.ID)
	if err != nil {
		return AssetRecord{}, err
	}

	name := entry.Asset.Label
	if name == "" {
		name = "Loca Device " + deviceID
	}

	record := AssetRecord{
		ID:   deviceID,
		Name: name,
		Asset: AssetInfo{
			Brand:  entry.Asset.Brand,
			Model:  entry.Asset.Model,
			Serial: entry.Asset.Serial,
			Type:   entry.Asset.Type,
		},
	}
	if entry.Asset.Group != nil {
		record.Asset.GroupID = *entry.Asset.Group
		record.Asset.GroupName = c.GroupName(*entry.Asset.Group)
	}

	if history := entry.History; history != nil {
		c.parseHistory(&record, history)
	}

	if spot := entry.Spot; spot != nil {
		record.LocationSource = SourceCellTower
		if spot.Origin == 1 {
			record.LocationSource = SourceGPS
		}
		if spot.Label != "" {
			label := spot.Label
			record.LocationLabel = &label
		}
		if address := spot.formatAddress(); address != "" {
			record.Address = &address
		}
	}

	return record, nil
}

// parseHistory fills the nullable measurement fields, absorbing per-field
// validation failures.
func (c *Client) parseHistory(record *AssetRecord, history *historyWire) {
	if history.Latitude != nil || history.Longitude != nil {
		if lat, lon, err := ParseCoordinates(history.Latitude, history.Longitude); err == nil {
			record.Latitude = &lat
			record.Longitude = &lon
		} else {
			c.fieldDropped(record.ID, err)
		}
	}
	if history.Speed != nil {
		if speed, err := ParseSpeed(history.Speed); err == nil {
			record.Speed = &speed
		} else {
			c.fieldDropped(record.ID, err)
		}
	}
	if history.Charge != nil {
		if level, err := ParseBatteryLevel(history.Charge); err == nil {
			record.BatteryLevel = &level
		} else {
			c.fieldDropped(record.ID, err)
		}
	}
	if history.Time != nil {
		if lastSeen, err := ParseTimestamp(history.Time); err == nil {
			record.LastSeen = &lastSeen
		} else {
			c.fieldDropped(record.ID, err)
		}
	}
	if history.HDOP != nil {
		if accuracy, err := ParseAccuracy(history.HDOP); err == nil {
			record.GPSAccuracy = &accuracy
		} else {
			c.fieldDropped(record.ID, err)
		}
	}
	if history.Satellites != nil {
		if satellites, err := ParseCount("satellites", history.Satellites); err == nil {
			record.Satellites = &satellites
		} else {
			c.fieldDropped(record.ID, err)
		}
	}
	if history.Strength != nil {
		if strength, err := ParseCount("signal_strength", history.Strength); err == nil {
			record.SignalStrength = &strength
		} else {
			c.fieldDropped(record.ID, err)
		}
	}
}

// fieldDropped records a single absorbed validation failure. Only the field
// name travels to the log, never the raw value.
func (c *Client) fieldDropped(deviceID string, err error) {
	field := "unknown"
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		field = valErr.Field
	}
	c.logger.Debug().Str("device_id", deviceID).Str("field", field).Msg("Dropped invalid field")
}

// Close releases the session, logging out first when authenticated.
func (c *Client) Close(ctx context.Context) error {
	var err error
	if c.authenticated.Load() {
		err = c.Logout(ctx)
	}
	c.invalidateSession()
	return err
}
