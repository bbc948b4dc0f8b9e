package loca

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

var testCredentials = Credentials{
	APIKey:   "test-key",
	Username: "test-user",
	Password: "test-password",
}

// newTestServer builds an API stub speaking the Loca endpoint shapes.
func newTestServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for endpoint, handler := range handlers {
		mux.HandleFunc("/"+endpoint, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func loginOK(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte(`{"user":{"userid":42,"username":"test-user"}}`))
}

// TestClient_GetSession_Concurrent tests that concurrent first use creates
// exactly one session.
func TestClient_GetSession_Concurrent(t *testing.T) {
	client := NewClient("http://localhost", testCredentials, 0, zerolog.Nop())

	const callers = 50
	sessions := make([]*http.Client, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			sessions[i] = client.getSession()
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}

// TestClient_Login_Success tests a successful authentication handshake.
func TestClient_Login_Success(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: loginOK,
	})

	client := NewClient(server.URL, testCredentials, 0, zerolog.Nop())
	assert.True(t, client.HasCredentials())
	assert.False(t, client.IsAuthenticated())

	err := client.Login(context.Background())
	assert.NoError(t, err)
	assert.True(t, client.IsAuthenticated())
}

// TestClient_Login_RejectedWithoutUserObject tests that a 200 response
// lacking a user object counts as rejected credentials.
func TestClient_Login_RejectedWithoutUserObject(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"message":"invalid credentials"}`))
		},
	})

	client := NewClient(server.URL, testCredentials, 0, zerolog.Nop())
	err := client.Login(context.Background())
	assert.Error(t, err)
	assert.True(t, IsAuthenticationError(err))
	assert.False(t, client.IsAuthenticated())
}

// TestClient_Login_HTTPForbidden tests classification of a 403 from the
// login endpoint.
func TestClient_Login_HTTPForbidden(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})

	client := NewClient(server.URL, testCredentials, 0, zerolog.Nop())
	err := client.Login(context.Background())
	assert.True(t, IsAuthenticationError(err))
	assert.False(t, client.IsAuthenticated())
}

// TestClient_Login_MalformedBody tests classification of an unparseable
// login response.
func TestClient_Login_MalformedBody(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`<html>not json</html>`))
		},
	})

	client := NewClient(server.URL, testCredentials, 0, zerolog.Nop())
	err := client.Login(context.Background())
	assert.Equal(t, ErrKindProtocol, KindOf(err))
}

// TestClient_Login_MissingCredentials tests that login never leaves the
// process without complete credentials.
func TestClient_Login_MissingCredentials(t *testing.T) {
	client := NewClient("http://localhost", Credentials{APIKey: "only-key"}, 0, zerolog.Nop())
	assert.False(t, client.HasCredentials())

	err := client.Login(context.Background())
	assert.True(t, IsAuthenticationError(err))
}

// TestClient_FetchAssets_ParsesRecords tests a full fetch including the
// login-on-demand path and field validation.
func TestClient_FetchAssets_ParsesRecords(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: loginOK,
		EndpointStatus: func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"StatusList":[
				{
					"Asset":{"id":1042,"label":"Delivery Van","brand":"Loca","model":"T3","type":14,"group":7},
					"History":{"latitude":51.8727,"longitude":4.6021,"speed":12.5,"charge":87,"time":1700000000,"HDOP":3,"SATU":9,"strength":21},
					"Spot":{"origin":1,"street":"Brouwerstraat","number":"30","zipcode":"2984AR","city":"Ridderkerk","country":"Netherlands"}
				},
				{"Asset":{"id":1043,"label":"Bare Tracker"}}
			]}`))
		},
	})

	client := NewClient(server.URL, testCredentials, 0, zerolog.Nop())
	records, err := client.FetchAssets(context.Background())
	assert.NoError(t, err)
	assert.True(t, client.IsAuthenticated())
	assert.Len(t, records, 2)

	van := records[0]
	assert.Equal(t, "1042", van.ID)
	assert.Equal(t, "Delivery Van", van.Name)
	assert.Equal(t, 51.8727, *van.Latitude)
	assert.Equal(t, 4.6021, *van.Longitude)
	assert.Equal(t, 12.5, *van.Speed)
	assert.Equal(t, 87, *van.BatteryLevel)
	assert.Equal(t, SourceGPS, van.LocationSource)
	assert.Equal(t, "Brouwerstraat 30, 2984AR Ridderkerk, Netherlands", *van.Address)
	assert.True(t, van.LastSeen.Equal(time.Unix(1700000000, 0)))

	// A device reporting nothing but its identifier still yields a record.
	bare := records[1]
	assert.Equal(t, "1043", bare.ID)
	assert.Nil(t, bare.Latitude)
	assert.Nil(t, bare.Longitude)
	assert.Nil(t, bare.BatteryLevel)
	assert.Nil(t, bare.LastSeen)
}

// TestClient_FetchAssets_AbsorbsInvalidField tests that one malformed
// coordinate drops just that field, not the record or the fetch.
func TestClient_FetchAssets_AbsorbsInvalidField(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: loginOK,
		EndpointStatus: func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"StatusList":[
				{"Asset":{"id":1042},"History":{"latitude":"not-a-number","longitude":4.6021,"charge":55}}
			]}`))
		},
	})

	client := NewClient(server.URL, testCredentials, 0, zerolog.Nop())
	records, err := client.FetchAssets(context.Background())
	assert.NoError(t, err)
	assert.Len(t, records, 1)

	record := records[0]
	assert.Nil(t, record.Latitude)
	assert.Nil(t, record.Longitude)
	assert.Equal(t, 55, *record.BatteryLevel)
}

// TestClient_FetchAssets_Throttled tests classification of a 503 from the
// status endpoint.
func TestClient_FetchAssets_Throttled(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: loginOK,
		EndpointStatus: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})

	client := NewClient(server.URL, testCredentials, 0, zerolog.Nop())
	_, err := client.FetchAssets(context.Background())
	assert.Equal(t, ErrKindThrottled, KindOf(err))
}

// TestClient_FetchAssets_Timeout tests that a slow endpoint surfaces as a
// timeout classification.
func TestClient_FetchAssets_Timeout(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: loginOK,
		EndpointStatus: func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(300 * time.Millisecond)
			w.Write([]byte(`{"StatusList":[]}`))
		},
	})

	client := NewClient(server.URL, testCredentials, 50*time.Millisecond, zerolog.Nop())
	_, err := client.FetchAssets(context.Background())
	assert.Equal(t, ErrKindTimeout, KindOf(err))
}

// TestClient_FetchAssets_AuthRejectionInvalidatesSession tests that a 401
// mid-session drops the authenticated state.
func TestClient_FetchAssets_AuthRejectionInvalidatesSession(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: loginOK,
		EndpointStatus: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
	})

	client := NewClient(server.URL, testCredentials, 0, zerolog.Nop())
	_, err := client.FetchAssets(context.Background())
	assert.True(t, IsAuthenticationError(err))
	assert.False(t, client.IsAuthenticated())
}

// TestClient_FetchGroups_RefreshesCache tests group caching and the
// exposed cache size.
func TestClient_FetchGroups_RefreshesCache(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: loginOK,
		EndpointGroups: func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"groups":[{"id":7,"label":"Fleet"},{"id":9,"label":"Trailers"}]}`))
		},
	})

	client := NewClient(server.URL, testCredentials, 0, zerolog.Nop())
	assert.Equal(t, 0, client.GroupsCacheSize())

	groups, err := client.FetchGroups(context.Background())
	assert.NoError(t, err)
	assert.Len(t, groups, 2)
	assert.Equal(t, 2, client.GroupsCacheSize())
	assert.Equal(t, "Fleet", client.GroupName(7))
	assert.Equal(t, "", client.GroupName(99))
}

// TestClient_Close_LogsOut tests that Close ends the session and clears
// the authenticated state.
func TestClient_Close_LogsOut(t *testing.T) {
	var loggedOut bool
	server := newTestServer(t, map[string]http.HandlerFunc{
		EndpointLogin: loginOK,
		EndpointLogout: func(w http.ResponseWriter, _ *http.Request) {
			loggedOut = true
			w.Write([]byte(`{"status":"ok"}`))
		},
	})

	client := NewClient(server.URL, testCredentials, 0, zerolog.Nop())
	assert.NoError(t, client.Login(context.Background()))

	assert.NoError(t, client.Close(context.Background()))
	assert.True(t, loggedOut)
	assert.False(t, client.IsAuthenticated())
}
