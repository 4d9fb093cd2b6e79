package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MockTwitchServer creates a test server that mocks Twitch Helix and token endpoints.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users.
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data": []map[string]string{{"id": userID, "login": login}},
		})
	}
}

// MockBadge is one badge version served by the mock.
type MockBadge struct {
	SetID, Version, Title, Image string
}

func badgeSets(badges []MockBadge) []map[string]interface{} {
	order := []string{}
	sets := map[string][]map[string]string{}
	for _, b := range badges {
		if _, ok := sets[b.SetID]; !ok {
			order = append(order, b.SetID)
		}
		sets[b.SetID] = append(sets[b.SetID], map[string]string{
			"id":           b.Version,
			"title":        b.Title,
			"image_url_1x": b.Image,
			"image_url_2x": b.Image,
			"image_url_4x": b.Image,
		})
	}
	out := make([]map[string]interface{}, 0, len(order))
	for _, id := range order {
		out = append(out, map[string]interface{}{"set_id": id, "versions": sets[id]})
	}
	return out
}

// MockGlobalBadgesResponse adds a handler for /helix/chat/badges/global.
func (m *MockTwitchServer) MockGlobalBadgesResponse(badges []MockBadge) {
	m.Handlers["/helix/chat/badges/global"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": badgeSets(badges)})
	}
}

// MockChannelBadgesResponse adds a handler for /helix/chat/badges keyed by broadcaster_id.
func (m *MockTwitchServer) MockChannelBadgesResponse(byBroadcaster map[string][]MockBadge) {
	m.Handlers["/helix/chat/badges"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": badgeSets(byBroadcaster[r.URL.Query().Get("broadcaster_id")])})
	}
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}
