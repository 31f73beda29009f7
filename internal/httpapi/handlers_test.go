package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatcheck/internal/audit"
	"seatcheck/internal/auth"
	"seatcheck/internal/checkin"
	"seatcheck/internal/httpmiddleware"
	"seatcheck/internal/ledger/memory"
	"seatcheck/internal/roster"
)

const (
	signingKey = "test-key"
	issuer     = "seatcheck-test"
)

var nineAM = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type sinkPublisher struct{ *audit.Memory }

func (p sinkPublisher) Publish(ctx context.Context, evt audit.Event) error {
	_, err := p.InsertEvent(ctx, evt)
	return err
}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	events *audit.Memory
	now    time.Time
}

func newTestServer(t *testing.T, limiter *httpmiddleware.TokenBucket) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := &testServer{store: memory.New(), events: audit.NewMemory(), now: nineAM}
	clock := func() time.Time { return ts.now }
	lookup := roster.NewStatic(map[string][]string{"1001": {"S1", "S2"}})
	window := checkin.SessionWindow{Location: time.UTC, Start: 9 * time.Hour, LateAfter: 10 * time.Minute}
	coord := checkin.New(ts.store, lookup, window, checkin.Options{
		WaitingTTL: 5 * time.Minute,
		Publisher:  sinkPublisher{ts.events},
		Clock:      clock,
	})
	ts.router = NewRouter(Deps{
		Coordinator:   coord,
		Store:         ts.store,
		Events:        ts.events,
		Limiter:       limiter,
		Health:        map[string]HealthCheck{"redis": func(context.Context) bool { return true }},
		JWTSigningKey: signingKey,
		JWTIssuer:     issuer,
		DevTokens:     true,
		Clock:         clock,
	})
	return ts
}

func token(t *testing.T, studentID string, academies ...string) string {
	t.Helper()
	tok, err := auth.Issue(studentID, academies, issuer, signingKey, time.Hour)
	require.NoError(t, err)
	return tok.AccessToken
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestCheckInStatusCodes(t *testing.T) {
	ts := newTestServer(t, nil)
	s1 := token(t, "S1", "1001")
	s2 := token(t, "S2", "1001")
	s3 := token(t, "S3", "1001")

	tests := []struct {
		name    string
		tok     string
		payload any
		status  int
		outcome string
		reason  string
	}{
		{"seat confirmed", s1, gin.H{"payload": "room=12,seat=A3,academy=1001"}, http.StatusOK, "CONFIRMED", ""},
		{"seat rescan", s1, gin.H{"payload": "room=12,seat=A3,academy=1001"}, http.StatusOK, "CONFIRMED", "AlreadyCheckedIn"},
		{"seat taken", s2, gin.H{"payload": "room=12,seat=A3,academy=1001"}, http.StatusConflict, "REJECTED", "SeatTaken"},
		{"malformed", s2, gin.H{"payload": "room=12"}, http.StatusBadRequest, "REJECTED", "MalformedPayload"},
		{"not on roster", s3, gin.H{"payload": `{"academyNumber":"1001","students":["S1","S2"]}`}, http.StatusForbidden, "REJECTED", "NotOnRoster"},
		{"roster confirmed", s2, gin.H{"payload": `{"academyNumber":"1001","students":["S1","S2"]}`}, http.StatusOK, "CONFIRMED", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/v1/checkins", tt.tok, tt.payload)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode(t, w)
			assert.Equal(t, tt.outcome, body["outcome"])
			if tt.reason == "" {
				assert.NotContains(t, body, "reason")
			} else {
				assert.Equal(t, tt.reason, body["reason"])
			}
		})
	}
}

func TestCheckInRequiresTokenAndPayload(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/checkins", "", gin.H{"payload": "room=1,seat=1,academy=1001"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/checkins", token(t, "S1"), gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSeatReadAndRelease(t *testing.T) {
	ts := newTestServer(t, nil)
	s1 := token(t, "S1", "1001")
	path := "/v1/academies/1001/rooms/12/seats/A3"

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, s1, nil).Code)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/checkins", s1, gin.H{"payload": "room=12,seat=A3,academy=1001"}).Code)

	w := ts.do(t, http.MethodGet, path, s1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	occupant := decode(t, w)["occupant"].(map[string]any)
	assert.Equal(t, "S1", occupant["student_id"])

	seat := gin.H{"academy_id": "1001", "room": "12", "seat": "A3"}
	w = ts.do(t, http.MethodPost, "/v1/seats/release", token(t, "S2", "1001"), seat)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NotOccupant", decode(t, w)["result"])

	w = ts.do(t, http.MethodPost, "/v1/seats/release", s1, seat)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Released", decode(t, w)["result"])
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, s1, nil).Code)
}

func TestWaitingRoomEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	s1 := token(t, "S1", "1001")
	operator := token(t, "T1", "1001")
	outsider := token(t, "X1", "2002")

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/checkins", s1, gin.H{"payload": "room=12,seat=A3,academy=1001"}).Code)

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/v1/academies/1001/waiting", outsider, nil).Code)

	w := ts.do(t, http.MethodGet, "/v1/academies/1001/waiting", operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode(t, w)["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "S1", entries[0].(map[string]any)["student_id"])

	w = ts.do(t, http.MethodPost, "/v1/academies/1001/waiting/leave", operator, gin.H{"student_id": "S1"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Left", body["result"])
	assert.Equal(t, "PLACED", body["state"])

	w = ts.do(t, http.MethodPost, "/v1/academies/1001/waiting/leave", operator, gin.H{"student_id": "S1"})
	assert.Equal(t, "NotWaiting", decode(t, w)["result"])

	w = ts.do(t, http.MethodGet, "/v1/academies/1001/waiting", operator, nil)
	assert.Empty(t, decode(t, w)["entries"])
}

func TestWaitingEntryExpiresFromListing(t *testing.T) {
	ts := newTestServer(t, nil)
	s1 := token(t, "S1", "1001")
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/checkins", s1, gin.H{"payload": "room=12,seat=A3,academy=1001"}).Code)

	ts.now = nineAM.Add(5 * time.Minute)
	w := ts.do(t, http.MethodGet, "/v1/academies/1001/waiting", s1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["entries"])
}

func TestAttendanceEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	s1 := token(t, "S1", "1001")

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/attendance", s1, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/attendance?session=1001", s1, nil).Code)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/checkins", s1, gin.H{"payload": `{"academyNumber":"1001","students":["S1"]}`}).Code)

	w := ts.do(t, http.MethodGet, "/v1/attendance?session=1001", s1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode(t, w)["record"].(map[string]any)
	assert.Equal(t, "PRESENT", rec["status"])
	assert.Equal(t, "2026-03-02", rec["date"])

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/attendance?session=1001&date=2026-03-02", s1, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/attendance?session=1001&date=03/02", s1, nil).Code)
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	s1 := token(t, "S1", "1001")
	s2 := token(t, "S2")

	ts.do(t, http.MethodPost, "/v1/checkins", s1, gin.H{"payload": "room=12,seat=A3,academy=1001"})
	ts.do(t, http.MethodPost, "/v1/checkins", s2, gin.H{"payload": "room=12,seat=A3,academy=1001"})

	w := ts.do(t, http.MethodGet, "/v1/events", s2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode(t, w)["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "SeatTaken", events[0].(map[string]any)["reason"])

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/v1/events?student_id=S1", s2, nil).Code)

	w = ts.do(t, http.MethodGet, "/v1/events?academy_id=1001", s1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["events"], 2)
}

func TestCheckInRateLimited(t *testing.T) {
	ts := newTestServer(t, httpmiddleware.NewTokenBucket(1, 1))
	s1 := token(t, "S1", "1001")
	body := gin.H{"payload": `{"academyNumber":"1001","students":["S1"]}`}

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/checkins", s1, body).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodPost, "/v1/checkins", s1, body).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/checkins", token(t, "S2", "1001"), gin.H{"payload": `{"academyNumber":"1001","students":["S2"]}`}).Code)
}

func TestHealthzAndDevTokens(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["store"])
	assert.Equal(t, true, body["redis"])

	w = ts.do(t, http.MethodPost, "/v1/dev/tokens", "", gin.H{"student_id": "S1", "academies": []string{"1001"}})
	require.Equal(t, http.StatusCreated, w.Code)
	tok := decode(t, w)["access_token"].(string)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/attendance?session=1001", tok, nil).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		res  checkin.Result
		want int
	}{
		{checkin.Result{Outcome: checkin.Confirmed, Reason: checkin.AlreadyCheckedIn}, http.StatusOK},
		{checkin.Result{Outcome: checkin.Rejected, Reason: checkin.ServerError}, http.StatusServiceUnavailable},
		{checkin.Result{Outcome: checkin.Rejected, Reason: checkin.Timeout}, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.res), tt.res.Reason)
	}
}
