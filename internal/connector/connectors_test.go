package connector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hubitatDevices = `{"devices":[
	{"id":12,"label":"Kiln Room Temp","status":"ACTIVE","battery":86.6,"lastActivity":"2026-03-14T09:25:00Z","attributes":{"temperature":72.5}},
	{"id":"13","name":"Vent Fan","status":"ACTIVE","lastActivity":"2026-03-14T08:00:00Z"},
	{"id":"14","label":"Door","status":"INACTIVE"}
]}`

func TestHubitat_ReadStatusNormalizes(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["/devices"] = hubitatDevices
	h := NewHubitat(ft.Transport(), 30*time.Minute, fixedClock)

	res, err := h.ReadStatus(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Devices, 3)
	assert.Equal(t, 3, res.RawCount)
	assert.Len(t, res.OutputHash, 64)
	assert.Len(t, res.RequestID, 32)

	temp := res.Devices[0]
	assert.Equal(t, "12", temp.ID)
	assert.True(t, temp.Online)
	require.NotNil(t, temp.BatteryPct)
	assert.Equal(t, 87, *temp.BatteryPct)
	assert.Equal(t, 72.5, temp.Attributes["temperature"])
	assert.NotContains(t, temp.Attributes, "stale")

	fan := res.Devices[1]
	assert.Equal(t, "Vent Fan", fan.Label)
	assert.False(t, fan.Online, "stale device must be forced offline")
	assert.Equal(t, true, fan.Attributes["stale"])
	assert.Nil(t, fan.BatteryPct)

	door := res.Devices[2]
	assert.False(t, door.Online)
	assert.NotContains(t, door.Attributes, "stale")
}

func TestHubitat_BadShape(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["/devices"] = `{"devices":"bad-shape"}`
	h := NewHubitat(ft.Transport(), time.Minute, fixedClock)

	_, err := h.ReadStatus(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeBadResponse))
	assert.False(t, IsRetryable(err))
}

func TestHubitat_WriteIntentNeverCallsTransport(t *testing.T) {
	ft := newFakeTransport()
	h := NewHubitat(ft.Transport(), time.Minute, fixedClock)

	_, err := h.Execute(context.Background(), ExecuteRequest{Intent: IntentWrite, Action: "switch.on"})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeReadOnlyViolation))
	assert.EqualValues(t, 0, ft.calls.Load())
}

func TestHubitat_TransportErrorClassified(t *testing.T) {
	ft := newFakeTransport()
	ft.errs["/devices"] = errors.New("401 unauthorized")
	h := NewHubitat(ft.Transport(), time.Minute, fixedClock)

	_, err := h.ReadStatus(context.Background(), nil)
	assert.True(t, IsCode(err, ErrCodeAuth))
}

func TestBackend_ExecuteWrite(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["/actions/batch.close"] = `{"result":{"batchId":"b-12","closed":true}}`
	b := NewBackend(ft.Transport(), time.Minute, fixedClock)

	res, err := b.Execute(context.Background(), ExecuteRequest{
		Intent: IntentWrite,
		Action: "batch.close",
		Input:  map[string]any{"batchId": "b-12"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, res.Output["closed"])
	assert.Empty(t, res.Devices)
	assert.Equal(t, http.MethodPost, ft.last.Method)
	assert.Equal(t, "/actions/batch.close", ft.last.Path)
}

func TestBackend_ReadStatus(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["/kilns"] = `{"kilns":[
		{"kilnId":"k1","displayName":"Big Skutt","state":"firing","lastSeenAt":"2026-03-14T09:29:00Z","tempF":1840},
		{"kilnId":"k2","displayName":"Test Kiln","state":"offline"}
	]}`
	b := NewBackend(ft.Transport(), time.Minute*10, fixedClock)

	res, err := b.ReadStatus(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.Len(t, res.Devices, 2)
	assert.True(t, res.Devices[0].Online)
	assert.Equal(t, 1840.0, res.Devices[0].Attributes["tempF"])
	assert.False(t, res.Devices[1].Online)
}

func TestBackend_MissingKilns(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["/kilns"] = `{}`
	b := NewBackend(ft.Transport(), time.Minute, fixedClock)

	_, err := b.ReadStatus(context.Background(), nil)
	assert.True(t, IsCode(err, ErrCodeBadResponse))
}

func TestHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/devices":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Write([]byte(`{"devices":[]}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	tr := HTTPTransport(srv.URL+"/", "tok", srv.Client())

	resp, err := tr(context.Background(), Request{Path: "/devices"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"devices":[]}`, string(resp.Body))

	_, err = tr(context.Background(), Request{Path: "/health"})
	require.Error(t, err)
	assert.Equal(t, "http 503 Service Unavailable", err.Error())
	assert.Equal(t, ErrCodeUnavailable, Classify("x", err).Code)
}

func TestBackend_Summary(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["/summary"] = `{"summary":{"openInvoices":4,"unpaidCents":12500,"note":"x"}}`
	b := NewBackend(ft.Transport(), time.Minute, fixedClock)

	got, err := b.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"openInvoices": 4, "unpaidCents": 12500}, got)
}

func TestBackend_SummaryMalformed(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["/summary"] = `{"rows":[]}`
	b := NewBackend(ft.Transport(), time.Minute, fixedClock)

	_, err := b.Summary(context.Background())
	assert.True(t, IsCode(err, ErrCodeBadResponse))
}
