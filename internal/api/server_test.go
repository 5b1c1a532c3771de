package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/junction/internal/config"
	"github.com/banshee-data/junction/internal/controller"
	"github.com/banshee-data/junction/internal/monitoring"
	"github.com/banshee-data/junction/internal/perception"
	"github.com/banshee-data/junction/internal/telemetry"
	"github.com/banshee-data/junction/internal/timeutil"
	"github.com/banshee-data/junction/internal/traffic"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeJunction struct {
	report    controller.Report
	submitted []string
	submitErr error
	lampErr   error
	lamps     []string
}

func (f *fakeJunction) Report() controller.Report { return f.report }

func (f *fakeJunction) Submit(raw string) (traffic.Command, error) {
	cmd, err := traffic.ParseCommand(raw)
	if err != nil {
		return cmd, err
	}
	if f.submitErr != nil {
		return cmd, f.submitErr
	}
	f.submitted = append(f.submitted, cmd.String())
	return cmd, nil
}

func (f *fakeJunction) LampTest(d traffic.Direction, c traffic.Color) error {
	if f.lampErr != nil {
		return f.lampErr
	}
	f.lamps = append(f.lamps, d.String()+"/"+c.String())
	return nil
}

func (f *fakeJunction) Config() *config.Config { return config.Empty().Resolved() }

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var doc map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc), rec.Body.String())
	}
	return rec, doc
}

func TestStatus(t *testing.T) {
	f := &fakeJunction{report: controller.Report{Mode: traffic.Manual, Hold: true, Timer: 3}}
	mux := NewServer(f).ServeMux()

	rec, doc := do(t, mux, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "MANUAL", doc["mode"])
	assert.Equal(t, true, doc["hold"])

	rec, _ = do(t, mux, http.MethodPost, "/api/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConfig(t *testing.T) {
	mux := NewServer(&fakeJunction{}).ServeMux()
	rec, doc := do(t, mux, http.MethodGet, "/api/config", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4s", doc["yellow"])
	assert.Equal(t, float64(640), doc["frame_width"])
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		submitErr error
		wantCode  int
		wantAck   string
	}{
		{name: "force", body: `{"command":"force_north"}`, wantCode: http.StatusAccepted, wantAck: "force_north"},
		{name: "case insensitive", body: `{"command":"STOP_ALL"}`, wantCode: http.StatusAccepted, wantAck: "stop_all"},
		{name: "unknown command", body: `{"command":"dance"}`, wantCode: http.StatusBadRequest},
		{name: "unknown direction", body: `{"command":"force_up"}`, wantCode: http.StatusBadRequest},
		{name: "unknown field", body: `{"cmd":"auto"}`, wantCode: http.StatusBadRequest},
		{name: "malformed", body: `{`, wantCode: http.StatusBadRequest},
		{name: "queue full", body: `{"command":"auto"}`, submitErr: telemetry.ErrQueueFull, wantCode: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeJunction{submitErr: tt.submitErr}
			rec, doc := do(t, NewServer(f).ServeMux(), http.MethodPost, "/api/command", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantAck != "" {
				assert.Equal(t, tt.wantAck, doc["ack"])
				assert.Equal(t, []string{tt.wantAck}, f.submitted)
			} else {
				assert.NotEmpty(t, doc["error"])
				assert.Empty(t, f.submitted)
			}
		})
	}
}

func TestLampTest(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		lampErr  error
		wantCode int
	}{
		{name: "ok", body: `{"direction":"east","color":"yellow"}`, wantCode: http.StatusOK},
		{name: "unknown direction", body: `{"direction":"up","color":"green"}`, wantCode: http.StatusBadRequest},
		{name: "unknown color", body: `{"direction":"east","color":"blue"}`, wantCode: http.StatusBadRequest},
		{name: "not held", body: `{"direction":"east","color":"green"}`, lampErr: controller.ErrNotInSafetyHold, wantCode: http.StatusConflict},
		{name: "link failure", body: `{"direction":"east","color":"green"}`, lampErr: errors.New("boom"), wantCode: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeJunction{lampErr: tt.lampErr}
			rec, _ := do(t, NewServer(f).ServeMux(), http.MethodPost, "/api/lamp_test", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, []string{"east/YELLOW"}, f.lamps)
			} else {
				assert.Empty(t, f.lamps)
			}
		})
	}
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var logged bool
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logged = true
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.True(t, logged)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, statusCodeColor(http.StatusTeapot), "418")
}

func TestAgainstController(t *testing.T) {
	detector := perception.DetectorFunc(func(_ context.Context, batch []perception.Input) ([][]perception.Detection, error) {
		return make([][]perception.Detection, len(batch)), nil
	})
	c, err := controller.New(config.Empty(), controller.Deps{
		Clock:    timeutil.NewMockClock(time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)),
		Detector: detector,
	})
	require.NoError(t, err)
	mux := NewServer(c).ServeMux()

	rec, _ := do(t, mux, http.MethodPost, "/api/lamp_test", `{"direction":"west","color":"green"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, mux, http.MethodPost, "/api/command", `{"command":"stop_all"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	c.Step()

	rec, doc := do(t, mux, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MANUAL", doc["mode"])
	assert.Equal(t, "RED_PHASE", doc["state"])

	rec, _ = do(t, mux, http.MethodPost, "/api/lamp_test", `{"direction":"west","color":"green"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
