package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nerrad567/sensorflash-core/internal/firmware"
	"github.com/nerrad567/sensorflash-core/internal/flasher"
	"github.com/nerrad567/sensorflash-core/internal/history"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/config"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensorflash-core/internal/serialport"
)

// fakeController is a scriptable SessionController.
type fakeController struct {
	status flasher.SessionStatus
	events []flasher.LogEvent

	flashErr      error
	flashStatus   *flasher.SessionStatus
	monitorErr    error
	stopErr       error
	disconnectErr error

	flashed      []flasher.FlashRequest
	monitorPorts []string
	stops        int
	disconnects  int
}

func (f *fakeController) Flash(_ context.Context, req flasher.FlashRequest) (*flasher.SessionStatus, error) {
	f.flashed = append(f.flashed, req)
	return f.flashStatus, f.flashErr
}

func (f *fakeController) StartMonitor(portPath string) error {
	f.monitorPorts = append(f.monitorPorts, portPath)
	return f.monitorErr
}

func (f *fakeController) StopMonitor() error {
	f.stops++
	return f.stopErr
}

func (f *fakeController) Disconnect() error {
	f.disconnects++
	return f.disconnectErr
}

func (f *fakeController) Status() flasher.SessionStatus { return f.status }
func (f *fakeController) Events() []flasher.LogEvent    { return f.events }

// fakeCompiler records compile requests and returns a canned result.
type fakeCompiler struct {
	result *firmware.CompileResult
	err    error
	calls  []firmware.DeviceConfig
}

func (f *fakeCompiler) Compile(_ context.Context, cfg firmware.DeviceConfig) (*firmware.CompileResult, error) {
	f.calls = append(f.calls, cfg)
	return f.result, f.err
}

// fakeLister returns a fixed port list.
type fakeLister struct {
	ports []serialport.PortInfo
}

func (f *fakeLister) List() []serialport.PortInfo { return f.ports }

// fakeHistory is a scriptable HistoryStore.
type fakeHistory struct {
	listResult *history.ListResult
	listErr    error
	getSession *history.Session
	getEvents  []history.Event
	getErr     error
	lastFilter history.Filter
}

func (f *fakeHistory) List(_ context.Context, filter history.Filter) (*history.ListResult, error) {
	f.lastFilter = filter
	return f.listResult, f.listErr
}

func (f *fakeHistory) Get(_ context.Context, _ string) (*history.Session, []history.Event, error) {
	return f.getSession, f.getEvents, f.getErr
}

type serverFixture struct {
	server     *httptest.Server
	controller *fakeController
	compiler   *fakeCompiler
	historyDB  *fakeHistory
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	controller := &fakeController{
		status: flasher.SessionStatus{State: flasher.StateIdle},
	}
	compiler := &fakeCompiler{
		result: &firmware.CompileResult{
			FirmwareVersion: "1.4.2",
			FlashFiles: []firmware.FlashFile{
				{Data: firmware.PayloadFromBytes([]byte{0xE9, 0x01}), Address: 0},
			},
		},
	}
	historyDB := &fakeHistory{
		listResult: &history.ListResult{Sessions: []history.Session{}, Limit: 50},
	}

	s, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   logging.Default(),
		Sessions: controller,
		Compiler: compiler,
		Ports: &fakeLister{ports: []serialport.PortInfo{
			{Path: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60", SerialNumber: "0001"},
		}},
		History: historyDB,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.hub = NewHub(s.wsCfg, s.logger)

	srv := httptest.NewServer(s.buildRouter())
	t.Cleanup(srv.Close)

	return &serverFixture{server: srv, controller: controller, compiler: compiler, historyDB: historyDB}
}

func (f *serverFixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshalling request: %v", err)
	}
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (f *serverFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t)

	resp := f.get(t, "/api/v1/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestFlash_CompilesWhenNoFiles(t *testing.T) {
	f := newServerFixture(t)
	f.controller.flashStatus = &flasher.SessionStatus{
		SessionID: "ses-1234", State: flasher.StateCompleted, Progress: 100,
	}

	resp := f.post(t, "/api/v1/flash", FlashRequest{
		Port:   "/dev/ttyUSB0",
		Device: firmware.DeviceConfig{DeviceID: "esp-lab-01", Platform: "esp8266"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if len(f.compiler.calls) != 1 {
		t.Fatalf("compiler calls = %d, want 1", len(f.compiler.calls))
	}
	if len(f.controller.flashed) != 1 {
		t.Fatalf("flash calls = %d, want 1", len(f.controller.flashed))
	}
	req := f.controller.flashed[0]
	if req.FirmwareVersion != "1.4.2" || len(req.Files) != 1 {
		t.Errorf("flash request = %+v", req)
	}

	status := decodeBody[flasher.SessionStatus](t, resp)
	if status.State != flasher.StateCompleted || status.Progress != 100 {
		t.Errorf("status = %+v", status)
	}
}

func TestFlash_PrecompiledFilesSkipCompile(t *testing.T) {
	f := newServerFixture(t)
	f.controller.flashStatus = &flasher.SessionStatus{State: flasher.StateCompleted}

	resp := f.post(t, "/api/v1/flash", FlashRequest{
		Port:            "/dev/ttyUSB0",
		Device:          firmware.DeviceConfig{DeviceID: "esp-lab-01"},
		FirmwareVersion: "0.9.0",
		Files: []firmware.FlashFile{
			{Data: firmware.PayloadFromBytes([]byte{0xE9}), Address: 0x1000},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(f.compiler.calls) != 0 {
		t.Errorf("compiler calls = %d, want 0", len(f.compiler.calls))
	}
	if f.controller.flashed[0].FirmwareVersion != "0.9.0" {
		t.Errorf("firmware version = %q", f.controller.flashed[0].FirmwareVersion)
	}
}

func TestFlash_Validation(t *testing.T) {
	f := newServerFixture(t)

	tests := []struct {
		name string
		body FlashRequest
	}{
		{"missing port", FlashRequest{Device: firmware.DeviceConfig{DeviceID: "x"}}},
		{"missing device id", FlashRequest{Port: "/dev/ttyUSB0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, "/api/v1/flash", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	if len(f.controller.flashed) != 0 {
		t.Errorf("flash calls = %d, want 0", len(f.controller.flashed))
	}
}

func TestFlash_ActiveSessionConflict(t *testing.T) {
	f := newServerFixture(t)
	f.controller.flashErr = fmt.Errorf("%w: session ses-aaaa is %s", flasher.ErrSessionActive, flasher.StateWriting)

	resp := f.post(t, "/api/v1/flash", FlashRequest{
		Port:   "/dev/ttyUSB0",
		Device: firmware.DeviceConfig{DeviceID: "esp-lab-01"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestFlash_FailedSessionStillReturnsStatus(t *testing.T) {
	f := newServerFixture(t)
	f.controller.flashStatus = &flasher.SessionStatus{
		State: flasher.StateFailed, Error: "stub verification failed",
	}
	f.controller.flashErr = flasher.ErrStubVerification

	resp := f.post(t, "/api/v1/flash", FlashRequest{
		Port:   "/dev/ttyUSB0",
		Device: firmware.DeviceConfig{DeviceID: "esp-lab-01"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (session ran, outcome in body)", resp.StatusCode)
	}
	status := decodeBody[flasher.SessionStatus](t, resp)
	if status.State != flasher.StateFailed || status.Error == "" {
		t.Errorf("status = %+v", status)
	}
}

func TestFlash_CompileFailure(t *testing.T) {
	f := newServerFixture(t)
	f.compiler.result = nil
	f.compiler.err = errors.New("compile service: build error")

	resp := f.post(t, "/api/v1/flash", FlashRequest{
		Port:   "/dev/ttyUSB0",
		Device: firmware.DeviceConfig{DeviceID: "esp-lab-01"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if len(f.controller.flashed) != 0 {
		t.Errorf("flash calls = %d, want 0 after compile failure", len(f.controller.flashed))
	}
}

func TestMonitor_StartAndStop(t *testing.T) {
	f := newServerFixture(t)

	resp := f.post(t, "/api/v1/monitor/start", MonitorRequest{Port: "/dev/ttyUSB0"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}
	if len(f.controller.monitorPorts) != 1 || f.controller.monitorPorts[0] != "/dev/ttyUSB0" {
		t.Errorf("monitor ports = %v", f.controller.monitorPorts)
	}

	resp = f.post(t, "/api/v1/monitor/stop", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}
	if f.controller.stops != 1 {
		t.Errorf("stops = %d, want 1", f.controller.stops)
	}
}

func TestMonitor_ConflictWhileFlashing(t *testing.T) {
	f := newServerFixture(t)
	f.controller.monitorErr = fmt.Errorf("%w: cannot monitor while writing", flasher.ErrInvalidState)

	resp := f.post(t, "/api/v1/monitor/start", MonitorRequest{Port: "/dev/ttyUSB0"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestMonitor_StopWithoutSession(t *testing.T) {
	f := newServerFixture(t)
	f.controller.stopErr = flasher.ErrNoSession

	resp := f.post(t, "/api/v1/monitor/stop", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestDisconnect(t *testing.T) {
	f := newServerFixture(t)

	resp := f.post(t, "/api/v1/disconnect", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if f.controller.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", f.controller.disconnects)
	}

	f.controller.disconnectErr = flasher.ErrNoSession
	resp = f.post(t, "/api/v1/disconnect", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 when idle", resp.StatusCode)
	}
}

func TestGetSession(t *testing.T) {
	f := newServerFixture(t)
	f.controller.status = flasher.SessionStatus{
		SessionID: "ses-beef", State: flasher.StateWriting, Progress: 72.5,
	}
	f.controller.events = []flasher.LogEvent{
		{Severity: flasher.SeverityInfo, Message: "writing firmware"},
	}

	resp := f.get(t, "/api/v1/session")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[SessionResponse](t, resp)
	if body.SessionID != "ses-beef" || body.Progress != 72.5 {
		t.Errorf("session = %+v", body.SessionStatus)
	}
	if len(body.Events) != 1 {
		t.Errorf("events = %d, want 1", len(body.Events))
	}
}

func TestListPorts(t *testing.T) {
	f := newServerFixture(t)

	resp := f.get(t, "/api/v1/ports")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[struct {
		Ports []PortResponse `json:"ports"`
		Count int            `json:"count"`
	}](t, resp)
	if body.Count != 1 || len(body.Ports) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.Ports[0].Path != "/dev/ttyUSB0" || body.Ports[0].VID != "10C4" {
		t.Errorf("port = %+v", body.Ports[0])
	}
}

func TestHistory_ListPassesFilters(t *testing.T) {
	f := newServerFixture(t)

	resp := f.get(t, "/api/v1/history/sessions?outcome=failed&port=/dev/ttyUSB0&limit=10&offset=20")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got := f.historyDB.lastFilter
	if got.Outcome != "failed" || got.Port != "/dev/ttyUSB0" || got.Limit != 10 || got.Offset != 20 {
		t.Errorf("filter = %+v", got)
	}
}

func TestHistory_GetNotFound(t *testing.T) {
	f := newServerFixture(t)
	f.historyDB.getErr = fmt.Errorf("%w: ses-missing", history.ErrNotFound)

	resp := f.get(t, "/api/v1/history/sessions/ses-missing")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHistory_BadPagination(t *testing.T) {
	f := newServerFixture(t)

	resp := f.get(t, "/api/v1/history/sessions?limit=abc")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Sessions: &fakeController{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without session controller should fail")
	}
}
