package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServerClient(handler http.HandlerFunc) (*httptest.Server, *Client) {
	srv := httptest.NewServer(handler)
	c := NewClient(ClientOptions{
		Endpoint: srv.URL,
		APIKey:   "reg-key",
		Timeout:  5 * time.Second,
	})
	return srv, c
}

func TestClient_CreateDevice(t *testing.T) {
	srv, c := newTestServerClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/devices" {
			t.Errorf("request = %s %s, want POST /api/devices", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer reg-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
	})
	defer srv.Close()

	err := c.CreateDevice(context.Background(), Device{ID: "esp-01", Platform: "esp8266"})
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
}

func TestClient_ConflictIsSuccess(t *testing.T) {
	srv, c := newTestServerClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"device already exists"}`, http.StatusConflict)
	})
	defer srv.Close()

	if err := c.CreateDevice(context.Background(), Device{ID: "esp-01"}); err != nil {
		t.Errorf("CreateDevice() conflict error = %v, want nil", err)
	}
	if err := c.CreateSensor(context.Background(), Sensor{DeviceID: "esp-01"}); err != nil {
		t.Errorf("CreateSensor() conflict error = %v, want nil", err)
	}
	if err := c.CreateLocation(context.Background(), "lab"); err != nil {
		t.Errorf("CreateLocation() conflict error = %v, want nil", err)
	}
}

func TestClient_ServerErrorWrapped(t *testing.T) {
	srv, c := newTestServerClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	defer srv.Close()

	err := c.CreateDevice(context.Background(), Device{ID: "esp-01"})
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("CreateDevice() error = %v, want ErrRequestFailed", err)
	}
}

func TestClient_ListSensorTypes(t *testing.T) {
	srv, c := newTestServerClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sensor-types" {
			t.Errorf("path = %s, want /api/sensor-types", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"st-1","slug":"temperature","name":"Temperature"}]`))
	})
	defer srv.Close()

	types, err := c.ListSensorTypes(context.Background())
	if err != nil {
		t.Fatalf("ListSensorTypes() error = %v", err)
	}
	if len(types) != 1 || types[0].Slug != "temperature" {
		t.Errorf("types = %+v", types)
	}
}
