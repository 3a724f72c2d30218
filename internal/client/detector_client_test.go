package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parking-service/internal/config"
)

func newTestClient(url string) *DetectorClient {
	return NewDetectorClient(&config.Config{
		Detector: config.DetectorConfig{
			URL:           url,
			DetectTimeout: 2 * time.Second,
		},
	})
}

func testRegions() []SlotRegion {
	return []SlotRegion{
		{
			SlotID:      "a2b6f2a6-6f6a-4ba5-92d4-42f0cf1f5b61",
			SlotNumber:  1,
			Coordinates: [][2]float64{{0.1, 0.1}, {0.2, 0.1}, {0.2, 0.2}},
			FrameWidth:  1280,
			FrameHeight: 720,
		},
	}
}

func TestDetectorClientHealthCheck(t *testing.T) {
	t.Run("healthy service", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("path = %s, want /health", r.URL.Path)
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		}))
		defer server.Close()

		if !newTestClient(server.URL).HealthCheck(context.Background()) {
			t.Error("HealthCheck = false, want true")
		}
	})

	t.Run("unhealthy service", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
		}))
		defer server.Close()

		if newTestClient(server.URL).HealthCheck(context.Background()) {
			t.Error("HealthCheck = true, want false")
		}
	})

	t.Run("unreachable service", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		server.Close()

		if newTestClient(server.URL).HealthCheck(context.Background()) {
			t.Error("HealthCheck = true, want false")
		}
	})

	t.Run("unconfigured client", func(t *testing.T) {
		if newTestClient("").HealthCheck(context.Background()) {
			t.Error("HealthCheck = true, want false")
		}
	})
}

func TestDetectorClientDetect(t *testing.T) {
	t.Run("parses verdicts", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/detect-occupancy" {
				t.Errorf("path = %s, want /detect-occupancy", r.URL.Path)
			}

			var req struct {
				FrameRef  string       `json:"image_path"`
				Slots     []SlotRegion `json:"slots"`
				Threshold *float64     `json:"threshold"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if req.FrameRef != "frames/lot-1.jpg" {
				t.Errorf("image_path = %s", req.FrameRef)
			}
			if len(req.Slots) != 1 || req.Slots[0].FrameWidth != 1280 {
				t.Errorf("slots payload = %+v", req.Slots)
			}
			if req.Threshold == nil || *req.Threshold != 0.15 {
				t.Errorf("threshold = %v, want 0.15", req.Threshold)
			}

			json.NewEncoder(w).Encode(detectResponse{
				Success: true,
				Results: []RegionVerdict{
					{SlotID: req.Slots[0].SlotID, SlotNumber: 1, Status: OccupancyStatusOccupied, Confidence: 0.92, OccupancyRatio: 0.4},
				},
			})
		}))
		defer server.Close()

		verdicts, err := newTestClient(server.URL).Detect(context.Background(), "frames/lot-1.jpg", testRegions(), 0.15)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(verdicts) != 1 {
			t.Fatalf("verdicts = %d, want 1", len(verdicts))
		}
		if verdicts[0].Status != OccupancyStatusOccupied || verdicts[0].Confidence != 0.92 {
			t.Errorf("verdict = %+v", verdicts[0])
		}
	})

	t.Run("5xx means unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Detect(context.Background(), "frame.jpg", testRegions(), 0.15)
		if !errors.Is(err, ErrDetectorUnavailable) {
			t.Errorf("err = %v, want ErrDetectorUnavailable", err)
		}
	})

	t.Run("reported failure means detection error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(detectResponse{Success: false, Error: "could not open capture source"})
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Detect(context.Background(), "frame.jpg", testRegions(), 0.15)
		if !errors.Is(err, ErrDetection) {
			t.Errorf("err = %v, want ErrDetection", err)
		}
	})

	t.Run("connection refused means unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		server.Close()

		_, err := newTestClient(server.URL).Detect(context.Background(), "frame.jpg", testRegions(), 0.15)
		if !errors.Is(err, ErrDetectorUnavailable) {
			t.Errorf("err = %v, want ErrDetectorUnavailable", err)
		}
	})

	t.Run("empty region list is rejected", func(t *testing.T) {
		_, err := newTestClient("http://detector.local").Detect(context.Background(), "frame.jpg", nil, 0.15)
		if !errors.Is(err, ErrDetection) {
			t.Errorf("err = %v, want ErrDetection", err)
		}
	})
}

func TestDetectorClientProbeSource(t *testing.T) {
	t.Run("reachable source", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/test-camera" {
				t.Errorf("path = %s, want /test-camera", r.URL.Path)
			}
			var req map[string]string
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if req["source"] != "rtsp://cam.local/stream" {
				t.Errorf("source = %s", req["source"])
			}
			json.NewEncoder(w).Encode(map[string]bool{"success": true})
		}))
		defer server.Close()

		if err := newTestClient(server.URL).ProbeSource(context.Background(), "rtsp://cam.local/stream"); err != nil {
			t.Fatalf("ProbeSource: %v", err)
		}
	})

	t.Run("unreadable source", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))
		defer server.Close()

		err := newTestClient(server.URL).ProbeSource(context.Background(), "rtsp://cam.local/stream")
		if !errors.Is(err, ErrDetection) {
			t.Errorf("err = %v, want ErrDetection", err)
		}
	})
}
