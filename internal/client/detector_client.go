package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"parking-service/internal/config"
)

var (
	// ErrDetectorUnavailable covers network failures, timeouts and 5xx from
	// the detection service. Callers are expected to degrade to stored state.
	ErrDetectorUnavailable = errors.New("detection service unavailable")
	// ErrDetection covers responses the service itself marked as failed.
	ErrDetection = errors.New("detection failed")
)

const (
	OccupancyStatusOccupied = "occupied"
	OccupancyStatusVacant   = "vacant"
)

type SlotRegion struct {
	SlotID      string       `json:"slot_id"`
	SlotNumber  int          `json:"slot_number"`
	Coordinates [][2]float64 `json:"coordinates"`
	FrameWidth  int          `json:"image_width"`
	FrameHeight int          `json:"image_height"`
}

type RegionVerdict struct {
	SlotID         string  `json:"slot_id"`
	SlotNumber     int     `json:"slot_number"`
	Status         string  `json:"status"`
	Confidence     float64 `json:"confidence"`
	OccupancyRatio float64 `json:"occupancy_ratio"`
}

type detectRequest struct {
	FrameRef  string       `json:"image_path"`
	Slots     []SlotRegion `json:"slots"`
	Threshold *float64     `json:"threshold,omitempty"`
}

type detectResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Results []RegionVerdict `json:"results"`
}

// DetectorClient talks to the external occupancy detection service.
type DetectorClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDetectorClient(cfg *config.Config) *DetectorClient {
	return &DetectorClient{
		baseURL: cfg.Detector.URL,
		httpClient: &http.Client{
			Timeout: cfg.Detector.DetectTimeout,
		},
	}
}

// HealthCheck reports whether the detection service answers at all.
// Never returns an error: an unreachable detector is just "not healthy".
func (c *DetectorClient) HealthCheck(ctx context.Context) bool {
	if c.baseURL == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Status == "healthy"
}

// Detect runs one batched occupancy pass over the given regions.
func (c *DetectorClient) Detect(ctx context.Context, frameRef string, regions []SlotRegion, threshold float64) ([]RegionVerdict, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: detector URL is not configured", ErrDetectorUnavailable)
	}
	if frameRef == "" {
		return nil, fmt.Errorf("%w: no frame reference", ErrDetection)
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("%w: no regions to detect", ErrDetection)
	}

	payload := detectRequest{
		FrameRef: frameRef,
		Slots:    regions,
	}
	if threshold > 0 {
		payload.Threshold = &threshold
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect-occupancy", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrDetectorUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrDetectorUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrDetection, resp.StatusCode, string(body))
	}

	var response detectResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrDetection, err)
	}
	if !response.Success {
		if response.Error == "" {
			response.Error = "detection service reported failure"
		}
		return nil, fmt.Errorf("%w: %s", ErrDetection, response.Error)
	}

	return response.Results, nil
}

// ProbeSource asks the detection service to open a capture source once.
// Used when an owner wires a camera up, before enabling detection.
func (c *DetectorClient) ProbeSource(ctx context.Context, source string) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: detector URL is not configured", ErrDetectorUnavailable)
	}

	raw, err := json.Marshal(map[string]string{"source": source})
	if err != nil {
		return fmt.Errorf("marshal probe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/test-camera", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrDetection, resp.StatusCode, string(body))
	}
	return nil
}
