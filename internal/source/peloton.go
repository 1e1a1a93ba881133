// Package source fetches workouts, summaries, and sample series from the Peloton API.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/ridesync/internal/domain"
)

// Client provides minimal interactions with the Peloton API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sessionID  string
	userID     string
}

// NewClient constructs a client with sane defaults.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Login authenticates against the Peloton API and stores the session for
// subsequent requests.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{
		"username_or_email": email,
		"password":          password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("peloton login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("peloton login failed (status=%d): %s", resp.StatusCode, data)
	}

	var payload struct {
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("peloton login: decode response: %w", err)
	}

	c.sessionID = payload.SessionID
	c.userID = payload.UserID
	return nil
}

// ListRecentActivityIDs returns the IDs of the n most recent workouts, newest first.
func (c *Client) ListRecentActivityIDs(ctx context.Context, n int) ([]string, error) {
	path := fmt.Sprintf("/api/user/%s/workouts?limit=%d&sort_by=-created", c.userID, n)

	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(payload.Data))
	for _, workout := range payload.Data {
		ids = append(ids, workout.ID)
	}
	return ids, nil
}

// GetActivity fetches the workout record for an activity.
func (c *Client) GetActivity(ctx context.Context, id string) (*domain.Activity, error) {
	var payload struct {
		ID        string `json:"id"`
		CreatedAt int64  `json:"created_at"`
		StartTime int64  `json:"start_time"`
		Name      string `json:"name"`
		Ride      struct {
			Title    string `json:"title"`
			Duration int    `json:"duration"`
		} `json:"ride"`
	}
	if err := c.get(ctx, "/api/workout/"+id, &payload); err != nil {
		return nil, err
	}

	start := payload.StartTime
	if start == 0 {
		start = payload.CreatedAt
	}
	title := payload.Ride.Title
	if title == "" {
		title = payload.Name
	}

	return &domain.Activity{
		ID:              payload.ID,
		Title:           title,
		StartTime:       time.Unix(start, 0).UTC(),
		DurationSeconds: payload.Ride.Duration,
	}, nil
}

// GetSummary fetches the aggregate metrics for an activity.
func (c *Client) GetSummary(ctx context.Context, id string) (*domain.ActivitySummary, error) {
	var payload struct {
		Distance     float64 `json:"distance"`
		Calories     float64 `json:"calories"`
		AvgHeartRate float64 `json:"avg_heart_rate"`
		MaxHeartRate float64 `json:"max_heart_rate"`
		AvgPower     float64 `json:"avg_power"`
		MaxPower     float64 `json:"max_power"`
		Elevation    float64 `json:"elevation"`
	}
	if err := c.get(ctx, "/api/workout/"+id+"/summary", &payload); err != nil {
		return nil, err
	}

	return &domain.ActivitySummary{
		DistanceMiles: payload.Distance,
		Calories:      payload.Calories,
		AvgHeartRate:  payload.AvgHeartRate,
		MaxHeartRate:  payload.MaxHeartRate,
		AvgWatts:      payload.AvgPower,
		MaxWatts:      payload.MaxPower,
		ElevationFeet: payload.Elevation,
	}, nil
}

// GetSampleSeries fetches the per-second performance graph for an activity.
// Metric channels the ride never reported stay nil in the returned series.
func (c *Client) GetSampleSeries(ctx context.Context, id string) (*domain.SampleSeries, error) {
	var payload struct {
		SecondsSincePedalingStart []int `json:"seconds_since_pedaling_start"`
		Metrics                   []struct {
			Slug   string    `json:"slug"`
			Values []float64 `json:"values"`
		} `json:"metrics"`
	}
	if err := c.get(ctx, "/api/workout/"+id+"/performance_graph?every_n=1", &payload); err != nil {
		return nil, err
	}

	series := &domain.SampleSeries{OffsetSeconds: payload.SecondsSincePedalingStart}
	for _, metric := range payload.Metrics {
		switch metric.Slug {
		case "heart_rate":
			series.HeartRate = metric.Values
		case "cadence":
			series.Cadence = metric.Values
		case "speed":
			series.SpeedKPH = metric.Values
		case "output":
			series.Watts = metric.Values
		case "resistance":
			series.Resistance = metric.Values
		case "latitude":
			series.Latitude = metric.Values
		case "longitude":
			series.Longitude = metric.Values
		}
	}
	return series, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: "peloton_session_id", Value: c.sessionID})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("peloton request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("peloton request %s failed (status=%d): %s", path, resp.StatusCode, data)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("peloton request %s: decode response: %w", path, err)
	}
	return nil
}
