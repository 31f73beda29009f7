package rosterclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"seatcheck/internal/roster"
)

// Client calls the roster service that owns enrollments.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with a bounded per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// GetEnrolledStudents implements roster.Lookup via GET /academies/{id}/students.
func (c *Client) GetEnrolledStudents(ctx context.Context, academyID string) ([]string, error) {
	if academyID == "" {
		return nil, fmt.Errorf("academy id required")
	}
	endpoint := c.BaseURL + "/academies/" + url.PathEscape(academyID) + "/students"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, roster.ErrUnknownAcademy
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("roster service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		AcademyID string   `json:"academy_id"`
		Students  []string `json:"students"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.AcademyID != "" && out.AcademyID != academyID {
		return nil, fmt.Errorf("roster service answered for academy %s, asked %s", out.AcademyID, academyID)
	}
	return out.Students, nil
}

// Health checks if the roster service is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("roster service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("roster service unhealthy: %s", resp.Status)
	}
	return nil
}
