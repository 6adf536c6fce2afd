package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
)

// CalendarClient queries the business-calendar service for permitted
// sending windows. The service is the single authority on working days,
// holidays and sending hours; nothing here interprets calendars locally.
type CalendarClient struct {
	baseURL string
	http    *http.Client
}

// NewCalendarClient creates a new calendar service client.
func NewCalendarClient(baseURL string, timeout time.Duration) *CalendarClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CalendarClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type permittedResponse struct {
	Permitted bool `json:"permitted"`
}

type nextWindowResponse struct {
	NextPermittedAt time.Time `json:"next_permitted_at"`
}

// IsPermittedNow reports whether the instant falls inside a permitted
// sending window.
func (c *CalendarClient) IsPermittedNow(ctx context.Context, t time.Time) (bool, error) {
	var resp permittedResponse
	if err := c.get(ctx, "/api/v1/calendar/permitted", t, &resp); err != nil {
		return false, err
	}
	return resp.Permitted, nil
}

// NextPermittedInstant returns the earliest permitted instant at or after t.
func (c *CalendarClient) NextPermittedInstant(ctx context.Context, t time.Time) (time.Time, error) {
	var resp nextWindowResponse
	if err := c.get(ctx, "/api/v1/calendar/next-window", t, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.NextPermittedAt, nil
}

func (c *CalendarClient) get(ctx context.Context, path string, t time.Time, out any) error {
	u := fmt.Sprintf("%s%s?at=%s", c.baseURL, path, url.QueryEscape(t.UTC().Format(time.RFC3339)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to build calendar request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "calendar service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.New(apperrors.ErrCodeUnavailable, fmt.Sprintf("calendar service returned status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode calendar response")
	}
	return nil
}
