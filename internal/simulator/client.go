// Package simulator drives a running SafeStrip backend with synthetic
// power-strip readings for demos and manual testing.
package simulator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/api"
	"github.com/safestrip/safestrip/internal/database"
)

// Client talks to the SafeStrip HTTP API.
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusServiceUnavailable
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{httpClient: client, logger: logger}
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status int
	Body   api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Body.Code, e.Body.Error)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Body.Error)
}

// PostReading submits one reading.
func (c *Client) PostReading(ctx context.Context, req api.SensorReadingRequest) (*api.IngestResponse, error) {
	var result api.IngestResponse
	var apiErr api.ErrorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&apiErr).
		Post("/sensor-readings")
	if err != nil {
		return nil, fmt.Errorf("failed to post reading: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Body: apiErr}
	}

	if result.EvaluationError != "" {
		c.logger.Warn("Reading stored but not evaluated",
			zap.String("reading_id", result.Reading.ID),
			zap.String("evaluation_error", result.EvaluationError))
	}
	return &result, nil
}

// Latest fetches the newest reading of a type for a device, or nil.
func (c *Client) Latest(ctx context.Context, deviceID, sensorType string) (*database.SensorReading, error) {
	var result *database.SensorReading
	var apiErr api.ErrorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"device_id":   deviceID,
			"sensor_type": sensorType,
		}).
		SetResult(&result).
		SetError(&apiErr).
		Get("/sensor-readings/latest")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest reading: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Body: apiErr}
	}
	return result, nil
}
