package client

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"trainrun-backend/pkg/api"
)

// Client is a thin HTTP client for the run registry's read API.
type Client struct {
	client *resty.Client
}

func NewClient(baseURL string) *Client {
	return &Client{client: resty.New().SetBaseURL(baseURL)}
}

func (c *Client) Health(ctx context.Context) error {
	res, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("health check returned status %d: %s", res.StatusCode(), res.String())
	}
	return nil
}

func (c *Client) ListRuns(ctx context.Context, offset, limit int) ([]api.TrainRun, error) {
	var result api.ListRunsResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("offset", fmt.Sprint(offset)).
		SetQueryParam("limit", fmt.Sprint(limit)).
		SetResult(&result).
		Get("/runs")
	if err != nil {
		return nil, fmt.Errorf("list runs request failed: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("list runs returned status %d: %s", res.StatusCode(), res.String())
	}
	return result.Runs, nil
}

func (c *Client) GetRun(ctx context.Context, runId uuid.UUID) (api.TrainRun, error) {
	var result api.TrainRun
	res, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/runs/%s", runId))
	if err != nil {
		return api.TrainRun{}, fmt.Errorf("get run request failed: %w", err)
	}
	if res.IsError() {
		return api.TrainRun{}, fmt.Errorf("get run returned status %d: %s", res.StatusCode(), res.String())
	}
	return result, nil
}
