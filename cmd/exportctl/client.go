package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/schedules"
)

// client talks to the exportd admin API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Fields  []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"fields"`
	} `json:"error"`
}

// do sends a request and decodes the envelope's data into out, which may be nil.
func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		if env.Error == nil {
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		msg := fmt.Sprintf("%s: %s", env.Error.Code, env.Error.Message)
		for _, f := range env.Error.Fields {
			msg += fmt.Sprintf("\n  %s %s", f.Field, f.Message)
		}
		return fmt.Errorf("%s", msg)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *client) listSchedules(ctx context.Context) ([]*models.Schedule, error) {
	var data struct {
		Schedules []*models.Schedule `json:"schedules"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/schedules", nil, &data); err != nil {
		return nil, err
	}
	return data.Schedules, nil
}

func (c *client) getSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	var sched models.Schedule
	if err := c.do(ctx, http.MethodGet, "/api/v1/schedules/"+id, nil, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (c *client) createSchedule(ctx context.Context, in schedules.Input) (*models.Schedule, error) {
	var sched models.Schedule
	if err := c.do(ctx, http.MethodPost, "/api/v1/schedules", in, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (c *client) updateSchedule(ctx context.Context, id string, in schedules.Input) (*models.Schedule, error) {
	var sched models.Schedule
	if err := c.do(ctx, http.MethodPut, "/api/v1/schedules/"+id, in, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (c *client) deleteSchedule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/schedules/"+id, nil, nil)
}

// action posts a status change (pause, resume, complete).
func (c *client) action(ctx context.Context, id, verb string) (*models.Schedule, error) {
	var sched models.Schedule
	if err := c.do(ctx, http.MethodPost, "/api/v1/schedules/"+id+"/"+verb, nil, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (c *client) preview(ctx context.Context, id string, count int) ([]time.Time, error) {
	var data struct {
		Runs []time.Time `json:"runs"`
	}
	path := fmt.Sprintf("/api/v1/schedules/%s/preview?count=%d", id, count)
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Runs, nil
}
