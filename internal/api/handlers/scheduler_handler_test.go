package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/crosspostr/crosspostr/configs"
	"github.com/crosspostr/crosspostr/internal/scheduler"
)

type stubRunner struct {
	summary *scheduler.Summary
	err     error
	calls   int
}

func (s *stubRunner) Run(ctx context.Context) (*scheduler.Summary, error) {
	s.calls++
	return s.summary, s.err
}

func schedulerTestApp(runner *stubRunner, token string) *fiber.App {
	app := fiber.New()
	h := NewSchedulerHandler(runner, config.Config{SchedulerToken: token})
	app.Post("/internal/scheduler/run", h.RunScheduler)
	return app
}

func TestRunSchedulerAuthorized(t *testing.T) {
	runner := &stubRunner{summary: &scheduler.Summary{Processed: 3, Published: 2, Failed: 1}}
	app := schedulerTestApp(runner, "trigger-secret")

	req := httptest.NewRequest("POST", "/internal/scheduler/run", nil)
	req.Header.Set("Authorization", "Bearer trigger-secret")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, runner.calls)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload struct {
		Success bool              `json:"success"`
		Summary scheduler.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.True(t, payload.Success)
	assert.Equal(t, 3, payload.Summary.Processed)
	assert.Equal(t, 2, payload.Summary.Published)
}

func TestRunSchedulerRejectsBadToken(t *testing.T) {
	runner := &stubRunner{summary: &scheduler.Summary{}}
	app := schedulerTestApp(runner, "trigger-secret")

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong token", "Bearer wrong"},
		{"no bearer prefix", "trigger-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/internal/scheduler/run", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}

	assert.Equal(t, 0, runner.calls)
}

func TestRunSchedulerNoTokenConfigured(t *testing.T) {
	runner := &stubRunner{summary: &scheduler.Summary{}}
	app := schedulerTestApp(runner, "")

	req := httptest.NewRequest("POST", "/internal/scheduler/run", nil)
	req.Header.Set("Authorization", "Bearer ")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, runner.calls)
}

func TestRunSchedulerFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("db down")}
	app := schedulerTestApp(runner, "trigger-secret")

	req := httptest.NewRequest("POST", "/internal/scheduler/run", nil)
	req.Header.Set("Authorization", "Bearer trigger-secret")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
