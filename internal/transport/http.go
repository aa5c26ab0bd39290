package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/saaga0h/roomwatch/internal/dispatcher"
	"github.com/saaga0h/roomwatch/internal/roomstate"
)

// updateResponse covers every body shape the update endpoint returns
type updateResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Warning string `json:"warning"`
	Error   string `json:"error"`
}

// HTTPSubmitter posts readings to a remote update endpoint
type HTTPSubmitter struct {
	client    *http.Client
	updateURL string
	healthURL string
	logger    *slog.Logger
}

// NewHTTPSubmitter creates a submitter for updateURL. healthURL is used by
// Ping and may be empty. A nil client uses http.DefaultClient; per-request
// deadlines come from the caller's context.
func NewHTTPSubmitter(client *http.Client, updateURL, healthURL string, logger *slog.Logger) *HTTPSubmitter {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPSubmitter{
		client:    client,
		updateURL: updateURL,
		healthURL: healthURL,
		logger:    logger,
	}
}

// Submit posts a reading and classifies the reply. 200 with a status is
// accepted, 200 with a warning or an unrecognised body is ignored, 400 with an
// error body is invalid. Anything else, including network errors and
// timeouts, is returned as an error.
func (s *HTTPSubmitter) Submit(ctx context.Context, r roomstate.RawReading) (dispatcher.Outcome, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return dispatcher.Outcome{}, fmt.Errorf("failed to marshal reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.updateURL, bytes.NewReader(body))
	if err != nil {
		return dispatcher.Outcome{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return dispatcher.Outcome{}, fmt.Errorf("failed to post reading: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return dispatcher.Outcome{}, fmt.Errorf("failed to read response: %w", err)
	}

	var data updateResponse
	decodeErr := json.Unmarshal(raw, &data)

	switch {
	case resp.StatusCode == http.StatusOK && decodeErr == nil && data.Status != "":
		var status roomstate.Status
		if err := status.UnmarshalText([]byte(data.Status)); err != nil {
			return dispatcher.Outcome{Kind: dispatcher.OutcomeIgnored, Message: "HTTP 200 with unknown status " + data.Status}, nil
		}
		msg := data.Message
		if msg == "" {
			msg = "Update processed"
		}
		return dispatcher.Outcome{Kind: dispatcher.OutcomeAccepted, Status: status, Message: msg}, nil

	case resp.StatusCode == http.StatusOK && decodeErr == nil && data.Warning != "":
		return dispatcher.Outcome{Kind: dispatcher.OutcomeIgnored, Message: data.Warning}, nil

	case resp.StatusCode == http.StatusOK:
		return dispatcher.Outcome{Kind: dispatcher.OutcomeIgnored, Message: "HTTP 200 but missing status/warning"}, nil

	case resp.StatusCode == http.StatusBadRequest && decodeErr == nil && data.Error != "":
		return dispatcher.Outcome{Kind: dispatcher.OutcomeInvalid, Message: data.Error}, nil
	}

	msg := data.Error
	if msg == "" {
		msg = data.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return dispatcher.Outcome{}, &StatusError{Code: resp.StatusCode, Message: msg}
}

// Ping checks that the remote health endpoint answers with a 2xx
func (s *HTTPSubmitter) Ping(ctx context.Context) error {
	if s.healthURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend not reachable at %s: %w", s.healthURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend health at %s returned HTTP %d", s.healthURL, resp.StatusCode)
	}

	s.logger.Info("Backend reachable", "health_url", s.healthURL)
	return nil
}

// StatusError is a non-success HTTP reply from the update endpoint
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}
