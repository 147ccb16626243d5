// Package client is the engine's side of the envelope API: a generic
// transport that unwraps {success, data, error} responses and the typed
// calls the builder and the public runtime make through it.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/jwalitptl/anamnesis-api/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

// Transport performs one envelope round trip. out, when non-nil, receives
// the decoded data member. Any failure is a *errors.PersistenceError.
type Transport interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// HTTPTransport is a Transport over net/http.
type HTTPTransport struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

type Option func(*HTTPTransport)

func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.http = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *HTTPTransport) { t.logger = l }
}

func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(t *HTTPTransport) { t.breaker = cb }
}

func NewHTTPTransport(baseURL string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  zap.NewNop(),
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "forms-api",
			MaxFailures: 5,
			Interval:    time.Minute,
			Timeout:     10 * time.Second,
		}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// errServer marks responses that count against the circuit breaker.
type errServer struct {
	status int
}

func (e errServer) Error() string {
	return fmt.Sprintf("server error %d", e.status)
}

func (t *HTTPTransport) Do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &apperrors.PersistenceError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	var (
		status int
		raw    []byte
	)
	err := t.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := t.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if status >= http.StatusInternalServerError {
			return errServer{status: status}
		}
		return nil
	})

	var srvErr errServer
	if err != nil && !errors.As(err, &srvErr) {
		t.logger.Warn("request failed", zap.String("op", op), zap.Error(err))
		return &apperrors.PersistenceError{Op: op, Err: err}
	}

	var env envelope
	if len(raw) > 0 {
		if decErr := json.Unmarshal(raw, &env); decErr != nil {
			return &apperrors.PersistenceError{Op: op, Status: status, Err: fmt.Errorf("failed to decode envelope: %w", decErr)}
		}
	}

	if !env.Success {
		perr := &apperrors.PersistenceError{Op: op, Status: status}
		if env.Error != nil {
			perr.Message = env.Error.Message
		}
		if perr.Message == "" {
			perr.Message = http.StatusText(status)
		}
		t.logger.Debug("request rejected", zap.String("op", op), zap.Int("status", status), zap.String("message", perr.Message))
		return perr
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if decErr := json.Unmarshal(env.Data, out); decErr != nil {
			return &apperrors.PersistenceError{Op: op, Status: status, Err: fmt.Errorf("failed to decode data: %w", decErr)}
		}
	}
	return nil
}

// StatusOf returns the HTTP status carried by a PersistenceError, or 0.
func StatusOf(err error) int {
	var perr *apperrors.PersistenceError
	if errors.As(err, &perr) {
		return perr.Status
	}
	return 0
}
