package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yoeldevsoft25/lacaja-sync/internal/device"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/auth"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/config"
	pkgerrors "github.com/yoeldevsoft25/lacaja-sync/pkg/errors"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
)

const submitPath = "/api/v1/sync/events"

// Transport submits one batch to the ingestion endpoint and returns the
// per-event outcomes.
type Transport interface {
	Submit(ctx context.Context, batch events.BatchRequest) (events.BatchResponse, error)
}

// HTTPTransport talks to the sync server over HTTP with a short-lived batch
// token minted per request.
type HTTPTransport struct {
	client   *http.Client
	baseURL  string
	identity device.Identity
	jwtCfg   config.JWTConfig
	now      func() time.Time
}

type HTTPTransportParams struct {
	BaseURL        string
	Identity       device.Identity
	JWT            config.JWTConfig
	RequestTimeout time.Duration
	Now            func() time.Time
}

func NewHTTPTransport(params HTTPTransportParams) (*HTTPTransport, error) {
	if params.BaseURL == "" {
		return nil, fmt.Errorf("server base url is required")
	}
	if params.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	timeout := params.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &HTTPTransport{
		client:   &http.Client{Timeout: timeout},
		baseURL:  params.BaseURL,
		identity: params.Identity,
		jwtCfg:   params.JWT,
		now:      now,
	}, nil
}

func (t *HTTPTransport) Submit(ctx context.Context, batch events.BatchRequest) (events.BatchResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return events.BatchResponse{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding batch")
	}

	token, err := auth.MintBatchToken(t.jwtCfg, t.now(), auth.BatchTokenPayload{
		UserID:   t.identity.DeviceID,
		StoreID:  t.identity.StoreID,
		DeviceID: t.identity.DeviceID,
		Role:     "device",
	})
	if err != nil {
		return events.BatchResponse{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "minting batch token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+submitPath, bytes.NewReader(body))
	if err != nil {
		return events.BatchResponse{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(req)
	if err != nil {
		return events.BatchResponse{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "submitting batch")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return events.BatchResponse{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "batch rejected: "+readError(resp.Body))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return events.BatchResponse{}, pkgerrors.New(pkgerrors.CodeValidation, "batch rejected: "+readError(resp.Body))
	default:
		return events.BatchResponse{}, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("server returned %d", resp.StatusCode))
	}

	var envelope struct {
		Data events.BatchResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return events.BatchResponse{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding batch response")
	}
	return envelope.Data, nil
}

func readError(r io.Reader) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&envelope); err != nil || envelope.Error.Message == "" {
		return "unreadable error body"
	}
	return envelope.Error.Message
}
