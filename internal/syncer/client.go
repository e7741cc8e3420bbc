package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/ledger"
	"go.uber.org/zap"
)

var (
	// ErrRemoteUnavailable indicates a transport failure or an unparseable
	// response. During reconciliation this degrades silently to offline
	// operation; during an online write it aborts the mutation.
	ErrRemoteUnavailable = errors.New("syncer: remote unavailable")
	// ErrRemoteRejected indicates the remote answered with an explicit
	// error envelope.
	ErrRemoteRejected = errors.New("syncer: remote rejected request")
)

const defaultRequestTimeout = 8 * time.Second

// envelope mirrors the API's {ok, data, error} response shape.
type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// listEnvelope mirrors the record listing response, which carries paging
// fields beside the envelope.
type listEnvelope struct {
	OK    bool            `json:"ok"`
	Total int64           `json:"total"`
	Data  []ledger.Record `json:"data"`
	Error string          `json:"error"`
}

// Client is the typed HTTP client for the parking API. Every call is
// bounded by the configured timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a remote API client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ListRecords fetches up to limit records from the remote.
func (c *Client) ListRecords(ctx context.Context, limit int) ([]ledger.Record, error) {
	path := fmt.Sprintf("/api/records?limit=%d", limit)
	body, err := c.send(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}

	var listed listEnvelope
	if err := json.Unmarshal(body, &listed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if !listed.OK {
		return nil, fmt.Errorf("%w: %s", ErrRemoteRejected, listed.Error)
	}
	return listed.Data, nil
}

type settingsPayload struct {
	DailyRate float64 `json:"daily_rate"`
}

// GetSettings fetches the daily rate currently in effect on the remote.
func (c *Client) GetSettings(ctx context.Context) (float64, error) {
	var settings settingsPayload
	if err := c.call(ctx, http.MethodGet, "/api/settings", "", nil, &settings); err != nil {
		return 0, err
	}
	return settings.DailyRate, nil
}

// SetSettings updates the daily rate on the remote.
func (c *Client) SetSettings(ctx context.Context, rate float64) error {
	return c.call(ctx, http.MethodPost, "/api/settings", "", settingsPayload{DailyRate: rate}, nil)
}

// CreateRecordRequest is the wire payload for a remote entry creation.
type CreateRecordRequest struct {
	Lorry       string `json:"lorry"`
	Driver      string `json:"driver,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Remarks     string `json:"remarks,omitempty"`
	EntryMoment string `json:"entryMoment,omitempty"`
}

// CreateRecord creates an entry on the remote and returns the canonical
// record including the server-assigned id and token.
func (c *Client) CreateRecord(ctx context.Context, request CreateRecordRequest) (ledger.Record, error) {
	var record ledger.Record
	if err := c.call(ctx, http.MethodPost, "/api/records", "", request, &record); err != nil {
		return ledger.Record{}, err
	}
	return record, nil
}

type exitRecordRequest struct {
	ExitMoment string   `json:"exitMoment,omitempty"`
	Rate       *float64 `json:"rate,omitempty"`
}

// ExitRecord completes a visit on the remote and returns the frozen record.
func (c *Client) ExitRecord(ctx context.Context, id string, exitAt time.Time, rate float64) (ledger.Record, error) {
	request := exitRecordRequest{}
	if !exitAt.IsZero() {
		request.ExitMoment = exitAt.UTC().Format(time.RFC3339)
	}
	if rate > 0 {
		request.Rate = &rate
	}
	var record ledger.Record
	path := fmt.Sprintf("/api/records/%s/exit", id)
	if err := c.call(ctx, http.MethodPatch, path, "", request, &record); err != nil {
		return ledger.Record{}, err
	}
	return record, nil
}

// DeleteRecord removes a record on the remote.
func (c *Client) DeleteRecord(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/records/"+id, "", nil, nil)
}

type deleteAllRequest struct {
	Confirm string `json:"confirm"`
}

// DeleteAllRecords clears the remote collection.
func (c *Client) DeleteAllRecords(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/api/records", "", deleteAllRequest{Confirm: "DELETE_ALL"}, nil)
}

type printAuthRequest struct {
	Secret  string `json:"secret"`
	AgentID string `json:"agent_id"`
}

type printAuthResponse struct {
	AccessToken string `json:"access_token"`
}

// PrintAuth exchanges the shared print secret for a bearer token.
func (c *Client) PrintAuth(ctx context.Context, secret, agentID string) (string, error) {
	var response printAuthResponse
	request := printAuthRequest{Secret: secret, AgentID: agentID}
	if err := c.call(ctx, http.MethodPost, "/api/print-auth", "", request, &response); err != nil {
		return "", err
	}
	return response.AccessToken, nil
}

// EnqueuePrint submits a receipt payload to the remote print queue.
func (c *Client) EnqueuePrint(ctx context.Context, bearerToken string, payload any) error {
	return c.call(ctx, http.MethodPost, "/api/print-queue", bearerToken, payload, nil)
}

// call sends a request and decodes the envelope's data into out. Transport
// and parse failures classify as ErrRemoteUnavailable, explicit error
// envelopes as ErrRemoteRejected.
func (c *Client) call(ctx context.Context, method, path, bearerToken string, in, out any) error {
	body, err := c.send(ctx, method, path, bearerToken, in)
	if err != nil {
		return err
	}

	var wrapped envelope
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if !wrapped.OK {
		return fmt.Errorf("%w: %s", ErrRemoteRejected, wrapped.Error)
	}
	if out != nil && len(wrapped.Data) > 0 {
		if err := json.Unmarshal(wrapped.Data, out); err != nil {
			return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, bearerToken string, in any) ([]byte, error) {
	var reader *bytes.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if in != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		request.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer response.Body.Close()

	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return buffer.Bytes(), nil
}
