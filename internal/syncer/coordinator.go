package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/ledger"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/printqueue"
	"go.uber.org/zap"
)

const (
	// offlineIDPrefix partitions gate-issued ids from server UUIDs so the
	// two id spaces can never collide or be mistaken for one another.
	offlineIDPrefix = "gate-"

	reconcileLimit = 10000
)

var (
	errMissingClient = errors.New("remote client is required")
	errMissingLocal  = errors.New("local ledger service is required")
)

// OfflineID mints a time-derived identifier for a record created without
// remote reachability.
func OfflineID(now time.Time) string {
	return fmt.Sprintf("%s%d", offlineIDPrefix, now.UnixNano())
}

// IsOfflineID reports whether the id was gate-issued while offline.
func IsOfflineID(id string) bool {
	return strings.HasPrefix(id, offlineIDPrefix)
}

// CoordinatorConfig describes the sync coordinator dependencies.
type CoordinatorConfig struct {
	Client       *Client
	Local        *ledger.Service
	Logger       *zap.Logger
	Clock        func() time.Time
	PrintSecret  string
	AgentID      string
	PrintTimeout time.Duration
}

// Coordinator keeps the gate's local cache consistent with the remote API
// and routes every mutation down one of two paths, chosen once per
// operation from the last-known connectivity state. Mutations are
// serialized through a single mutex, so a rapid double submit cannot slip
// past the duplicate-vehicle check.
type Coordinator struct {
	client *Client
	local  *ledger.Service
	logger *zap.Logger
	clock  func() time.Time

	printSecret  string
	agentID      string
	printTimeout time.Duration

	mu         sync.Mutex
	online     bool
	agentToken string
}

// NewCoordinator constructs the sync coordinator. It starts offline; the
// first Reconcile decides the real state.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Local == nil {
		return nil, errMissingLocal
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	printTimeout := cfg.PrintTimeout
	if printTimeout <= 0 {
		printTimeout = defaultRequestTimeout
	}
	agentID := cfg.AgentID
	if agentID == "" {
		agentID = "gate-terminal"
	}
	return &Coordinator{
		client:       cfg.Client,
		local:        cfg.Local,
		logger:       logger,
		clock:        clock,
		printSecret:  cfg.PrintSecret,
		agentID:      agentID,
		printTimeout: printTimeout,
	}, nil
}

// Online reports the last-known connectivity state.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Reconcile replaces the local cache with the remote's current state when
// the remote is reachable. Any failure leaves the cache exactly as it was
// and flips the coordinator offline; the degradation is silent, reported
// only through the returned flag.
func (c *Coordinator) Reconcile(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.client.ListRecords(ctx, reconcileLimit)
	if err != nil {
		c.logger.Info("reconcile skipped, remote unreachable", zap.Error(err))
		c.online = false
		return false
	}
	rate, err := c.client.GetSettings(ctx)
	if err != nil {
		c.logger.Info("reconcile skipped, settings fetch failed", zap.Error(err))
		c.online = false
		return false
	}

	if err := c.local.Replace(ctx, records, rate); err != nil {
		c.logger.Error("reconcile failed applying remote state", zap.Error(err))
		c.online = false
		return false
	}

	c.online = true
	c.logger.Info("reconciled with remote",
		zap.Int("records", len(records)),
		zap.Float64("daily_rate", rate))
	return true
}

// CreateEntry records a vehicle entry, online when possible. The online
// path adopts the server's canonical record; a remote failure surfaces as
// an error with no local mutation. The offline path computes everything
// locally, including a gate-issued id, and persists immediately.
func (c *Coordinator) CreateEntry(ctx context.Context, request ledger.EntryRequest) (ledger.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.online {
		wire := CreateRecordRequest{
			Lorry:   request.Lorry,
			Driver:  request.Driver,
			Phone:   request.Phone,
			Remarks: request.Remarks,
		}
		if !request.EntryAt.IsZero() {
			wire.EntryMoment = request.EntryAt.UTC().Format(time.RFC3339)
		}
		record, err := c.client.CreateRecord(ctx, wire)
		if err != nil {
			return ledger.Record{}, err
		}
		if err := c.local.Adopt(ctx, record); err != nil {
			return ledger.Record{}, err
		}
		return record, nil
	}

	request.ID = OfflineID(c.clock())
	return c.local.CreateEntry(ctx, request)
}

// ProcessExit completes the visit with the given token at the rate
// currently in effect.
func (c *Coordinator) ProcessExit(ctx context.Context, token int, exitAt time.Time) (ledger.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.local.Lookup(ctx, token)
	if err != nil {
		return ledger.Record{}, err
	}

	if c.online {
		updated, err := c.client.ExitRecord(ctx, record.ID, exitAt, 0)
		if err != nil {
			return ledger.Record{}, err
		}
		if err := c.local.Adopt(ctx, updated); err != nil {
			return ledger.Record{}, err
		}
		return updated, nil
	}

	rate, err := c.local.GetRate(ctx)
	if err != nil {
		return ledger.Record{}, err
	}
	if exitAt.IsZero() {
		exitAt = c.clock().UTC()
	}
	return c.local.ProcessExit(ctx, token, exitAt, rate)
}

// Delete removes a record everywhere the current path reaches.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.online {
		if err := c.client.DeleteRecord(ctx, id); err != nil {
			return err
		}
		if err := c.local.Delete(ctx, id); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		return nil
	}
	return c.local.Delete(ctx, id)
}

// ClearAll wipes the record collection.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.online {
		if err := c.client.DeleteAllRecords(ctx); err != nil {
			return err
		}
	}
	return c.local.DeleteAll(ctx)
}

// SetRate changes the daily rate.
func (c *Coordinator) SetRate(ctx context.Context, rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.online {
		if err := c.client.SetSettings(ctx, rate); err != nil {
			return err
		}
	}
	return c.local.SetRate(ctx, rate)
}

// Rate returns the locally cached daily rate.
func (c *Coordinator) Rate(ctx context.Context) (float64, error) {
	return c.local.GetRate(ctx)
}

// List reads from the local cache.
func (c *Coordinator) List(ctx context.Context, query ledger.ListQuery) (ledger.ListResult, error) {
	return c.local.List(ctx, query)
}

// Lookup reads a record by token from the local cache.
func (c *Coordinator) Lookup(ctx context.Context, token int) (ledger.Record, error) {
	return c.local.Lookup(ctx, token)
}

// SubmitReceipt sends a receipt to the remote print queue. It is
// fire-and-forget relative to the ledger operation: the call is bounded by
// its own timeout and any failure is logged as a warning, never returned.
func (c *Coordinator) SubmitReceipt(ctx context.Context, record ledger.Record, rate float64) {
	submitCtx, cancel := context.WithTimeout(ctx, c.printTimeout)
	defer cancel()

	c.mu.Lock()
	token, err := c.agentTokenLocked(submitCtx)
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("print submission skipped, auth failed", zap.Error(err))
		return
	}

	receipt := printqueue.NewReceipt(record, rate)
	payload, err := json.Marshal(receipt)
	if err != nil {
		c.logger.Warn("print submission skipped, payload marshal failed", zap.Error(err))
		return
	}
	if err := c.client.EnqueuePrint(submitCtx, token, json.RawMessage(payload)); err != nil {
		c.logger.Warn("print submission failed",
			zap.Error(err),
			zap.Int("token", record.Token))
		return
	}
	c.logger.Info("receipt queued for printing", zap.Int("token", record.Token))
}

func (c *Coordinator) agentTokenLocked(ctx context.Context) (string, error) {
	if c.agentToken != "" {
		return c.agentToken, nil
	}
	token, err := c.client.PrintAuth(ctx, c.printSecret, c.agentID)
	if err != nil {
		return "", err
	}
	c.agentToken = token
	return token, nil
}
