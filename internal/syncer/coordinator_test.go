package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/auth"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/ledger"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/printqueue"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/server"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testPrintSecret = "sync-test-secret"

var testClockStart = time.Date(2025, 2, 14, 9, 0, 0, 0, time.UTC)

type staticIDGenerator struct {
	prefix string
	next   int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

func openTestDatabase(t *testing.T, name string, models ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newLocalLedger(t *testing.T, clock func() time.Time) *ledger.Service {
	t.Helper()
	db := openTestDatabase(t, "gate_cache", &ledger.Record{}, &ledger.Setting{})
	service, err := ledger.NewService(ledger.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{prefix: "cache"},
	})
	if err != nil {
		t.Fatalf("failed to construct local ledger: %v", err)
	}
	return service
}

type remoteFixture struct {
	server     *httptest.Server
	ledger     *ledger.Service
	printQueue *printqueue.Service
}

// newRemote spins up the real API over its own database, so coordinator
// tests exercise the exact wire contract the gate sees in production.
func newRemote(t *testing.T) *remoteFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := openTestDatabase(t, "remote_api", &ledger.Record{}, &ledger.Setting{}, &printqueue.Job{})
	clock := func() time.Time { return testClockStart }

	ledgerService, err := ledger.NewService(ledger.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{prefix: "remote"},
	})
	if err != nil {
		t.Fatalf("failed to construct remote ledger: %v", err)
	}
	printService, err := printqueue.NewService(printqueue.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{prefix: "job"},
	})
	if err != nil {
		t.Fatalf("failed to construct remote print queue: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Ledger:      ledgerService,
		PrintQueue:  printService,
		AgentTokens: auth.NewAgentTokenIssuer(auth.AgentTokenIssuerConfig{SigningSecret: []byte(testPrintSecret), Clock: clock}),
		PrintSecret: testPrintSecret,
		Clock:       clock,
	})
	if err != nil {
		t.Fatalf("failed to construct remote handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return &remoteFixture{server: testServer, ledger: ledgerService, printQueue: printService}
}

func newCoordinator(t *testing.T, baseURL string, local *ledger.Service, clock func() time.Time) *Coordinator {
	t.Helper()
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Client:      NewClient(baseURL, time.Second, nil),
		Local:       local,
		Clock:       clock,
		PrintSecret: testPrintSecret,
	})
	if err != nil {
		t.Fatalf("failed to construct coordinator: %v", err)
	}
	return coordinator
}

func TestReconcileUnreachableRemoteLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return testClockStart }
	local := newLocalLedger(t, clock)

	seeded, err := local.CreateEntry(ctx, ledger.EntryRequest{Lorry: "KA01AB1234"})
	if err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	// Grab a port with nothing listening on it.
	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	coordinator := newCoordinator(t, deadURL, local, clock)
	if coordinator.Reconcile(ctx) {
		t.Fatalf("reconcile against an unreachable remote must report failure")
	}
	if coordinator.Online() {
		t.Fatalf("coordinator must stay offline after a failed reconcile")
	}

	cached, err := local.Lookup(ctx, seeded.Token)
	if err != nil {
		t.Fatalf("cache must be untouched by a failed reconcile: %v", err)
	}
	if cached.ID != seeded.ID {
		t.Fatalf("unexpected cached record: %+v", cached)
	}
}

func TestOfflineCreateEntryPersistsWithGateID(t *testing.T) {
	ctx := context.Background()
	now := testClockStart
	clock := func() time.Time { return now }
	local := newLocalLedger(t, clock)

	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	coordinator := newCoordinator(t, deadURL, local, clock)
	coordinator.Reconcile(ctx)

	record, err := coordinator.CreateEntry(ctx, ledger.EntryRequest{Lorry: "TN22CD5678"})
	if err != nil {
		t.Fatalf("offline entry must still succeed: %v", err)
	}
	if !IsOfflineID(record.ID) {
		t.Fatalf("offline record must carry a gate-issued id, got %q", record.ID)
	}

	cached, err := local.Lookup(ctx, record.Token)
	if err != nil {
		t.Fatalf("offline record must persist locally: %v", err)
	}
	if cached.ID != record.ID {
		t.Fatalf("unexpected cached record: %+v", cached)
	}
}

func TestReconcileAdoptsRemoteState(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return testClockStart }
	remote := newRemote(t)
	local := newLocalLedger(t, clock)

	if _, err := local.CreateEntry(ctx, ledger.EntryRequest{Lorry: "STALE1"}); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
	remoteRecord, err := remote.ledger.CreateEntry(ctx, ledger.EntryRequest{Lorry: "KA01AB1234"})
	if err != nil {
		t.Fatalf("unexpected remote seed error: %v", err)
	}
	if err := remote.ledger.SetRate(ctx, 150); err != nil {
		t.Fatalf("unexpected remote rate error: %v", err)
	}

	coordinator := newCoordinator(t, remote.server.URL, local, clock)
	if !coordinator.Reconcile(ctx) {
		t.Fatalf("reconcile against a live remote must succeed")
	}
	if !coordinator.Online() {
		t.Fatalf("coordinator must be online after a successful reconcile")
	}

	result, err := local.List(ctx, ledger.ListQuery{})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if result.Total != 1 || result.Records[0].ID != remoteRecord.ID {
		t.Fatalf("cache must mirror the remote after reconcile, got %+v", result)
	}

	rate, err := local.GetRate(ctx)
	if err != nil {
		t.Fatalf("unexpected rate error: %v", err)
	}
	if rate != 150 {
		t.Fatalf("cache must adopt the remote rate, got %v", rate)
	}
}

func TestOnlineCreateAdoptsCanonicalRecord(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return testClockStart }
	remote := newRemote(t)
	local := newLocalLedger(t, clock)

	coordinator := newCoordinator(t, remote.server.URL, local, clock)
	if !coordinator.Reconcile(ctx) {
		t.Fatalf("reconcile must succeed")
	}

	record, err := coordinator.CreateEntry(ctx, ledger.EntryRequest{Lorry: "ka01ab1234", Driver: "Ravi"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if IsOfflineID(record.ID) {
		t.Fatalf("online record must carry the server id, got %q", record.ID)
	}
	if record.Lorry != "KA01AB1234" {
		t.Fatalf("expected the server-normalized lorry, got %q", record.Lorry)
	}

	cached, err := local.Lookup(ctx, record.Token)
	if err != nil {
		t.Fatalf("adopted record must persist locally: %v", err)
	}
	if cached.ID != record.ID {
		t.Fatalf("cache and server record diverge: %+v vs %+v", cached, record)
	}
}

func TestOnlineCreateFailureAppliesNothingLocally(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return testClockStart }
	remote := newRemote(t)
	local := newLocalLedger(t, clock)

	coordinator := newCoordinator(t, remote.server.URL, local, clock)
	if !coordinator.Reconcile(ctx) {
		t.Fatalf("reconcile must succeed")
	}
	remote.server.Close()

	_, err := coordinator.CreateEntry(ctx, ledger.EntryRequest{Lorry: "KA01AB1234"})
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}

	result, listErr := local.List(ctx, ledger.ListQuery{})
	if listErr != nil {
		t.Fatalf("unexpected list error: %v", listErr)
	}
	if result.Total != 0 {
		t.Fatalf("failed online write must not touch the cache, got %+v", result)
	}
}

func TestOnlineCreateDuplicateSurfacesRejection(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return testClockStart }
	remote := newRemote(t)
	local := newLocalLedger(t, clock)

	coordinator := newCoordinator(t, remote.server.URL, local, clock)
	if !coordinator.Reconcile(ctx) {
		t.Fatalf("reconcile must succeed")
	}

	if _, err := coordinator.CreateEntry(ctx, ledger.EntryRequest{Lorry: "KA01AB1234"}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	_, err := coordinator.CreateEntry(ctx, ledger.EntryRequest{Lorry: "ka01ab1234"})
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("expected ErrRemoteRejected for an active duplicate, got %v", err)
	}
}

func TestOfflineExitUsesLocalRate(t *testing.T) {
	ctx := context.Background()
	now := testClockStart
	clock := func() time.Time { return now }
	local := newLocalLedger(t, clock)

	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	coordinator := newCoordinator(t, deadURL, local, clock)
	coordinator.Reconcile(ctx)

	if err := coordinator.SetRate(ctx, 100); err != nil {
		t.Fatalf("unexpected rate error: %v", err)
	}

	entry, err := coordinator.CreateEntry(ctx, ledger.EntryRequest{Lorry: "KA01AB1234"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	// Three days and a bit later: bills as four days.
	now = now.Add(3*24*time.Hour + time.Hour)
	record, err := coordinator.ProcessExit(ctx, entry.Token, time.Time{})
	if err != nil {
		t.Fatalf("unexpected exit error: %v", err)
	}
	if record.Status != ledger.StatusOut {
		t.Fatalf("expected OUT status, got %s", record.Status)
	}
	if record.Days == nil || *record.Days != 4 {
		t.Fatalf("expected 4 billed days, got %v", record.Days)
	}
	if record.Amount == nil || *record.Amount != 400 {
		t.Fatalf("expected amount at the local rate, got %v", record.Amount)
	}
}

func TestOnlineExitAdoptsFrozenRecord(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return testClockStart }
	remote := newRemote(t)
	local := newLocalLedger(t, clock)

	coordinator := newCoordinator(t, remote.server.URL, local, clock)
	if !coordinator.Reconcile(ctx) {
		t.Fatalf("reconcile must succeed")
	}

	entry, err := coordinator.CreateEntry(ctx, ledger.EntryRequest{Lorry: "KA01AB1234"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	record, err := coordinator.ProcessExit(ctx, entry.Token, time.Time{})
	if err != nil {
		t.Fatalf("unexpected exit error: %v", err)
	}
	if record.Status != ledger.StatusOut || record.Amount == nil {
		t.Fatalf("expected a frozen OUT record, got %+v", record)
	}

	cached, err := local.Lookup(ctx, entry.Token)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if cached.Status != ledger.StatusOut {
		t.Fatalf("cache must adopt the exit, got %+v", cached)
	}
}

func TestSubmitReceiptQueuesRemoteJob(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return testClockStart }
	remote := newRemote(t)
	local := newLocalLedger(t, clock)

	coordinator := newCoordinator(t, remote.server.URL, local, clock)
	if !coordinator.Reconcile(ctx) {
		t.Fatalf("reconcile must succeed")
	}

	record, err := coordinator.CreateEntry(ctx, ledger.EntryRequest{Lorry: "KA01AB1234"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	coordinator.SubmitReceipt(ctx, record, 120)

	pending, err := remote.printQueue.Pending(ctx)
	if err != nil {
		t.Fatalf("unexpected pending error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one queued receipt, got %d", len(pending))
	}
}

func TestSubmitReceiptFailureIsSilent(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return testClockStart }
	local := newLocalLedger(t, clock)

	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	coordinator := newCoordinator(t, deadURL, local, clock)

	// Must not panic or return anything even with the remote gone.
	coordinator.SubmitReceipt(ctx, ledger.Record{Token: 1, Lorry: "KA01AB1234", Status: ledger.StatusIn, EntryAt: testClockStart}, 120)
}

func TestOfflineIDPartition(t *testing.T) {
	id := OfflineID(testClockStart)
	if !IsOfflineID(id) {
		t.Fatalf("gate-issued id must be recognizable, got %q", id)
	}
	if IsOfflineID("0194d2f0-73a1-7c3e-b2aa-000000000001") {
		t.Fatalf("server ids must never classify as gate-issued")
	}
}
