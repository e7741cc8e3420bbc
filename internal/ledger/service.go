package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/billing"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps an operation/reason code around the underlying cause.
// The cause chain preserves the sentinel errors so callers can classify
// with errors.Is.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "ledger.service.new"
	opCreateEntry = "ledger.create_entry"
	opLookup      = "ledger.lookup"
	opGet         = "ledger.get"
	opList        = "ledger.list"
	opProcessExit = "ledger.process_exit"
	opDelete      = "ledger.delete"
	opDeleteAll   = "ledger.delete_all"
	opNextToken   = "ledger.next_token"
	opImport      = "ledger.import"
	opStats       = "ledger.stats"
	opGetRate     = "ledger.get_rate"
	opSetRate     = "ledger.set_rate"
	opReplace     = "ledger.replace"
	opAdopt       = "ledger.adopt"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues process-unique record identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the record lifecycle manager.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns the record collection. It is the only writer; collaborators
// read records or hand mutations to it, never touch rows directly.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the record lifecycle manager.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// EntryRequest carries the fields for a new parking entry. ID is optional:
// when empty the service mints one, when set (gate-issued offline ids) it
// is stored as-is.
type EntryRequest struct {
	ID      string
	Lorry   string
	Driver  string
	Phone   string
	Remarks string
	EntryAt time.Time
}

// CreateEntry records a vehicle entering the yard. It rejects an empty
// lorry and a lorry that already has an active record, assigns the next
// token, and stores the record with status IN.
func (s *Service) CreateEntry(ctx context.Context, request EntryRequest) (Record, error) {
	lorry, err := NormalizeLorry(request.Lorry)
	if err != nil {
		return Record{}, newServiceError(opCreateEntry, "invalid_lorry", err)
	}

	entryAt := request.EntryAt
	if entryAt.IsZero() {
		entryAt = s.clock().UTC()
	}

	var created Record
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active Record
		err := tx.Where("lorry = ? AND status = ?", lorry, StatusIn).Take(&active).Error
		if err == nil {
			return newServiceError(opCreateEntry, "duplicate_active_vehicle",
				fmt.Errorf("%w: %s holds token %d", ErrDuplicateActiveVehicle, lorry, active.Token))
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opCreateEntry, "duplicate_check_failed", err, zap.String("lorry", lorry))
			return newServiceError(opCreateEntry, "duplicate_check_failed", err)
		}

		token, err := nextToken(tx)
		if err != nil {
			s.logError(opCreateEntry, "token_query_failed", err)
			return newServiceError(opCreateEntry, "token_query_failed", err)
		}

		recordID := request.ID
		if recordID == "" {
			recordID, err = s.idProvider.NewID()
			if err != nil {
				s.logError(opCreateEntry, "id_generation_failed", err)
				return newServiceError(opCreateEntry, "id_generation_failed", err)
			}
		}

		created = Record{
			ID:        recordID,
			Token:     token,
			Lorry:     lorry,
			Driver:    request.Driver,
			Phone:     request.Phone,
			Remarks:   request.Remarks,
			EntryAt:   entryAt,
			Status:    StatusIn,
			CreatedAt: s.clock().UTC(),
		}
		if err := tx.Create(&created).Error; err != nil {
			s.logError(opCreateEntry, "insert_failed", err, zap.String("lorry", lorry))
			return newServiceError(opCreateEntry, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Record{}, txErr
	}

	s.logger.Info("entry recorded",
		zap.String("record_id", created.ID),
		zap.Int("token", created.Token),
		zap.String("lorry", created.Lorry))
	return created, nil
}

// Lookup returns the record holding the given token. Callers distinguish
// an already-exited visit via the record's status.
func (s *Service) Lookup(ctx context.Context, token int) (Record, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, newServiceError(opLookup, "not_found",
			fmt.Errorf("%w: token %d", ErrNotFound, token))
	}
	if err != nil {
		s.logError(opLookup, "query_failed", err, zap.Int("token", token))
		return Record{}, newServiceError(opLookup, "query_failed", err)
	}
	return record, nil
}

// Get returns the record with the given identifier.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, newServiceError(opGet, "not_found",
			fmt.Errorf("%w: id %s", ErrNotFound, id))
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("record_id", id))
		return Record{}, newServiceError(opGet, "query_failed", err)
	}
	return record, nil
}

// ListQuery filters and paginates record listings.
type ListQuery struct {
	Status string
	Search string
	Page   int
	Limit  int
}

// ListResult carries one page of records plus the total match count.
type ListResult struct {
	Records []Record
	Total   int64
	Page    int
	Limit   int
}

const defaultListLimit = 200

// List returns records newest token first, optionally filtered by status
// and a free-text search over lorry, driver and token.
func (s *Service) List(ctx context.Context, query ListQuery) (ListResult, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit < 1 {
		limit = defaultListLimit
	}

	scoped := s.db.WithContext(ctx).Model(&Record{})
	if query.Status != "" && query.Status != "ALL" {
		scoped = scoped.Where("status = ?", query.Status)
	}
	if query.Search != "" {
		like := "%" + query.Search + "%"
		scoped = scoped.Where("lorry LIKE ? OR driver LIKE ? OR CAST(token AS TEXT) LIKE ?", like, like, like)
	}

	var total int64
	if err := scoped.Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err)
		return ListResult{}, newServiceError(opList, "count_failed", err)
	}

	var records []Record
	if err := scoped.Order("token DESC").Limit(limit).Offset((page - 1) * limit).Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return ListResult{}, newServiceError(opList, "query_failed", err)
	}

	return ListResult{Records: records, Total: total, Page: page, Limit: limit}, nil
}

// ProcessExit completes the visit holding the given token. Days and amount
// are computed from the stored entry moment, the supplied exit moment and
// the rate in effect now, then frozen; the transition happens exactly once.
func (s *Service) ProcessExit(ctx context.Context, token int, exitAt time.Time, rate float64) (Record, error) {
	return s.processExit(ctx, "token = ?", token, exitAt, rate)
}

// ProcessExitByID is ProcessExit keyed by record identifier, used by the
// HTTP surface where the resource path carries the id.
func (s *Service) ProcessExitByID(ctx context.Context, id string, exitAt time.Time, rate float64) (Record, error) {
	return s.processExit(ctx, "id = ?", id, exitAt, rate)
}

func (s *Service) processExit(ctx context.Context, condition string, key any, exitAt time.Time, rate float64) (Record, error) {
	if rate <= 0 {
		return Record{}, newServiceError(opProcessExit, "invalid_rate",
			fmt.Errorf("%w: rate must be positive", ErrInvalidInput))
	}
	if exitAt.IsZero() {
		exitAt = s.clock().UTC()
	}

	var updated Record
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Record
		err := tx.Where(condition, key).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opProcessExit, "not_found",
				fmt.Errorf("%w: %v", ErrNotFound, key))
		}
		if err != nil {
			s.logError(opProcessExit, "query_failed", err)
			return newServiceError(opProcessExit, "query_failed", err)
		}

		if !CanTransition(record.Status, StatusOut) {
			return newServiceError(opProcessExit, "already_exited",
				fmt.Errorf("%w: token %d", ErrAlreadyExited, record.Token))
		}

		if billing.Anomalous(record.EntryAt, exitAt) {
			s.logger.Warn("exit precedes entry, clamping to one day",
				zap.Int("token", record.Token),
				zap.Time("entry_at", record.EntryAt),
				zap.Time("exit_at", exitAt))
		}
		days := billing.Days(record.EntryAt, exitAt)
		amount := billing.Amount(days, rate)

		// Guarded update: the status predicate makes a concurrent second
		// exit a no-op instead of a recomputation.
		result := tx.Model(&Record{}).
			Where("id = ? AND status = ?", record.ID, StatusIn).
			Updates(map[string]any{
				"exit_at": exitAt,
				"days":    days,
				"amount":  amount,
				"status":  StatusOut,
			})
		if result.Error != nil {
			s.logError(opProcessExit, "update_failed", result.Error, zap.Int("token", record.Token))
			return newServiceError(opProcessExit, "update_failed", result.Error)
		}
		if result.RowsAffected != 1 {
			return newServiceError(opProcessExit, "already_exited",
				fmt.Errorf("%w: token %d", ErrAlreadyExited, record.Token))
		}

		return tx.Where("id = ?", record.ID).Take(&updated).Error
	})
	if txErr != nil {
		return Record{}, txErr
	}

	s.logger.Info("exit processed",
		zap.String("record_id", updated.ID),
		zap.Int("token", updated.Token),
		zap.Intp("days", updated.Days),
		zap.Float64p("amount", updated.Amount))
	return updated, nil
}

// Delete removes a record unconditionally. Surviving records keep their
// tokens; nothing is renumbered.
func (s *Service) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Record{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("record_id", id))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDelete, "not_found",
			fmt.Errorf("%w: id %s", ErrNotFound, id))
	}
	return nil
}

// DeleteAll clears the record collection.
func (s *Service) DeleteAll(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&Record{}).Error; err != nil {
		s.logError(opDeleteAll, "delete_failed", err)
		return newServiceError(opDeleteAll, "delete_failed", err)
	}
	return nil
}

// NextToken returns max(existing tokens)+1, recomputed from current data on
// every call so deleting the highest-token record lowers the next value.
func (s *Service) NextToken(ctx context.Context) (int, error) {
	token, err := nextToken(s.db.WithContext(ctx))
	if err != nil {
		s.logError(opNextToken, "query_failed", err)
		return 0, newServiceError(opNextToken, "query_failed", err)
	}
	return token, nil
}

func nextToken(tx *gorm.DB) (int, error) {
	var highest int
	err := tx.Model(&Record{}).Select("COALESCE(MAX(token), 0)").Scan(&highest).Error
	if err != nil {
		return 0, err
	}
	return highest + 1, nil
}

// GetRate returns the daily rate currently in effect.
func (s *Service) GetRate(ctx context.Context) (float64, error) {
	return getRate(s.db.WithContext(ctx))
}

func getRate(tx *gorm.DB) (float64, error) {
	var setting Setting
	err := tx.Where("key = ?", SettingDailyRate).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultDailyRate, nil
	}
	if err != nil {
		return 0, newServiceError(opGetRate, "query_failed", err)
	}
	rate, err := strconv.ParseFloat(setting.Value, 64)
	if err != nil {
		return 0, newServiceError(opGetRate, "malformed_rate", err)
	}
	return rate, nil
}

// SetRate persists a new daily rate. Rates below 1 are rejected.
func (s *Service) SetRate(ctx context.Context, rate float64) error {
	if rate < 1 {
		return newServiceError(opSetRate, "invalid_rate",
			fmt.Errorf("%w: rate must be at least 1", ErrInvalidInput))
	}
	setting := Setting{Key: SettingDailyRate, Value: strconv.FormatFloat(rate, 'f', -1, 64)}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&setting).Error
	if err != nil {
		s.logError(opSetRate, "upsert_failed", err, zap.Float64("rate", rate))
		return newServiceError(opSetRate, "upsert_failed", err)
	}
	s.logger.Info("daily rate updated", zap.Float64("rate", rate))
	return nil
}

// Replace wholesale-swaps the collection contents and the daily rate. Only
// the sync coordinator calls this, after a successful reconcile where the
// remote's version wins entirely.
func (s *Service) Replace(ctx context.Context, records []Record, rate float64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Record{}).Error; err != nil {
			return newServiceError(opReplace, "clear_failed", err)
		}
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, 100).Error; err != nil {
				return newServiceError(opReplace, "insert_failed", err)
			}
		}
		setting := Setting{Key: SettingDailyRate, Value: strconv.FormatFloat(rate, 'f', -1, 64)}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&setting).Error
	})
	if txErr != nil {
		s.logError(opReplace, "transaction_failed", txErr)
		return txErr
	}
	s.logger.Info("cache replaced from remote", zap.Int("records", len(records)))
	return nil
}

// Adopt upserts a canonical record the remote returned for a mutation the
// gate sent online. Remote-assigned ids and tokens are authoritative, so
// the row is stored exactly as received.
func (s *Service) Adopt(ctx context.Context, record Record) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
	if err != nil {
		s.logError(opAdopt, "upsert_failed", err, zap.String("record_id", record.ID))
		return newServiceError(opAdopt, "upsert_failed", err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("ledger service error", attrs...)
}
