package printqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")

	// ErrJobNotFound indicates no job matches the given identifier.
	ErrJobNotFound = errors.New("printqueue: job not found")
	// ErrEmptyPayload indicates an enqueue attempt without a payload.
	ErrEmptyPayload = errors.New("printqueue: payload is required")
)

// CleanupAge is how long done/failed jobs are retained before cleanup.
const CleanupAge = 7 * 24 * time.Hour

const listLimit = 100

// IDProvider issues job identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the print queue dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the durable receipt queue. Gate terminals enqueue, the print
// agent polls pending jobs and acknowledges them after printing.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the print queue service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Enqueue stores a new pending job and returns it.
func (s *Service) Enqueue(ctx context.Context, payloadJSON string) (Job, error) {
	if payloadJSON == "" {
		return Job{}, ErrEmptyPayload
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return Job{}, fmt.Errorf("printqueue: id generation failed: %w", err)
	}
	job := Job{
		ID:          id,
		PayloadJSON: payloadJSON,
		Status:      JobPending,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		s.logger.Error("print job enqueue failed", zap.Error(err))
		return Job{}, fmt.Errorf("printqueue: enqueue failed: %w", err)
	}
	s.logger.Info("print job queued", zap.String("job_id", job.ID))
	return job, nil
}

// Pending returns unprinted jobs, oldest first, so the agent prints in
// submission order.
func (s *Service) Pending(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).
		Where("status = ?", JobPending).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		s.logger.Error("pending jobs query failed", zap.Error(err))
		return nil, fmt.Errorf("printqueue: pending query failed: %w", err)
	}
	return jobs, nil
}

// Ack marks a job done or failed after the agent attempted to print it.
func (s *Service) Ack(ctx context.Context, id string, success bool) (Job, error) {
	status := JobDone
	if !success {
		status = JobFailed
	}
	ackAt := s.clock().UTC()

	result := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "ack_at": ackAt})
	if result.Error != nil {
		s.logger.Error("print job ack failed", zap.Error(result.Error), zap.String("job_id", id))
		return Job{}, fmt.Errorf("printqueue: ack failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	var job Job
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error; err != nil {
		return Job{}, fmt.Errorf("printqueue: reload failed: %w", err)
	}
	return job, nil
}

// List returns the most recent jobs for the admin view.
func (s *Service) List(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(listLimit).
		Find(&jobs).Error
	if err != nil {
		s.logger.Error("job list query failed", zap.Error(err))
		return nil, fmt.Errorf("printqueue: list query failed: %w", err)
	}
	return jobs, nil
}

// Delete removes a single job.
func (s *Service) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Job{})
	if result.Error != nil {
		s.logger.Error("job delete failed", zap.Error(result.Error), zap.String("job_id", id))
		return fmt.Errorf("printqueue: delete failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// Cleanup deletes done and failed jobs older than CleanupAge. Pending jobs
// are never removed here.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.clock().UTC().Add(-CleanupAge)
	result := s.db.WithContext(ctx).
		Where("status <> ? AND created_at < ?", JobPending, cutoff).
		Delete(&Job{})
	if result.Error != nil {
		s.logger.Error("job cleanup failed", zap.Error(result.Error))
		return 0, fmt.Errorf("printqueue: cleanup failed: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("old print jobs cleaned up", zap.Int64("removed", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
