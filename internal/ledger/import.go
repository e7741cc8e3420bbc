package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/billing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ImportRow is one tabular row supplied by a bulk import. Column mapping
// (lorry, driver, phone, remarks, token, entry/exit moment) is the
// caller's concern; by the time a row reaches the service it is plain data.
type ImportRow struct {
	Lorry   string     `json:"lorry"`
	Driver  string     `json:"driver"`
	Phone   string     `json:"phone"`
	Remarks string     `json:"remarks"`
	Token   int        `json:"token"`
	EntryAt *time.Time `json:"entryMoment"`
	ExitAt  *time.Time `json:"exitMoment"`
}

// ImportRowError reports a single rejected row. Row numbers are 1-based.
type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"error"`
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Added  int              `json:"added"`
	Errors []ImportRowError `json:"errors,omitempty"`
}

// Import inserts rows in bulk. Row failures are collected, not fatal: the
// remaining rows still import. Rows with an exit moment land directly in
// OUT with days and amount computed at the rate in effect when the import
// started. A requested token is kept unless it collides with an existing
// one, in which case the next free token is assigned instead.
func (s *Service) Import(ctx context.Context, rows []ImportRow) (ImportResult, error) {
	result := ImportResult{}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rate, err := getRate(tx)
		if err != nil {
			return newServiceError(opImport, "rate_lookup_failed", err)
		}

		for i, row := range rows {
			if err := s.importRow(tx, row, rate); err != nil {
				result.Errors = append(result.Errors, ImportRowError{Row: i + 1, Message: err.Error()})
				continue
			}
			result.Added++
		}
		return nil
	})
	if txErr != nil {
		s.logError(opImport, "transaction_failed", txErr)
		return ImportResult{}, txErr
	}

	s.logger.Info("bulk import finished",
		zap.Int("added", result.Added),
		zap.Int("rejected", len(result.Errors)))
	return result, nil
}

func (s *Service) importRow(tx *gorm.DB, row ImportRow, rate float64) error {
	lorry, err := NormalizeLorry(row.Lorry)
	if err != nil {
		return err
	}

	entryAt := s.clock().UTC()
	if row.EntryAt != nil {
		entryAt = row.EntryAt.UTC()
	}

	record := Record{
		Lorry:     lorry,
		Driver:    row.Driver,
		Phone:     row.Phone,
		Remarks:   row.Remarks,
		EntryAt:   entryAt,
		Status:    StatusIn,
		CreatedAt: s.clock().UTC(),
	}

	if row.ExitAt != nil {
		exitAt := row.ExitAt.UTC()
		days := billing.Days(entryAt, exitAt)
		amount := billing.Amount(days, rate)
		record.ExitAt = &exitAt
		record.Days = &days
		record.Amount = &amount
		record.Status = StatusOut
	}

	token := row.Token
	if token > 0 {
		var conflict Record
		err := tx.Where("token = ?", token).Take(&conflict).Error
		if err == nil {
			token = 0
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	if token <= 0 {
		token, err = nextToken(tx)
		if err != nil {
			return err
		}
	}
	record.Token = token

	record.ID, err = s.idProvider.NewID()
	if err != nil {
		return fmt.Errorf("id generation failed: %w", err)
	}

	return tx.Create(&record).Error
}
