package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the lifecycle states of a parking record.
type Status string

const (
	// StatusIn marks a vehicle currently parked.
	StatusIn Status = "IN"
	// StatusOut marks a completed visit. Terminal.
	StatusOut Status = "OUT"
)

// allowedTransitions is the lifecycle graph. OUT is terminal: no record
// ever transitions out of it.
var allowedTransitions = map[Status][]Status{
	StatusIn:  {StatusOut},
	StatusOut: {},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

const maxFieldLength = 190

var (
	// ErrInvalidInput indicates an empty or unusable user-supplied field.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrDuplicateActiveVehicle indicates the lorry already has an IN record.
	ErrDuplicateActiveVehicle = errors.New("ledger: vehicle already parked")
	// ErrNotFound indicates no record matches the given token or id.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrAlreadyExited indicates the record already completed its visit.
	ErrAlreadyExited = errors.New("ledger: record already exited")
)

// NormalizeLorry trims and upper-cases a raw vehicle identifier.
func NormalizeLorry(raw string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return "", fmt.Errorf("%w: lorry is required", ErrInvalidInput)
	}
	if len(normalized) > maxFieldLength {
		return "", fmt.Errorf("%w: lorry exceeds %d characters", ErrInvalidInput, maxFieldLength)
	}
	return normalized, nil
}

// Record models one vehicle visit.
//
// Exactly one invariant ties the nullable fields to the status: ExitAt,
// Days and Amount are all nil while the record is IN and all set once it
// is OUT. Tokens are unique and never reused after deletion.
type Record struct {
	ID        string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Token     int        `gorm:"column:token;uniqueIndex:idx_records_token;not null" json:"token"`
	Lorry     string     `gorm:"column:lorry;size:190;not null;index:idx_records_lorry" json:"lorry"`
	Driver    string     `gorm:"column:driver;size:190;not null;default:''" json:"driver"`
	Phone     string     `gorm:"column:phone;size:64;not null;default:''" json:"phone"`
	Remarks   string     `gorm:"column:remarks;type:text;not null;default:''" json:"remarks"`
	EntryAt   time.Time  `gorm:"column:entry_at;not null;index:idx_records_entry" json:"entryMoment"`
	ExitAt    *time.Time `gorm:"column:exit_at;index:idx_records_exit" json:"exitMoment"`
	Days      *int       `gorm:"column:days" json:"days"`
	Amount    *float64   `gorm:"column:amount" json:"amount"`
	Status    Status     `gorm:"column:status;size:8;not null;default:'IN';index:idx_records_status" json:"status"`
	CreatedAt time.Time  `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "records"
}

// Active reports whether the vehicle is still parked.
func (r Record) Active() bool {
	return r.Status == StatusIn
}

// Setting is a key/value configuration row. The daily rate lives under
// SettingDailyRate and is seeded at migration time.
type Setting struct {
	Key   string `gorm:"column:key;primaryKey;size:64;not null" json:"key"`
	Value string `gorm:"column:value;not null" json:"value"`
}

// TableName provides the explicit table binding for GORM.
func (Setting) TableName() string {
	return "settings"
}

// SettingDailyRate is the settings key holding the daily parking rate.
const SettingDailyRate = "daily_rate"

// DefaultDailyRate applies when the settings table has no rate row.
const DefaultDailyRate = 120.0

// DisplayOrDash renders an optional free-text field for receipts and
// exports. Stored values stay plain; the placeholder exists only at this
// presentation boundary.
func DisplayOrDash(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "--"
	}
	return trimmed
}
