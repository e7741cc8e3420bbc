package printqueue

import (
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/ledger"
)

// JobStatus enumerates the print job lifecycle.
type JobStatus string

const (
	// JobPending awaits pickup by a print agent.
	JobPending JobStatus = "pending"
	// JobDone was printed and acknowledged.
	JobDone JobStatus = "done"
	// JobFailed was picked up but the agent reported a print failure.
	JobFailed JobStatus = "failed"
)

// Job is one queued receipt. The payload is stored as opaque JSON; the
// queue does not interpret it beyond handing it to the agent.
type Job struct {
	ID          string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	PayloadJSON string     `gorm:"column:payload_json;type:text;not null" json:"-"`
	Status      JobStatus  `gorm:"column:status;size:16;not null;default:'pending';index:idx_print_jobs_status" json:"status"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	AckAt       *time.Time `gorm:"column:ack_at" json:"ack_at"`
}

// TableName provides the explicit table binding for GORM.
func (Job) TableName() string {
	return "print_jobs"
}

// Receipt is the denormalized payload a print agent renders. Absent
// free-text fields are rendered as the dash placeholder here, at the
// presentation boundary.
type Receipt struct {
	Type         string  `json:"type"`
	Token        int     `json:"token"`
	Lorry        string  `json:"lorry"`
	Driver       string  `json:"driver"`
	Phone        string  `json:"phone"`
	Remarks      string  `json:"remarks"`
	EntryDisplay string  `json:"entry_display"`
	ExitDisplay  string  `json:"exit_display"`
	Days         int     `json:"days"`
	Rate         float64 `json:"rate"`
	Amount       float64 `json:"amount"`
}

// displayLocation renders receipt timestamps in the yard's local time.
var displayLocation = time.FixedZone("IST", int((5*time.Hour + 30*time.Minute).Seconds()))

// FormatDisplay renders a moment for a printed receipt.
func FormatDisplay(moment time.Time) string {
	return moment.In(displayLocation).Format("2/1/2006, 3:04:05 PM")
}

// NewReceipt builds the receipt payload for a record. For records still
// IN the exit fields render as the placeholder and the amount previews
// the minimum one-day charge at the supplied rate.
func NewReceipt(record ledger.Record, rate float64) Receipt {
	receipt := Receipt{
		Type:         "entry",
		Token:        record.Token,
		Lorry:        record.Lorry,
		Driver:       ledger.DisplayOrDash(record.Driver),
		Phone:        ledger.DisplayOrDash(record.Phone),
		Remarks:      ledger.DisplayOrDash(record.Remarks),
		EntryDisplay: FormatDisplay(record.EntryAt),
		ExitDisplay:  "--",
		Days:         1,
		Rate:         rate,
		Amount:       rate,
	}
	if record.Status == ledger.StatusOut && record.ExitAt != nil {
		receipt.Type = "exit"
		receipt.ExitDisplay = FormatDisplay(*record.ExitAt)
		if record.Days != nil {
			receipt.Days = *record.Days
		}
		if record.Amount != nil {
			receipt.Amount = *record.Amount
		}
	}
	return receipt
}
