package pickup

import (
	"github.com/pkg/errors"
)

var (
	ErrNoContactInfo           = errors.New("no contact info")
	ErrStatusSourceUnavailable = errors.New("status source unavailable")
	ErrSinkRejected            = errors.New("sink rejected notification")
	ErrLedgerConflict          = errors.New("reminder ledger conflict")
	ErrInvalidLevel            = errors.New("invalid reminder level")
	// ErrRecordSent: напоминание уже в очереди, но ledger не обновлён.
	ErrRecordSent = errors.New("reminder queued but not recorded")
)
