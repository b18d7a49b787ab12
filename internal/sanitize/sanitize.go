package sanitize

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Mode controls how much of an internal error leaks to the caller.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// productionMessage is the only error text a production caller ever sees.
const productionMessage = "An internal error occurred. Contact support with the log id."

// Sanitized is the public projection of an internal error.
type Sanitized struct {
	PublicMessage string `json:"message"`
	Code          string `json:"code"`
	LogID         string `json:"logId"`
}

// Sanitizer is the single outbound path for unexpected errors. Internal
// detail goes to the process error log keyed by a ULID; callers get either
// the original message (development) or a fixed sentence (production).
type Sanitizer struct {
	mode   Mode
	logger *zap.Logger
}

func New(mode Mode, logger *zap.Logger) *Sanitizer {
	return &Sanitizer{mode: mode, logger: logger}
}

// Sanitize maps err to its public shape and logs the full detail under a
// fresh log id. context names the operation that failed.
func (s *Sanitizer) Sanitize(err error, context string) Sanitized {
	logID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()

	s.logger.Error("internal error",
		zap.String("log_id", logID),
		zap.String("context", context),
		zap.Error(err))

	msg := productionMessage
	if s.mode == ModeDevelopment && err != nil {
		msg = err.Error()
	}
	return Sanitized{
		PublicMessage: msg,
		Code:          "internal_error",
		LogID:         logID,
	}
}
