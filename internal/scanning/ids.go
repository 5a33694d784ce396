package scanning

import (
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique identifiers for sessions and handoffs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// UUIDGenerator generates random UUIDs
type UUIDGenerator struct{}

func (g UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// SystemClock provides the wall clock time
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
