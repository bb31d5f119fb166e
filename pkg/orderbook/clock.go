package orderbook

import (
	"fmt"
	"time"
)

// nowMicros is the default Book.Now implementation: wall-clock microseconds.
// Tests override Book.Now with a deterministic stand-in.
func nowMicros() int64 {
	return time.Now().UnixMicro()
}

func sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
