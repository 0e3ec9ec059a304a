package config

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// ParseSize parses a human readable byte size such as "512", "64KB", "10MiB" or
// "1GB". Decimal units (KB, MB) are powers of 1000, binary units (KiB, MiB) of 1024.
func ParseSize(raw string) (int64, error) {
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", raw, err)
	}
	if n == 0 || n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid size %q: out of range", raw)
	}
	return int64(n), nil
}
