package producer

import (
	"os"
	"strconv"
	"strings"
)

// BatteryReader reads the battery charge percentage from a sysfs-style
// file (for example /sys/class/power_supply/BAT0/capacity). A missing or
// unreadable source means fixes are submitted without a battery level.
type BatteryReader struct {
	path string
}

func NewBatteryReader(path string) *BatteryReader {
	return &BatteryReader{path: path}
}

// Level returns the current charge percentage, or nil when unavailable.
func (b *BatteryReader) Level() *int {
	if b == nil || b.path == "" {
		return nil
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil
	}
	level, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || level < 0 || level > 100 {
		return nil
	}
	return &level
}
