package domain

import (
	"math"
	"strconv"
)

// FormatBytes renders a byte count with base-1024 scaling across B/KB/MB/GB,
// keeping one decimal place unless the scaled value is exact. Display only;
// the numeric size is always carried alongside.
func FormatBytes(n int64) string {
	if n < 1024 {
		return strconv.FormatInt(n, 10) + " B"
	}
	value := float64(n)
	units := []string{"KB", "MB", "GB"}
	for i, unit := range units {
		value /= 1024
		if value < 1024 || i == len(units)-1 {
			if value == math.Trunc(value) {
				return strconv.FormatFloat(value, 'f', 0, 64) + " " + unit
			}
			return strconv.FormatFloat(value, 'f', 1, 64) + " " + unit
		}
	}
	return strconv.FormatInt(n, 10) + " B"
}
