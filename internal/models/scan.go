package models

import (
	"fmt"
	"time"
)

const scanDayLayout = "2006-01-02"

// ScanCounter counts a user's scans for one UTC day. Reserved is the number
// of reservations that can still be released.
type ScanCounter struct {
	UserID    string
	ScanDate  string
	ScanCount int
	Reserved  int
	UpdatedAt time.Time
}

// ScanDay returns the UTC calendar day t falls on.
func ScanDay(t time.Time) string {
	return t.UTC().Format(scanDayLayout)
}

// ParseScanDay validates and normalizes a YYYY-MM-DD day.
func ParseScanDay(day string) (string, error) {
	t, err := time.Parse(scanDayLayout, day)
	if err != nil {
		return "", fmt.Errorf("parse scan day %q: %w", day, err)
	}
	return t.Format(scanDayLayout), nil
}
