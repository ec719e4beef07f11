package collector

import "time"

// apiTimestampLayout is the layout the provider's list-content endpoint
// expects for start/end query parameters.
const apiTimestampLayout = "2006-01-02T15:04:05Z"

// MaxWindowHours is the provider's hard per-request span limit.
const MaxWindowHours = 24

// SplitWindows splits [start, end] into consecutive windows no longer than
// MaxWindowHours each, formatted the way the provider's API expects.
// Callers are responsible for enforcing the 168-hour total-range cap
// (spec property 8) before calling this — SplitWindows itself only chunks.
func SplitWindows(start, end time.Time) []TimeWindow {
	if !end.After(start) {
		return nil
	}

	var windows []TimeWindow
	cursor := start
	step := time.Duration(MaxWindowHours) * time.Hour

	for cursor.Before(end) {
		next := cursor.Add(step)
		if next.After(end) {
			next = end
		}
		windows = append(windows, TimeWindow{
			StartISO: cursor.UTC().Format(apiTimestampLayout),
			EndISO:   next.UTC().Format(apiTimestampLayout),
		})
		cursor = next
	}

	return windows
}
