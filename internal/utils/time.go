package utils

import "time"

const (
	layoutDate  = "2006-01-02"
	layoutClock = "15:04"
)

// Nairobi is East Africa Time. Kenya has no daylight saving, so a fixed zone
// avoids depending on tzdata in the container.
var Nairobi = time.FixedZone("EAT", 3*60*60)

func FormatDate(t time.Time) string {
	return t.In(Nairobi).Format(layoutDate)
}

func FormatClock(t time.Time) string {
	return t.In(Nairobi).Format(layoutClock)
}
