package helper

import (
	"fmt"
	"math"
	"strings"
)

var windDirections = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// method to convert from milliseconds to minutes:seconds.milliseconds
func MillisToLapTime(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, millis)
}

// SecondsToSessionTime renders a session clock as m:ss.
func SecondsToSessionTime(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) {
		return "0:00"
	}
	minutes := int(seconds / 60)
	secs := int(math.Mod(seconds, 60))
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

func SecondsToDiff(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("+%.3f", seconds)
}

func LapsToDiff(laps int) string {
	if laps <= 0 {
		return "-"
	}
	if laps == 1 {
		return "+1 lap"
	}
	return fmt.Sprintf("+%d laps", laps)
}

func SecondsToHoursAndMinutes(seconds float64) string {
	if seconds <= 0 {
		seconds = 0
	}
	hours := int(seconds / 3600)
	seconds = seconds - float64(hours*3600)
	minutes := int(seconds / 60)
	return fmt.Sprintf("%02dh %02dm", hours, minutes)
}

// WindDirection converts degrees to one of the eight compass points.
func WindDirection(degrees float64) string {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	idx := int(math.Round(d/45)) % len(windDirections)
	return windDirections[idx]
}

func GetDriverCodeName(name string) string {
	// first letter of the name plus the first 2 letters of the surname
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	words := strings.Fields(name)
	first := []rune(words[0])
	rest := first[1:]
	if len(words) > 1 {
		rest = []rune(words[1])
	}
	if len(rest) > 2 {
		rest = rest[:2]
	}
	code := string(first[0]) + string(rest)
	return strings.ToUpper(code)
}
