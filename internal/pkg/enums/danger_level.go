package enums

// DangerLevel is the ordinal threat level derived from a momentum window.
type DangerLevel string

const (
	DangerLow      DangerLevel = "LOW"
	DangerMedium   DangerLevel = "MEDIUM"
	DangerHigh     DangerLevel = "HIGH"
	DangerCritical DangerLevel = "CRITICAL"
)

// Rank orders levels so callers can compare them (LOW=0 ... CRITICAL=3).
func (d DangerLevel) Rank() int {
	switch d {
	case DangerMedium:
		return 1
	case DangerHigh:
		return 2
	case DangerCritical:
		return 3
	default:
		return 0
	}
}
