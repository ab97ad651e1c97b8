package aggregator

import "math"

// Kitchen load classes, derived from active+pending orders.
const (
	KitchenIdle       = "idle"
	KitchenNormal     = "normal"
	KitchenBusy       = "busy"
	KitchenOverloaded = "overloaded"
)

const (
	normalLoadMax = 5
	busyLoadMax   = 10
)

// classifyKitchen maps the number of open kitchen orders to a load class
func classifyKitchen(active, pending int) string {
	n := active + pending
	switch {
	case n <= 0:
		return KitchenIdle
	case n <= normalLoadMax:
		return KitchenNormal
	case n <= busyLoadMax:
		return KitchenBusy
	default:
		return KitchenOverloaded
	}
}

// runningAverage folds value into oldAvg; count is the sample count after increment.
func runningAverage(oldAvg float64, count int, value float64) float64 {
	if count <= 0 {
		return oldAvg
	}
	return (oldAvg*float64(count-1) + value) / float64(count)
}

// slaCompliance returns the rounded share of completed orders that did not breach.
func slaCompliance(completed, breaches int) int {
	if completed <= 0 {
		return 100
	}
	pct := math.Round(float64(completed-breaches) / float64(completed) * 100)
	return int(math.Max(0, math.Min(100, pct)))
}

func percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// decr is a saturating decrement; event delivery is at-least-once and unordered.
func decr(v int) int {
	if v <= 0 {
		return 0
	}
	return v - 1
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
