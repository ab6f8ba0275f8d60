package kisbroker

// TickSize returns the KRX price tick for a given price level.
//
//	< 1,000        1
//	< 5,000        5
//	< 10,000      10
//	< 50,000      50
//	< 100,000    100
//	< 500,000    500
//	>= 500,000  1000
func TickSize(price int) int {
	switch {
	case price < 1_000:
		return 1
	case price < 5_000:
		return 5
	case price < 10_000:
		return 10
	case price < 50_000:
		return 50
	case price < 100_000:
		return 100
	case price < 500_000:
		return 500
	default:
		return 1_000
	}
}

// RoundDirection selects how RoundToTick treats prices between ticks.
type RoundDirection int

const (
	RoundDown RoundDirection = iota
	RoundUp
	RoundNearest
)

// RoundToTick snaps a price onto the KRX tick grid.
func RoundToTick(price float64, dir RoundDirection) int {
	if price <= 0 {
		return 0
	}
	tick := TickSize(int(price))
	switch dir {
	case RoundUp:
		return (int(price) + tick - 1) / tick * tick
	case RoundNearest:
		return int(price/float64(tick)+0.5) * tick
	default:
		return int(price) / tick * tick
	}
}
