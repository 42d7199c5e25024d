package indicators

import (
	"math"

	"confluence-trader/market"
)

// pivotWindow is the ±bar count a swing extreme must dominate.
const pivotWindow = 2

// SwingPoint is a pivot high or low in the candle series.
type SwingPoint struct {
	Index int
	Price float64
}

// SwingHighs returns pivot highs: bars whose high exceeds the highs of the
// two bars on either side.
func SwingHighs(candles []market.Candle) []SwingPoint {
	var out []SwingPoint
	for i := pivotWindow; i < len(candles)-pivotWindow; i++ {
		isPivot := true
		for j := i - pivotWindow; j <= i+pivotWindow; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isPivot = false
				break
			}
		}
		if isPivot {
			out = append(out, SwingPoint{Index: i, Price: candles[i].High})
		}
	}
	return out
}

// SwingLows returns pivot lows, symmetric to SwingHighs.
func SwingLows(candles []market.Candle) []SwingPoint {
	var out []SwingPoint
	for i := pivotWindow; i < len(candles)-pivotWindow; i++ {
		isPivot := true
		for j := i - pivotWindow; j <= i+pivotWindow; j++ {
			if j == i {
				continue
			}
			if candles[j].Low <= candles[i].Low {
				isPivot = false
				break
			}
		}
		if isPivot {
			out = append(out, SwingPoint{Index: i, Price: candles[i].Low})
		}
	}
	return out
}

// NearestSupport returns the highest swing low strictly below price, or 0.
func NearestSupport(candles []market.Candle, price float64) float64 {
	best := 0.0
	for _, p := range SwingLows(candles) {
		if p.Price < price && p.Price > best {
			best = p.Price
		}
	}
	return best
}

// NearestResistance returns the lowest swing high strictly above price, or 0.
func NearestResistance(candles []market.Candle, price float64) float64 {
	best := 0.0
	for _, p := range SwingHighs(candles) {
		if p.Price > price && (best == 0 || p.Price < best) {
			best = p.Price
		}
	}
	return best
}

// OrderBlock is the last opposing candle before an impulsive move.
type OrderBlock struct {
	Index   int
	High    float64
	Low     float64
	Bullish bool // bullish block: demand zone below price
}

// OrderBlocks finds opposing candles whose following move exceeds 0.4·ATR.
func OrderBlocks(candles []market.Candle, atr float64) []OrderBlock {
	if atr <= 0 || len(candles) < 2 {
		return nil
	}
	threshold := 0.4 * atr

	var out []OrderBlock
	for i := 0; i < len(candles)-1; i++ {
		cur := candles[i]
		next := candles[i+1]
		bearishBody := cur.Close < cur.Open
		bullishBody := cur.Close > cur.Open

		// Bearish candle then an up-move beyond its high: demand block.
		if bearishBody && next.Close-cur.High > threshold {
			out = append(out, OrderBlock{Index: i, High: cur.High, Low: cur.Low, Bullish: true})
		}
		// Bullish candle then a down-move beyond its low: supply block.
		if bullishBody && cur.Low-next.Close > threshold {
			out = append(out, OrderBlock{Index: i, High: cur.High, Low: cur.Low, Bullish: false})
		}
	}
	return out
}

// FVG is a three-candle imbalance: the wicks of bars i and i+2 never
// overlap, leaving an unfilled gap.
type FVG struct {
	Index   int // middle candle
	Top     float64
	Bottom  float64
	Bullish bool
}

// FairValueGaps scans for three-candle imbalances.
func FairValueGaps(candles []market.Candle) []FVG {
	var out []FVG
	for i := 0; i+2 < len(candles); i++ {
		first := candles[i]
		third := candles[i+2]

		// Bullish: gap between first high and third low.
		if third.Low > first.High {
			out = append(out, FVG{Index: i + 1, Top: third.Low, Bottom: first.High, Bullish: true})
		}
		// Bearish: gap between first low and third high.
		if third.High < first.Low {
			out = append(out, FVG{Index: i + 1, Top: first.Low, Bottom: third.High, Bullish: false})
		}
	}
	return out
}

// LiquidityCluster groups swing extremes sitting within 0.5% of each other;
// more touches mean a stronger level.
type LiquidityCluster struct {
	Price     float64
	Touches   int
	IsSupport bool
}

// LiquidityClusters clusters swing lows (support) and swing highs
// (resistance) within a 0.5% price band.
func LiquidityClusters(candles []market.Candle) []LiquidityCluster {
	cluster := func(points []SwingPoint, isSupport bool) []LiquidityCluster {
		var out []LiquidityCluster
		used := make([]bool, len(points))
		for i := range points {
			if used[i] {
				continue
			}
			sum := points[i].Price
			count := 1
			used[i] = true
			for j := i + 1; j < len(points); j++ {
				if used[j] {
					continue
				}
				if math.Abs(points[j].Price-points[i].Price)/points[i].Price <= 0.005 {
					sum += points[j].Price
					count++
					used[j] = true
				}
			}
			if count >= 2 {
				out = append(out, LiquidityCluster{
					Price:     sum / float64(count),
					Touches:   count,
					IsSupport: isSupport,
				})
			}
		}
		return out
	}

	out := cluster(SwingLows(candles), true)
	out = append(out, cluster(SwingHighs(candles), false)...)
	return out
}
