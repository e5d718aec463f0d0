package marketdata

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

var windows = []int{7, 20, 50, 200}

const (
	rsiPeriod  = 14
	atrPeriod  = 14
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

// ComputeIndicators fills the indicators of bars, which must be sorted
// oldest first. talib pads its output with zeros up to the lookback, so
// values are only taken at indexes past each indicator's lookback.
func ComputeIndicators(bars []Bar) {
	n := len(bars)
	if n == 0 {
		return
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = float64(b.Volume)
	}

	for i := range bars {
		bars[i].Indicators = Indicators{}
	}

	for _, w := range windows {
		if n < w {
			continue
		}
		sma := talib.Sma(closes, w)
		for i := w - 1; i < n; i++ {
			setWindow(&bars[i].Indicators, w, sma[i], vwma(closes[i-w+1:i+1], volumes[i-w+1:i+1]))
		}
	}

	if n > rsiPeriod {
		rsi := talib.Rsi(closes, rsiPeriod)
		for i := rsiPeriod; i < n; i++ {
			bars[i].RSI14 = finite(rsi[i])
		}
	}

	if lookback := macdSlow + macdSignal - 2; n > lookback {
		macd, signal, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
		for i := lookback; i < n; i++ {
			bars[i].MACD = finite(macd[i])
			bars[i].MACDSignal = finite(signal[i])
			bars[i].MACDHist = finite(hist[i])
		}
	}

	if n > atrPeriod {
		atr := talib.Atr(highs, lows, closes, atrPeriod)
		for i := atrPeriod; i < n; i++ {
			bars[i].ATR14 = finite(atr[i])
		}
	}
}

// vwma is the volume-weighted mean of closes. Undefined when the window
// traded no volume.
func vwma(closes, volumes []float64) *float64 {
	var total float64
	for _, v := range volumes {
		total += v
	}
	if total == 0 {
		return nil
	}
	return finite(stat.Mean(closes, volumes))
}

func setWindow(ind *Indicators, w int, sma float64, vw *float64) {
	switch w {
	case 7:
		ind.SMA7, ind.VWMA7 = finite(sma), vw
	case 20:
		ind.SMA20, ind.VWMA20 = finite(sma), vw
	case 50:
		ind.SMA50, ind.VWMA50 = finite(sma), vw
	case 200:
		ind.SMA200, ind.VWMA200 = finite(sma), vw
	}
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
