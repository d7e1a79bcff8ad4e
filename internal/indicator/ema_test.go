package indicator

import (
	"math"
	"testing"
)

func TestComputeEMAShortSeriesReturnsZeros(t *testing.T) {
	prices := []float64{101.5, 102.25, 99.8}
	got := ComputeEMA(prices, 5)
	if len(got) != len(prices) {
		t.Fatalf("期望长度 %d, 实际 %d", len(prices), len(got))
	}
	for i, v := range got {
		if v != 0 {
			t.Fatalf("index %d should be zero, got %v", i, v)
		}
	}
}

func TestComputeEMAInvalidPeriod(t *testing.T) {
	got := ComputeEMA([]float64{1, 2, 3}, 0)
	for i, v := range got {
		if v != 0 {
			t.Fatalf("index %d should be zero for period 0, got %v", i, v)
		}
	}
}

func TestComputeEMASeedAndRecursion(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	got := ComputeEMA(prices, 3)

	if got[0] != 0 || got[1] != 0 {
		t.Fatalf("placeholder entries should be zero, got %v", got[:2])
	}
	if got[2] != 2 {
		t.Fatalf("seed should equal SMA(1,2,3)=2, got %v", got[2])
	}
	// k = 2/4 = 0.5: ema[3] = 4*0.5 + 2*0.5 = 3, ema[4] = 5*0.5 + 3*0.5 = 4
	if math.Abs(got[3]-3) > 1e-12 || math.Abs(got[4]-4) > 1e-12 {
		t.Fatalf("recursion mismatch: %v", got)
	}
}

func TestComputeEMASeedIsMeanOfFirstPeriod(t *testing.T) {
	prices := []float64{10.5, 11.25, 9.75, 10, 12.5, 13, 12.75, 11.9}
	period := 5

	var sum float64
	for _, p := range prices[:period] {
		sum += p
	}
	want := sum / float64(period)

	got := ComputeEMA(prices, period)
	if got[period-1] != want {
		t.Fatalf("seed mismatch: want %v, got %v", want, got[period-1])
	}
}

func TestComputeEMADeterministic(t *testing.T) {
	prices := make([]float64, 200)
	for i := range prices {
		prices[i] = 100 + math.Sin(float64(i)/7)*3
	}

	first := ComputeEMA(prices, 21)
	second := ComputeEMA(prices, 21)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("EMA 不是确定性的: index %d, %v != %v", i, first[i], second[i])
		}
	}
}
