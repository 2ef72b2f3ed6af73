package app

import "testing"

func TestComputeFee(t *testing.T) {
	cases := []struct {
		name    string
		gross   int64
		percent float64
		want    int64
	}{
		{"typical percentage", 10000, 7.5, 750},
		{"quarter kobo rounds down", 10, 2.5, 0},
		{"half kobo rounds up", 20, 2.5, 1},
		{"whole percent", 10000, 10, 1000},
		{"zero percent", 10000, 0, 0},
		{"zero gross", 0, 7.5, 0},
		{"negative gross", -500, 7.5, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeFee(tc.gross, tc.percent); got != tc.want {
				t.Fatalf("ComputeFee(%d, %f) = %d, want %d", tc.gross, tc.percent, got, tc.want)
			}
		})
	}
}

func TestSplitDeposit(t *testing.T) {
	fee, net := SplitDeposit(10000, 7.5)
	if fee != 750 {
		t.Fatalf("expected fee 750, got %d", fee)
	}
	if net != 9250 {
		t.Fatalf("expected net 9250, got %d", net)
	}
	if fee+net != 10000 {
		t.Fatalf("fee %d + net %d does not sum to gross", fee, net)
	}
}
