package defaults

import (
	"errors"
	"testing"

	"github.com/ts4z/cyclepot/paytable"
)

func TestCyclePaytableIsValid(t *testing.T) {
	if err := CyclePaytable().Validate(); err != nil {
		t.Fatalf("built-in paytable is invalid: %v", err)
	}
	if got := CyclePaytable().MaxWinners(); got != 10 {
		t.Errorf("MaxWinners() = %d, want 10", got)
	}
}

func TestSharesSumAndOrdering(t *testing.T) {
	pt := CyclePaytable()
	for n := 1; n <= 10; n++ {
		for fee := 0; fee <= 5000; fee += 7 {
			shares, err := pt.Shares(n, fee)
			if err != nil {
				t.Fatalf("Shares(%d, %d) returned error: %v", n, fee, err)
			}
			if len(shares) != n {
				t.Fatalf("Shares(%d, %d) returned %d shares", n, fee, len(shares))
			}
			sum := 0
			for i, s := range shares {
				sum += s
				if s > shares[0] {
					t.Errorf("Shares(%d, %d)[%d] = %d > first place %d", n, fee, i, s, shares[0])
				}
			}
			if sum != paytable.BasisPoints-fee {
				t.Errorf("Shares(%d, %d) sums to %d, want %d", n, fee, sum, paytable.BasisPoints-fee)
			}
		}
	}
}

func TestShares(t *testing.T) {
	tests := []struct {
		name       string
		numWinners int
		fee        int
		want       []int
	}{
		{
			name:       "winner takes all, no fee",
			numWinners: 1,
			fee:        0,
			want:       []int{10000},
		},
		{
			name:       "three winners, 10% fee",
			numWinners: 3,
			fee:        1000,
			want:       []int{5400, 2700, 900},
		},
		{
			name:       "three winners, residual goes to last place",
			numWinners: 3,
			fee:        1,
			want:       []int{5999, 2999, 1001},
		},
		{
			name:       "ten winners, no fee",
			numWinners: 10,
			fee:        0,
			want:       []int{2500, 2000, 1500, 1000, 1000, 700, 500, 400, 300, 100},
		},
		{
			name:       "two winners, maximum fee",
			numWinners: 2,
			fee:        5000,
			want:       []int{3500, 1500},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CyclePaytable().Shares(tt.numWinners, tt.fee)
			if err != nil {
				t.Fatalf("Shares() returned error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d shares, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("share[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
			t.Logf("Winners: %d, fee: %d", tt.numWinners, tt.fee)
			for i, s := range got {
				t.Logf("  Place %d: %d bps", i+1, s)
			}
		})
	}
}

func TestSharesUnsupportedWinnerCount(t *testing.T) {
	for _, n := range []int{-1, 0, 11, 100} {
		shares, err := CyclePaytable().Shares(n, 1000)
		if !errors.Is(err, paytable.ErrUnsupportedWinnerCount) {
			t.Errorf("Shares(%d) error = %v, want ErrUnsupportedWinnerCount", n, err)
		}
		if len(shares) != 0 {
			t.Errorf("Shares(%d) returned %d shares, want none", n, len(shares))
		}
	}
}

func TestSharesBadFee(t *testing.T) {
	if _, err := CyclePaytable().Shares(3, 10001); err == nil {
		t.Errorf("expected error for fee above 100%%")
	}
	if _, err := CyclePaytable().Shares(3, -1); err == nil {
		t.Errorf("expected error for negative fee")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := CyclePaytable()
	a.Rows[0].Weights[0] = 1
	if CyclePaytable().Rows[0].Weights[0] != 10000 {
		t.Errorf("mutating a clone changed the built-in table")
	}
}
