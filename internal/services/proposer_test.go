package services

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewProposer(t *testing.T) {
	tests := []struct {
		name    string
		min     string
		max     string
		wantErr bool
	}{
		{"valid range", "0.50", "10.00", false},
		{"single value", "2", "2", false},
		{"negative min", "-1", "2", true},
		{"inverted", "5", "1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProposer(dec(tt.min), dec(tt.max), nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewProposer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProposer_ProposeStaysInRangeAndRoundsToCents(t *testing.T) {
	p, err := NewProposer(dec("0.50"), dec("1.00"), rand.NewPCG(1, 2))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 500; i++ {
		got := p.Propose()
		if got.LessThan(dec("0.50")) || got.GreaterThan(dec("1.00")) {
			t.Fatalf("Propose() = %s, outside [0.50, 1.00]", got)
		}
		if !got.Equal(got.Round(2)) {
			t.Fatalf("Propose() = %s, not whole cents", got)
		}
	}
}

func TestProposer_DegenerateRange(t *testing.T) {
	p, err := NewProposer(dec("3.25"), dec("3.25"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Propose(); !got.Equal(dec("3.25")) {
		t.Errorf("Propose() = %s, want 3.25", got)
	}
}

func TestProposer_SameSeedSameSequence(t *testing.T) {
	a, _ := NewProposer(dec("0"), dec("100"), rand.NewPCG(7, 7))
	b, _ := NewProposer(dec("0"), dec("100"), rand.NewPCG(7, 7))
	for i := 0; i < 10; i++ {
		if x, y := a.Propose(), b.Propose(); !x.Equal(y) {
			t.Fatalf("draw %d: %s != %s", i, x, y)
		}
	}
}
