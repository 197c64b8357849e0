package profile

import "testing"

func TestAddSub(t *testing.T) {
	a := New(2, 2)
	b := New(1, 1)

	if got, want := a.Add(b), New(3, 3); got != want {
		t.Fatalf("Add() = %v, want %v", got, want)
	}

	if got, want := a.Sub(b), New(1, 1); got != want {
		t.Fatalf("Sub() = %v, want %v", got, want)
	}
}

func TestSubCanGoNegative(t *testing.T) {
	total := New(1, 1)
	rustc := New(4, 4)

	got := total.Sub(rustc)
	want := New(-3, -3)
	if got != want {
		t.Fatalf("Sub() = %v, want %v (subtraction must not saturate)", got, want)
	}
}

func TestFits(t *testing.T) {
	cases := []struct {
		name      string
		demand    Profile
		available Profile
		want      bool
	}{
		{"exact fit", New(1, 1), New(1, 1), true},
		{"under fit", New(1, 1), New(2, 2), true},
		{"cpu overflow", New(2, 1), New(1, 2), false},
		{"mem overflow", New(1, 2), New(2, 1), false},
		{"negative available never fits", New(1, 1), New(-1, 1), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.demand.Fits(c.available); got != c.want {
				t.Fatalf("Fits() = %v, want %v", got, c.want)
			}
		})
	}
}
