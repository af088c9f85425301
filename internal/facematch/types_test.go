package facematch

import (
	"errors"
	"testing"
)

func TestRegionStringRoundTrip(t *testing.T) {
	regions := []Region{
		{0, 0, 1, 1},
		{700, 0, 750, 50},
		{12, 345, 678, 901},
		{-4, -2, 10, 10},
	}
	for _, r := range regions {
		t.Run(r.String(), func(t *testing.T) {
			parsed, err := ParseRegion(r.String())
			if err != nil {
				t.Fatalf("ParseRegion(%q) error: %v", r.String(), err)
			}
			if parsed != r {
				t.Errorf("round trip = %v, want %v", parsed, r)
			}

			fromInts, err := RegionFromInts(r.Ints())
			if err != nil {
				t.Fatalf("RegionFromInts error: %v", err)
			}
			if fromInts != r {
				t.Errorf("int round trip = %v, want %v", fromInts, r)
			}
		})
	}
}

func TestParseRegion_Invalid(t *testing.T) {
	inputs := []string{"", "1,2,3", "1,2,3,4,5", "a,b,c,d", "1.5,2,3,4"}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := ParseRegion(in)
			if !errors.Is(err, ErrInvalidRegion) {
				t.Errorf("ParseRegion(%q) error = %v, want ErrInvalidRegion", in, err)
			}
		})
	}
}

func TestRegionParseTolerateSpaces(t *testing.T) {
	r, err := ParseRegion(" 1, 2 ,3,4 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != (Region{1, 2, 3, 4}) {
		t.Errorf("got %v", r)
	}
}

func TestRegionDimensions(t *testing.T) {
	r := Region{10, 20, 40, 60}
	if r.Width() != 30 || r.Height() != 40 || r.Area() != 1200 {
		t.Errorf("dimensions = %dx%d area %d", r.Width(), r.Height(), r.Area())
	}
	empty := Region{10, 20, 5, 60}
	if !empty.Empty() || empty.Area() != 0 {
		t.Errorf("expected empty region, got area %d", empty.Area())
	}
}
