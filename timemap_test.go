package openscreen

import "testing"

func TestMapEffectiveToSourceNoTrims(t *testing.T) {
	for _, ms := range []int64{0, 1, 500, 99999} {
		if got := MapEffectiveToSource(ms, nil); got != ms {
			t.Errorf("MapEffectiveToSource(%d, nil) = %d, want identity", ms, got)
		}
	}
}

func TestMapEffectiveToSourceSingleTrim(t *testing.T) {
	trims := []TrimRegion{{StartMs: 2000, EndMs: 4000}}

	// Before the trim: identity.
	if got := MapEffectiveToSource(1500, trims); got != 1500 {
		t.Errorf("map(1500) = %d, want 1500", got)
	}
	// After the trim: shifted by the removed length.
	if got := MapEffectiveToSource(2500, trims); got != 4500 {
		t.Errorf("map(2500) = %d, want 4500", got)
	}
	// Exactly at the trim start maps to the trim end.
	if got := MapEffectiveToSource(2000, trims); got != 4000 {
		t.Errorf("map(2000) = %d, want 4000", got)
	}
}

func TestMapEffectiveToSourceMultipleTrims(t *testing.T) {
	trims := []TrimRegion{
		{StartMs: 5000, EndMs: 6000},
		{StartMs: 1000, EndMs: 2000},
	}
	// Unsorted input must behave identically to sorted input.
	if got := MapEffectiveToSource(1000, trims); got != 2000 {
		t.Errorf("map(1000) = %d, want 2000", got)
	}
	// 4000 effective = 1000 before first trim + 3000 between trims,
	// crossing both removed regions.
	if got := MapEffectiveToSource(4500, trims); got != 6500 {
		t.Errorf("map(4500) = %d, want 6500", got)
	}
}

func TestMapEffectiveToSourceMonotonic(t *testing.T) {
	trims := []TrimRegion{
		{StartMs: 300, EndMs: 700},
		{StartMs: 1500, EndMs: 1501},
		{StartMs: 4000, EndMs: 9000},
	}
	prev := int64(-1)
	for eff := int64(0); eff <= 6000; eff += 7 {
		got := MapEffectiveToSource(eff, trims)
		if got < prev {
			t.Fatalf("mapping not monotonic: map(%d) = %d after %d", eff, got, prev)
		}
		prev = got
	}
}

func TestEffectiveDurationMs(t *testing.T) {
	cases := []struct {
		name   string
		source int64
		trims  []TrimRegion
		want   int64
	}{
		{"no trims", 10000, nil, 10000},
		{"single trim", 10000, []TrimRegion{{StartMs: 2000, EndMs: 4000}}, 8000},
		{"two trims", 10000, []TrimRegion{{StartMs: 0, EndMs: 1000}, {StartMs: 9000, EndMs: 10000}}, 8000},
		{"trim everything", 5000, []TrimRegion{{StartMs: 0, EndMs: 5000}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EffectiveDurationMs(tc.source, tc.trims); got != tc.want {
				t.Errorf("EffectiveDurationMs = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestTotalFrames(t *testing.T) {
	cases := []struct {
		ms   int64
		fps  float64
		want int
	}{
		{2000, 30, 60},   // exact multiple stays exact
		{2010, 30, 61},   // partial trailing frame rounds up
		{8000, 30, 240},  // 10s source minus a 2s trim
		{1000, 29.97, 30},
		{0, 30, 0},
	}
	for _, tc := range cases {
		if got := TotalFrames(tc.ms, tc.fps); got != tc.want {
			t.Errorf("TotalFrames(%dms, %g) = %d, want %d", tc.ms, tc.fps, got, tc.want)
		}
	}
}

func TestSourceSegments(t *testing.T) {
	trims := []TrimRegion{{StartMs: 2000, EndMs: 4000}, {StartMs: 8000, EndMs: 9000}}
	segs := SourceSegments(10000, trims)
	want := []Segment{{0, 2000}, {4000, 8000}, {9000, 10000}}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(segs), len(want), segs)
	}
	for i, s := range segs {
		if s != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, s, want[i])
		}
	}
}

func TestSourceSegmentsNoTrims(t *testing.T) {
	segs := SourceSegments(5000, nil)
	if len(segs) != 1 || segs[0] != (Segment{0, 5000}) {
		t.Errorf("got %+v, want single full segment", segs)
	}
}

func TestSourceSegmentsClampsOutOfRange(t *testing.T) {
	// A trim extending past the clip end must not produce a negative segment.
	segs := SourceSegments(5000, []TrimRegion{{StartMs: 4000, EndMs: 7000}})
	if len(segs) != 1 || segs[0] != (Segment{0, 4000}) {
		t.Errorf("got %+v, want [{0 4000}]", segs)
	}
}
