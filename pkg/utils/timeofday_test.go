package utils

import "testing"

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00:00", 0, false},
		{"09:30:00", 9*3600 + 30*60, false},
		{"15:55:30", 15*3600 + 55*60 + 30, false},
		{"23:59:59", 23*3600 + 59*60 + 59, false},
		{"24:00:00", 0, true},
		{"09:61:00", 0, true},
		{"garbage", 0, true},
		{"", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseTimeOfDay(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseTimeOfDay(%q) = %d, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseTimeOfDay(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestCompareTimeOfDay(t *testing.T) {
	if CompareTimeOfDay("09:30:00", "09:31:00") >= 0 {
		t.Error("09:30 should sort before 09:31")
	}
	if CompareTimeOfDay("10:00:00", "10:00:00") != 0 {
		t.Error("Equal times should compare equal")
	}
	if CompareTimeOfDay("16:00:00", "09:30:00") <= 0 {
		t.Error("16:00 should sort after 09:30")
	}
}

func TestCompareTimeOfDayMalformedSortsLast(t *testing.T) {
	// A garbage time must compare later than any real bar time so it can
	// never pass a "not in the future" check.
	if CompareTimeOfDay("not-a-time", "15:59:00") <= 0 {
		t.Error("Malformed time should sort after valid times")
	}
	if CompareTimeOfDay("09:30:00", "not-a-time") >= 0 {
		t.Error("Valid time should sort before malformed")
	}
}

func TestDateOf(t *testing.T) {
	// 2026-03-02 09:30:00 UTC
	if got := DateOf(1772443800000, nil); got != "2026-03-02" {
		t.Errorf("DateOf = %s, want 2026-03-02", got)
	}
}
