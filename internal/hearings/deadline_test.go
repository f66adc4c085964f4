package hearings

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// The appeal window is a fixed 30 calendar days from the judgment date.
func Test_AppealDeadline_ThirtyCalendarDays(t *testing.T) {
	cases := []struct {
		name     string
		judgment time.Time
		want     time.Time
	}{
		{"mid month", date(2024, time.January, 15), date(2024, time.February, 14)},
		{"across leap day", date(2024, time.February, 1), date(2024, time.March, 2)},
		{"non leap february", date(2023, time.February, 1), date(2023, time.March, 3)},
		{"year boundary", date(2023, time.December, 15), date(2024, time.January, 14)},
		{"month end", date(2024, time.March, 31), date(2024, time.April, 30)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AppealDeadline(tc.judgment)
			if !got.Equal(tc.want) {
				t.Fatalf("AppealDeadline(%s) = %s, want %s",
					tc.judgment.Format("2006-01-02"), got.Format("2006-01-02"), tc.want.Format("2006-01-02"))
			}
		})
	}
}

// Clock time and zone of the judgment date carry through unchanged.
func Test_AppealDeadline_PreservesClockTime(t *testing.T) {
	loc := time.FixedZone("AST", 3*3600)
	j := time.Date(2024, time.June, 1, 14, 30, 0, 0, loc)
	got := AppealDeadline(j)
	if got.Hour() != 14 || got.Minute() != 30 || got.Location() != loc {
		t.Fatalf("deadline should keep the judgment's clock time, got %s", got)
	}
}
