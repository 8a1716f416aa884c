package reward

import (
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func daysBefore(now time.Time, n int) map[string]bool {
	days := make(map[string]bool, n)
	for i := 1; i <= n; i++ {
		days[DayKey(now.AddDate(0, 0, -i))] = true
	}
	return days
}

func TestCalculate(t *testing.T) {
	// 2025-01-15 — среда, 2025-01-11 — суббота.
	wednesday := day("2025-01-15 12:00")
	saturday := day("2025-01-11 12:00")

	tests := []struct {
		name      string
		base      float64
		now       time.Time
		earnDays  map[string]bool
		wantBonus float64
		wantTotal float64
		wantLines int
	}{
		{
			name:      "no bonuses",
			base:      2.0,
			now:       wednesday,
			earnDays:  map[string]bool{DayKey(wednesday): true},
			wantBonus: 0,
			wantTotal: 2.0,
			wantLines: 0,
		},
		{
			name:      "first ad of the day",
			base:      2.0,
			now:       wednesday,
			earnDays:  map[string]bool{},
			wantBonus: 1.0,
			wantTotal: 3.0,
			wantLines: 1,
		},
		{
			name:      "streak only",
			base:      2.0,
			now:       wednesday,
			earnDays:  withToday(daysBefore(wednesday, StreakDays), wednesday),
			wantBonus: 0.6,
			wantTotal: 2.6,
			wantLines: 1,
		},
		{
			name:      "weekend only",
			base:      2.0,
			now:       saturday,
			earnDays:  map[string]bool{DayKey(saturday): true},
			wantBonus: 0.4,
			wantTotal: 2.4,
			wantLines: 1,
		},
		{
			name:      "all three bonuses stack on base",
			base:      2.0,
			now:       saturday,
			earnDays:  daysBefore(saturday, StreakDays),
			wantBonus: 2.0,
			wantTotal: 4.0,
			wantLines: 3,
		},
		{
			name:      "broken streak",
			base:      2.0,
			now:       wednesday,
			earnDays:  withToday(daysBefore(wednesday, StreakDays-1), wednesday),
			wantBonus: 0,
			wantTotal: 2.0,
			wantLines: 0,
		},
		{
			name:      "bonus rounded to one decimal",
			base:      1.5,
			now:       wednesday,
			earnDays:  map[string]bool{},
			wantBonus: 0.8,
			wantTotal: 2.3,
			wantLines: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.base, tt.now, tt.earnDays)

			if got.Bonus != tt.wantBonus {
				t.Errorf("bonus = %v, want %v", got.Bonus, tt.wantBonus)
			}
			if got.Total != tt.wantTotal {
				t.Errorf("total = %v, want %v", got.Total, tt.wantTotal)
			}
			if len(got.Lines) != tt.wantLines {
				t.Errorf("lines = %d, want %d: %v", len(got.Lines), tt.wantLines, got.Lines)
			}
		})
	}
}

func withToday(days map[string]bool, now time.Time) map[string]bool {
	days[DayKey(now)] = true
	return days
}

func TestHasStreak_TodayNotCounted(t *testing.T) {
	now := day("2025-01-15 12:00")

	// Просмотры сегодня и шесть предыдущих дней: серии из семи нет.
	days := withToday(daysBefore(now, StreakDays-1), now)
	if hasStreak(now, days) {
		t.Errorf("streak should require %d full days before today", StreakDays)
	}

	if !hasStreak(now, daysBefore(now, StreakDays)) {
		t.Errorf("expected streak with %d consecutive prior days", StreakDays)
	}
}
