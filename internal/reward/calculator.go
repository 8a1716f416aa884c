// Package reward вычисляет награду за просмотренную рекламу: базовая
// ставка предложения плюс независимые бонусы за активность пользователя.
package reward

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Проценты бонусов фиксированы и применяются к базовой ставке независимо
// друг от друга (без компаундинга); несколько бонусов суммируются.
const (
	// FirstAdPercent — бонус за первый просмотр за календарный день.
	FirstAdPercent = 50
	// StreakPercent — бонус за серию из StreakDays подряд дней с просмотрами.
	StreakPercent = 30
	// WeekendPercent — бонус за просмотр в субботу или воскресенье.
	WeekendPercent = 20

	// StreakDays — длина серии: столько предшествующих дней подряд должны
	// иметь хотя бы одну earn-операцию.
	StreakDays = 7

	// precision — число знаков после запятой во всех денежных величинах.
	precision = 1
)

// Breakdown — результат расчёта награды. Lines — человекочитаемые строки
// по каждому применённому бонусу, только для отображения: в зачисление
// идёт числовой Total.
type Breakdown struct {
	Base  float64  `json:"base"`
	Bonus float64  `json:"bonus"`
	Total float64  `json:"total"`
	Lines []string `json:"bonus_breakdown,omitempty"`
}

// DayKey возвращает ключ календарного дня в серверной локальной зоне.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Calculate вычисляет награду за просмотр. earnDays — множество
// локальных календарных дней (ключи DayKey), в которые у пользователя
// есть хотя бы одна earn-операция.
func Calculate(base float64, now time.Time, earnDays map[string]bool) Breakdown {
	baseDec := decimal.NewFromFloat(base).Round(precision)
	bonus := decimal.Zero
	var lines []string

	apply := func(percent int64, label string) {
		amount := baseDec.Mul(decimal.NewFromInt(percent)).Div(decimal.NewFromInt(100)).Round(precision)
		bonus = bonus.Add(amount)
		af, _ := amount.Float64()
		lines = append(lines, fmt.Sprintf("%s: +%d%% (+%.1f MIGP)", label, percent, af))
	}

	if !earnDays[DayKey(now)] {
		apply(FirstAdPercent, "First ad of the day")
	}

	if hasStreak(now, earnDays) {
		apply(StreakPercent, fmt.Sprintf("%d-day streak", StreakDays))
	}

	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		apply(WeekendPercent, "Weekend bonus")
	}

	total := baseDec.Add(bonus)

	bf, _ := baseDec.Float64()
	bonusF, _ := bonus.Float64()
	totalF, _ := total.Float64()

	return Breakdown{
		Base:  bf,
		Bonus: bonusF,
		Total: totalF,
		Lines: lines,
	}
}

// hasStreak проверяет серию: каждый из StreakDays дней, предшествующих
// сегодняшнему, должен содержать хотя бы одну earn-операцию. Обход идёт
// назад по дням и прерывается на первом пустом дне.
func hasStreak(now time.Time, earnDays map[string]bool) bool {
	for i := 1; i <= StreakDays; i++ {
		day := now.AddDate(0, 0, -i)
		if !earnDays[DayKey(day)] {
			return false
		}
	}
	return true
}
