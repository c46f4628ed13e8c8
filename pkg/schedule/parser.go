package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fleetcron/core/pkg/models"
)

// Nominal intervals per frequency class, in minutes. Monthly assumes a
// 30-day month; these feed a buffered threshold, not an exact deadline.
const (
	intervalHourly  = 60
	intervalDaily   = 1440
	intervalWeekly  = 10080
	intervalMonthly = 43200
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse converts a schedule expression into a frequency classification and
// an expected run interval. It never fails: anything it cannot classify
// confidently comes back as custom or unknown with no interval.
func Parse(expression string) models.ScheduleSpec {
	expr := strings.TrimSpace(expression)
	spec := models.ScheduleSpec{Raw: expression, Class: models.FrequencyUnknown}

	if expr == "" {
		return spec
	}

	// Anything robfig's parser rejects is not a schedule we can reason about.
	if _, err := cronParser.Parse(expr); err != nil {
		return spec
	}

	if strings.HasPrefix(expr, "@") {
		return parseDescriptor(expression, expr)
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		spec.Class = models.FrequencyCustom
		return spec
	}

	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	switch {
	case isAny(hour) && isAny(dom) && isAny(month) && isAny(dow):
		// Only the minute field carries meaning.
		if n, ok := stepOf(minute); ok {
			return withInterval(expression, models.FrequencyEveryNMinutes, n)
		}
		if isAny(minute) {
			return withInterval(expression, models.FrequencyEveryNMinutes, 1)
		}
		if isFixed(minute) {
			return withInterval(expression, models.FrequencyHourly, intervalHourly)
		}
	case isFixed(minute) && isFixed(hour) && isAny(month):
		switch {
		case isAny(dom) && isAny(dow):
			return withInterval(expression, models.FrequencyDaily, intervalDaily)
		case isAny(dom) && isFixed(dow):
			return withInterval(expression, models.FrequencyWeekly, intervalWeekly)
		case isFixed(dom) && isAny(dow):
			return withInterval(expression, models.FrequencyMonthly, intervalMonthly)
		}
	}

	spec.Class = models.FrequencyCustom
	return spec
}

func parseDescriptor(raw, expr string) models.ScheduleSpec {
	switch expr {
	case "@hourly":
		return withInterval(raw, models.FrequencyHourly, intervalHourly)
	case "@daily", "@midnight":
		return withInterval(raw, models.FrequencyDaily, intervalDaily)
	case "@weekly":
		return withInterval(raw, models.FrequencyWeekly, intervalWeekly)
	case "@monthly":
		return withInterval(raw, models.FrequencyMonthly, intervalMonthly)
	}

	if after, ok := strings.CutPrefix(expr, "@every "); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(after)); err == nil {
			if d >= time.Minute && d%time.Minute == 0 {
				return withInterval(raw, models.FrequencyEveryNMinutes, int(d/time.Minute))
			}
		}
	}

	// @yearly and sub-minute @every intervals have no class of their own.
	return models.ScheduleSpec{Raw: raw, Class: models.FrequencyCustom}
}

func withInterval(raw string, class models.FrequencyClass, minutes int) models.ScheduleSpec {
	return models.ScheduleSpec{Raw: raw, Class: class, IntervalMinutes: &minutes}
}

// isAny reports whether the field is unconstrained.
func isAny(field string) bool {
	return field == "*"
}

// isFixed reports whether the field pins a single value.
func isFixed(field string) bool {
	_, err := strconv.Atoi(field)
	return err == nil
}

// stepOf extracts N from a "*/N" field.
func stepOf(field string) (int, bool) {
	after, ok := strings.CutPrefix(field, "*/")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(after)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
