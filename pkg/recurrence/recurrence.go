package recurrence

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // source zone must resolve on hosts without zoneinfo

	"github.com/cuemby/herald/pkg/types"
)

// ErrInvalidSchedule is wrapped by every compilation failure
var ErrInvalidSchedule = errors.New("invalid schedule")

const (
	// DefaultLocation is the zone user-supplied wall-clock values are read in
	DefaultLocation = "Asia/Kolkata"

	timeLayout     = "15:04"
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05"
)

var (
	timePattern     = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)

	weekdays = map[string]int{
		"sunday":    0,
		"monday":    1,
		"tuesday":   2,
		"wednesday": 3,
		"thursday":  4,
		"friday":    5,
		"saturday":  6,
	}
)

// Kind distinguishes one-shot schedules from repeat rules
type Kind string

const (
	KindOnce   Kind = "once"
	KindRepeat Kind = "repeat"
)

// Schedule is the primitive handed to the durable queue
type Schedule struct {
	Kind   Kind
	Delay  time.Duration     // KindOnce: wait before the job becomes due
	RunAt  time.Time         // KindOnce: absolute UTC instant
	Repeat *types.RepeatRule // KindRepeat
}

// Request is a reminder's timing description.
// Ends is accepted at request level as well as inside Recurrence.
type Request struct {
	Time        string
	OneTimeDate string
	Recurrence  *types.Recurrence
	Ends        *types.Ends
}

// Compiler turns recurrence descriptions into schedule primitives
type Compiler struct {
	loc *time.Location
	now func() time.Time
}

// NewCompiler creates a compiler reading wall-clock values in loc
func NewCompiler(loc *time.Location) *Compiler {
	if loc == nil {
		loc = time.UTC
	}
	return &Compiler{loc: loc, now: time.Now}
}

// LoadLocation resolves a zone name, defaulting to DefaultLocation
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", name, err)
	}
	return loc, nil
}

// WithClock replaces the compiler's time source
func (c *Compiler) WithClock(now func() time.Time) *Compiler {
	c.now = now
	return c
}

// Location returns the source time zone
func (c *Compiler) Location() *time.Location {
	return c.loc
}

// Compile converts req into a schedule primitive.
// Every failure wraps ErrInvalidSchedule; nothing is guessed.
func (c *Compiler) Compile(req Request) (Schedule, error) {
	rec := req.Recurrence
	if rec.IsEmpty() {
		return c.oneShot(req.OneTimeDate)
	}

	switch types.RecurrenceType(strings.ToLower(string(rec.Type))) {
	case types.RecurrenceOnce:
		date := rec.OneTimeDate
		if date == "" {
			date = req.OneTimeDate
		}
		return c.oneShot(date)
	case types.RecurrenceDaily:
		return c.daily(req.Time)
	case types.RecurrenceWeekly:
		return c.weekly(req.Time, rec.Days)
	case types.RecurrenceLimited:
		ends := rec.Ends
		if ends == nil {
			ends = req.Ends
		}
		return c.limited(req.Time, rec.StartDate, ends)
	case "":
		return Schedule{}, invalid("recurrence type is required")
	default:
		return Schedule{}, invalid("unsupported recurrence type %q", rec.Type)
	}
}

func (c *Compiler) oneShot(oneTimeDate string) (Schedule, error) {
	if oneTimeDate == "" {
		return Schedule{}, invalid("one_time_date is required for a one-time reminder")
	}
	if !dateTimePattern.MatchString(oneTimeDate) {
		return Schedule{}, invalid("one_time_date %q must match yyyy-MM-ddTHH:mm:ssZ", oneTimeDate)
	}

	local, err := time.ParseInLocation(dateTimeLayout, strings.TrimSuffix(oneTimeDate, "Z"), c.loc)
	if err != nil {
		return Schedule{}, invalid("one_time_date %q: %v", oneTimeDate, err)
	}

	runAt := local.UTC()
	delay := runAt.Sub(c.now())
	if delay < 0 {
		return Schedule{}, invalid("one_time_date %q is in the past", oneTimeDate)
	}

	return Schedule{Kind: KindOnce, Delay: delay, RunAt: runAt}, nil
}

func (c *Compiler) daily(hhmm string) (Schedule, error) {
	hour, minute, _, err := c.utcClock(hhmm)
	if err != nil {
		return Schedule{}, err
	}
	return repeat(fmt.Sprintf("%d %d * * *", minute, hour), nil, nil)
}

func (c *Compiler) weekly(hhmm string, days []string) (Schedule, error) {
	hour, minute, shift, err := c.utcClock(hhmm)
	if err != nil {
		return Schedule{}, err
	}

	seen := make(map[int]bool)
	for _, day := range days {
		idx, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
		if !ok {
			continue
		}
		seen[(idx+shift+7)%7] = true
	}
	if len(seen) == 0 {
		return Schedule{}, invalid("weekly recurrence requires at least one valid weekday")
	}

	indices := make([]int, 0, len(seen))
	for idx := range seen {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}

	return repeat(fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(parts, ",")), nil, nil)
}

func (c *Compiler) limited(hhmm, startDate string, ends *types.Ends) (Schedule, error) {
	if startDate == "" {
		return Schedule{}, invalid("limited recurrence requires start_date")
	}

	start, err := c.instant(startDate, hhmm)
	if err != nil {
		return Schedule{}, err
	}

	var end *time.Time
	if ends != nil {
		switch ends.Type {
		case types.EndsOnDate:
			e, err := c.instant(ends.Value, hhmm)
			if err != nil {
				return Schedule{}, err
			}
			if !e.After(start) {
				return Schedule{}, invalid("end date %q must be after start date %q", ends.Value, startDate)
			}
			end = &e
		case types.EndsAfterRepetitions:
			return Schedule{}, invalid("ends after_repetitions is not supported")
		default:
			return Schedule{}, invalid("unsupported ends type %q", ends.Type)
		}
	}

	return repeat(fmt.Sprintf("%d %d * * *", start.Minute(), start.Hour()), &start, end)
}

// utcClock converts HH:mm in the source zone to a UTC hour and minute.
// shift is the day offset the conversion introduces (-1, 0 or +1).
func (c *Compiler) utcClock(hhmm string) (hour, minute, shift int, err error) {
	h, m, err := parseClock(hhmm)
	if err != nil {
		return 0, 0, 0, err
	}

	today := c.now().In(c.loc)
	local := time.Date(today.Year(), today.Month(), today.Day(), h, m, 0, 0, c.loc)
	utc := local.UTC()

	localDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	utcDay := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	shift = int(utcDay.Sub(localDay).Hours() / 24)

	return utc.Hour(), utc.Minute(), shift, nil
}

// instant resolves a yyyy-MM-dd date at HH:mm in the source zone to UTC
func (c *Compiler) instant(date, hhmm string) (time.Time, error) {
	if !datePattern.MatchString(date) {
		return time.Time{}, invalid("date %q must match yyyy-MM-dd", date)
	}
	if _, _, err := parseClock(hhmm); err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+hhmm, c.loc)
	if err != nil {
		return time.Time{}, invalid("date %q: %v", date, err)
	}
	return t.UTC(), nil
}

func parseClock(hhmm string) (int, int, error) {
	if !timePattern.MatchString(hhmm) {
		return 0, 0, invalid("time %q must match HH:mm", hhmm)
	}
	h, _ := strconv.Atoi(hhmm[:2])
	m, _ := strconv.Atoi(hhmm[3:])
	return h, m, nil
}

func repeat(pattern string, start, end *time.Time) (Schedule, error) {
	rule := &types.RepeatRule{Pattern: pattern, StartDate: start, EndDate: end}
	if err := Validate(rule); err != nil {
		return Schedule{}, err
	}
	return Schedule{Kind: KindRepeat, Repeat: rule}, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchedule, fmt.Sprintf(format, args...))
}
