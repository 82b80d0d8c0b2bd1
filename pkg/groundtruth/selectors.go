package groundtruth

import (
	"time"

	"github.com/pharmagent/medbench/pkg/fhir"
)

// Latest returns the observation with the greatest effective time at or
// after since (a zero since disables the window). On equal timestamps the
// first one in store order wins.
func Latest(obs []fhir.Observation, since time.Time) (fhir.Observation, bool) {
	var (
		best  fhir.Observation
		found bool
	)
	for _, o := range obs {
		if !since.IsZero() && o.Effective.Before(since) {
			continue
		}
		if !found || o.Effective.After(best.Effective) {
			best = o
			found = true
		}
	}
	return best, found
}

// WindowAverage averages the numeric values at or after since.
func WindowAverage(obs []fhir.Observation, since time.Time) (float64, bool) {
	var (
		sum   float64
		count int
	)
	for _, o := range obs {
		if o.Effective.Before(since) {
			continue
		}
		v, ok := o.Value.(float64)
		if !ok {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Age is the whole number of years between birth and at, by calendar.
func Age(birth, at time.Time) int {
	age := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		age--
	}
	return age
}
