package hearings

import "time"

// appealWindowDays is the statutory window for filing an appeal.
const appealWindowDays = 30

// AppealDeadline derives the appeal deadline from a judgment date. Pure and
// idempotent; the input's location is preserved so firm-local dates survive
// the round trip.
func AppealDeadline(judgmentDate time.Time) time.Time {
	return judgmentDate.AddDate(0, 0, appealWindowDays)
}
