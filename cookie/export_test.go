package cookie

import "time"

func SetNow(f func() time.Time) (reset func()) {
	prev := now
	now = f
	return func() { now = prev }
}
