package crypto

import (
	"fmt"
	"math"
	"time"
)

// TimeFromUnix converts a wire timestamp in unix seconds to a time,
// rejecting values that do not fit in an int64.
//
// CWE-190: Integer Overflow or Wraparound
func TimeFromUnix(secs uint64) (time.Time, error) {
	if secs > math.MaxInt64 {
		return time.Time{}, fmt.Errorf("timestamp exceeds int64 max: %d", secs)
	}
	return time.Unix(int64(secs), 0), nil
}

// UnixFromTime converts t to unix seconds for the wire. Times before the
// epoch are rejected.
func UnixFromTime(t time.Time) (uint64, error) {
	secs := t.Unix()
	if secs < 0 {
		return 0, fmt.Errorf("cannot encode time before epoch: %s", t)
	}
	return uint64(secs), nil
}
