// Package snowflake provides a time-ordered unique ID generator.
package snowflake

import (
	"math/rand"
	"strconv"
	"time"
)

// ID is a 64 bit identifier that sorts by creation time. It serialises
// to JSON as a string, because 64 bit integers lose precision in
// JavaScript clients.
type ID uint64

// Now returns a new ID for the current time.
func Now() ID {
	return ID(TimeToID(time.Now()))
}

// TimeToID converts a time.Time to a Snowflake ID.
func TimeToID(ts time.Time) uint64 {
	// 48 bits for time in milliseconds.
	// 0 bits for worker ID.
	// 0 bits for sequence.
	// 16 bits for random.
	return uint64(ts.UnixNano()/int64(time.Millisecond))<<16 | uint64(rand.Intn(1<<16))
}

// IDToTime converts a Snowflake ID to a time.Time.
func IDToTime(id uint64) time.Time {
	return time.Unix(0, int64(id>>16)*1e6)
}

// ToTime returns the time the ID was generated.
func (id ID) ToTime() time.Time {
	return IDToTime(uint64(id))
}

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Parse converts the string form back to an ID.
func Parse(s string) (ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	return ID(n), err
}

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(id.String())), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		// not quoted, accept the bare integer form
		s = string(data)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*id = ID(n)
	return nil
}
