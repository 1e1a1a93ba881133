// Package domain defines the types shared across the sync pipeline.
package domain

import "time"

// Activity is one workout session fetched from the source platform.
// Identity is the external ID; the record is immutable once fetched.
type Activity struct {
	ID              string
	Title           string
	StartTime       time.Time
	DurationSeconds int
}

// ActivitySummary carries the aggregate metrics reported for one activity.
// Distance arrives in the source's native unit (miles).
type ActivitySummary struct {
	DistanceMiles float64
	Calories      float64
	AvgHeartRate  float64
	MaxHeartRate  float64
	AvgWatts      float64
	MaxWatts      float64
	ElevationFeet float64
}

// SampleSeries holds the time-indexed sensor readings for one activity.
// OffsetSeconds carries the elapsed-time offset of each index; every non-nil
// channel must have the same length as OffsetSeconds. A nil channel means the
// sensor was absent for the whole ride.
type SampleSeries struct {
	OffsetSeconds []int
	HeartRate     []float64
	Cadence       []float64
	SpeedKPH      []float64
	Watts         []float64
	Resistance    []float64
	Latitude      []float64
	Longitude     []float64
}

// Len returns the number of samples in the series.
func (s *SampleSeries) Len() int { return len(s.OffsetSeconds) }

// HasGPS reports whether the series carries position channels.
func (s *SampleSeries) HasGPS() bool { return s.Latitude != nil && s.Longitude != nil }

// LedgerEntry records one completed transfer. Entries are created exactly
// once per transferred activity and never updated or deleted.
type LedgerEntry struct {
	ActivityID string
	Title      string
	Filename   string
	RecordedAt time.Time
}

// EncodedDocument is the produced interchange file: content, the filename it
// should be uploaded under, and the human-readable title.
type EncodedDocument struct {
	Content  []byte
	Filename string
	Title    string
}
