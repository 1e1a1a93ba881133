// Package tcx turns an activity and its sample series into a Garmin TCX document.
package tcx

import (
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/ridesync/internal/domain"
)

const (
	tcxNamespace = "http://www.garmin.com/xmlschemas/TrainingCenterDatabase/v2"
	tpxNamespace = "http://www.garmin.com/xmlschemas/ActivityExtension/v2"

	metersPerMile = 1609.34
)

type trainingCenterDatabase struct {
	XMLName    xml.Name   `xml:"TrainingCenterDatabase"`
	Namespace  string     `xml:"xmlns,attr"`
	Activities activities `xml:"Activities"`
}

type activities struct {
	Activity tcxActivity `xml:"Activity"`
}

type tcxActivity struct {
	Sport string `xml:"Sport,attr"`
	ID    string `xml:"Id"`
	Lap   lap    `xml:"Lap"`
}

type lap struct {
	StartTime        string     `xml:"StartTime,attr"`
	TotalTimeSeconds float64    `xml:"TotalTimeSeconds"`
	DistanceMeters   float64    `xml:"DistanceMeters"`
	Calories         int        `xml:"Calories"`
	AverageHeartRate *heartRate `xml:"AverageHeartRateBpm,omitempty"`
	MaximumHeartRate *heartRate `xml:"MaximumHeartRateBpm,omitempty"`
	Intensity        string     `xml:"Intensity"`
	TriggerMethod    string     `xml:"TriggerMethod"`
	Track            track      `xml:"Track"`
}

type heartRate struct {
	Value int `xml:"Value"`
}

type track struct {
	Trackpoints []trackpoint `xml:"Trackpoint"`
}

type trackpoint struct {
	Time           string      `xml:"Time"`
	Position       *position   `xml:"Position,omitempty"`
	DistanceMeters float64     `xml:"DistanceMeters"`
	HeartRateBpm   *heartRate  `xml:"HeartRateBpm,omitempty"`
	Cadence        *int        `xml:"Cadence,omitempty"`
	Extensions     *extensions `xml:"Extensions,omitempty"`
}

type position struct {
	LatitudeDegrees  float64 `xml:"LatitudeDegrees"`
	LongitudeDegrees float64 `xml:"LongitudeDegrees"`
}

type extensions struct {
	TPX tpx `xml:"TPX"`
}

type tpx struct {
	Namespace string   `xml:"xmlns,attr"`
	Speed     *float64 `xml:"Speed,omitempty"`
	Watts     *int     `xml:"Watts,omitempty"`
}

// Encoder transforms activities into TCX documents. The zero value is ready to use.
type Encoder struct{}

// NewEncoder constructs an Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode builds a TCX document for the activity and, when outputDir is
// non-empty, persists a copy there. Encoding is all-or-nothing: the document
// is assembled fully in memory and nothing is written on failure.
func (e *Encoder) Encode(activity *domain.Activity, summary *domain.ActivitySummary, series *domain.SampleSeries, outputDir string) (*domain.EncodedDocument, error) {
	if err := validateSeries(series); err != nil {
		return nil, err
	}

	start := activity.StartTime.UTC()
	doc := trainingCenterDatabase{
		Namespace: tcxNamespace,
		Activities: activities{
			Activity: tcxActivity{
				Sport: "Biking",
				ID:    start.Format(time.RFC3339),
				Lap: lap{
					StartTime:        start.Format(time.RFC3339),
					TotalTimeSeconds: float64(activity.DurationSeconds),
					DistanceMeters:   round2(summary.DistanceMiles * metersPerMile),
					Calories:         int(math.Round(summary.Calories)),
					AverageHeartRate: lapHeartRate(summary.AvgHeartRate),
					MaximumHeartRate: lapHeartRate(summary.MaxHeartRate),
					Intensity:        "Active",
					TriggerMethod:    "Manual",
					Track:            track{Trackpoints: buildTrackpoints(start, summary, series)},
				},
			},
		},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tcx: %w", err)
	}
	content := append([]byte(xml.Header), body...)
	content = append(content, '\n')

	encoded := &domain.EncodedDocument{
		Content:  content,
		Filename: deriveFilename(start, activity.Title),
		Title:    activity.Title,
	}

	if outputDir != "" {
		if err := writeAtomic(outputDir, encoded.Filename, content); err != nil {
			return nil, err
		}
	}
	return encoded, nil
}

func validateSeries(series *domain.SampleSeries) error {
	n := series.Len()
	if n == 0 {
		return fmt.Errorf("%w: no samples", domain.ErrMalformedSeries)
	}

	channels := map[string][]float64{
		"heart_rate": series.HeartRate,
		"cadence":    series.Cadence,
		"speed":      series.SpeedKPH,
		"watts":      series.Watts,
		"resistance": series.Resistance,
		"latitude":   series.Latitude,
		"longitude":  series.Longitude,
	}
	for name, values := range channels {
		if values != nil && len(values) != n {
			return fmt.Errorf("%w: channel %s has %d samples, want %d", domain.ErrMalformedSeries, name, len(values), n)
		}
	}
	if (series.Latitude == nil) != (series.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude channels must be present together", domain.ErrMalformedSeries)
	}

	for i := 1; i < n; i++ {
		if series.OffsetSeconds[i] < series.OffsetSeconds[i-1] {
			return fmt.Errorf("%w: time offsets decrease at index %d", domain.ErrMalformedSeries, i)
		}
	}
	return nil
}

func buildTrackpoints(start time.Time, summary *domain.ActivitySummary, series *domain.SampleSeries) []trackpoint {
	n := series.Len()
	points := make([]trackpoint, 0, n)

	totalMeters := summary.DistanceMiles * metersPerMile
	lastOffset := series.OffsetSeconds[n-1]

	var distance float64
	for i := 0; i < n; i++ {
		offset := series.OffsetSeconds[i]

		switch {
		case series.SpeedKPH != nil && i > 0:
			// Integrate speed over the sample interval. Offsets are
			// non-decreasing, so distance never goes backwards.
			dt := float64(offset - series.OffsetSeconds[i-1])
			distance += series.SpeedKPH[i] / 3.6 * dt
		case series.SpeedKPH == nil && totalMeters > 0 && lastOffset > 0:
			// No speed channel: prorate the summary distance by elapsed time.
			distance = totalMeters * float64(offset) / float64(lastOffset)
		}

		point := trackpoint{
			Time:           start.Add(time.Duration(offset) * time.Second).Format(time.RFC3339),
			DistanceMeters: round2(distance),
		}
		if series.HasGPS() {
			point.Position = &position{
				LatitudeDegrees:  series.Latitude[i],
				LongitudeDegrees: series.Longitude[i],
			}
		}
		if series.HeartRate != nil {
			hr := int(math.Round(series.HeartRate[i]))
			point.HeartRateBpm = &heartRate{Value: hr}
		}
		if series.Cadence != nil {
			cadence := int(math.Round(series.Cadence[i]))
			point.Cadence = &cadence
		}
		if ext := buildExtensions(series, i); ext != nil {
			point.Extensions = ext
		}
		points = append(points, point)
	}
	return points
}

func buildExtensions(series *domain.SampleSeries, i int) *extensions {
	if series.SpeedKPH == nil && series.Watts == nil {
		return nil
	}
	ext := &extensions{TPX: tpx{Namespace: tpxNamespace}}
	if series.SpeedKPH != nil {
		speed := round2(series.SpeedKPH[i] / 3.6)
		ext.TPX.Speed = &speed
	}
	if series.Watts != nil {
		watts := int(math.Round(series.Watts[i]))
		ext.TPX.Watts = &watts
	}
	return ext
}

func lapHeartRate(bpm float64) *heartRate {
	if bpm <= 0 {
		return nil
	}
	return &heartRate{Value: int(math.Round(bpm))}
}

// deriveFilename builds a deterministic name from the start time and title so
// two rides on the same day with different titles cannot collide.
func deriveFilename(start time.Time, title string) string {
	stamp := strings.ReplaceAll(start.Format(time.RFC3339), ":", "")
	return stamp + "_" + slugify(title) + ".tcx"
}

func slugify(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	return b.String()
}

// writeAtomic persists the document via a temp file and rename so a partial
// file is never observable in the output directory.
func writeAtomic(dir, filename string, content []byte) error {
	tmp, err := os.CreateTemp(dir, ".tcx-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write tcx: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close tcx: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, filename)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename tcx: %w", err)
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
