package pipeline

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/tcx"
)

func newOrchestrator(t *testing.T, source *stubSource, dest *stubDestination, ledger *stubLedger, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append(opts, WithLogger(log.New(testWriter{t}, "", 0)))
	return NewOrchestrator(source, dest, ledger, tcx.NewEncoder(), len(source.ids), "", "cycling", opts...)
}

func TestRunTransfersNewAndStopsAtLedgeredTail(t *testing.T) {
	source := newStubSource("A", "B", "C")
	ledger := newStubLedger("C")
	dest := &stubDestination{}

	report, err := newOrchestrator(t, source, dest, ledger).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, report.Transferred)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 0, report.Failed)

	// C was detected in the ledger and, being last, never fetched.
	require.Equal(t, []string{"A", "B"}, source.fetched)
	require.Len(t, dest.uploads, 2)
	require.Equal(t, []string{"A", "B"}, ledger.recordedOrder)
}

func TestRunContinuesPastMidBatchDuplicate(t *testing.T) {
	source := newStubSource("A", "B", "C")
	ledger := newStubLedger("B")
	dest := &stubDestination{}

	report, err := newOrchestrator(t, source, dest, ledger).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, report.Transferred)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, []string{"A", "C"}, source.fetched)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	source := newStubSource("A", "B", "C")
	ledger := newStubLedger()
	dest := &stubDestination{}

	first, err := newOrchestrator(t, source, dest, ledger).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, first.Transferred)
	require.Len(t, dest.uploads, 3)

	second, err := newOrchestrator(t, source, dest, ledger).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.Transferred)
	require.Equal(t, 3, second.Skipped)

	// No activity was uploaded or recorded twice.
	require.Len(t, dest.uploads, 3)
	require.Len(t, ledger.recordedOrder, 3)
}

func TestRunUploadFailureLeavesNoLedgerEntry(t *testing.T) {
	source := newStubSource("A", "B")
	ledger := newStubLedger()
	dest := &stubDestination{failFor: map[string]bool{"A": true}}

	report, err := newOrchestrator(t, source, dest, ledger).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, report.Transferred)
	require.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	require.Equal(t, "A", report.Failures[0].ActivityID)
	require.Equal(t, StageUpload, report.Failures[0].Stage)

	// A gets retried on the next run because no entry was committed.
	done, _ := ledger.HasTransferred(context.Background(), "A")
	require.False(t, done)
	require.Equal(t, []string{"B"}, ledger.recordedOrder)
}

func TestRunEncodeFailureIsIsolated(t *testing.T) {
	source := newStubSource("A", "B")
	// A's series has a heart-rate channel shorter than its offsets.
	source.series["A"].HeartRate = []float64{100}
	ledger := newStubLedger()
	dest := &stubDestination{}

	report, err := newOrchestrator(t, source, dest, ledger).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, report.Transferred)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, StageEncode, report.Failures[0].Stage)
	require.ErrorIs(t, report.Failures[0].Err, domain.ErrMalformedSeries)

	// Nothing for A reached the destination; B went through.
	require.Len(t, dest.uploads, 1)
	require.Equal(t, []string{"B"}, ledger.recordedOrder)
}

func TestRunFetchFailureIsIsolated(t *testing.T) {
	source := newStubSource("A", "B")
	source.fetchErr["A"] = errors.New("peloton unreachable")
	ledger := newStubLedger()
	dest := &stubDestination{}

	report, err := newOrchestrator(t, source, dest, ledger).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, report.Transferred)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, StageFetch, report.Failures[0].Stage)
	require.Equal(t, []string{"B"}, ledger.recordedOrder)
}

func TestRunDuplicateRecordCountsAsSkipped(t *testing.T) {
	source := newStubSource("A")
	ledger := newStubLedger()
	ledger.recordErr = map[string]error{"A": domain.ErrDuplicateEntry}
	dest := &stubDestination{}
	notifier := &stubNotifier{}

	report, err := newOrchestrator(t, source, dest, ledger, WithNotifier(notifier)).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 0, report.Transferred)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 0, report.Failed)
	require.Empty(t, notifier.notified)
}

func TestRunAbortsWhenLedgerUnavailable(t *testing.T) {
	source := newStubSource("A", "B")
	ledger := newStubLedger()
	ledger.checkErr = domain.ErrStoreUnavailable
	dest := &stubDestination{}

	_, err := newOrchestrator(t, source, dest, ledger).Run(context.Background())
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	require.Empty(t, source.fetched)
	require.Empty(t, dest.uploads)
}

func TestRunAbortsWhenRecordStageStoreUnavailable(t *testing.T) {
	source := newStubSource("A", "B")
	ledger := newStubLedger()
	ledger.recordErr = map[string]error{"A": domain.ErrStoreUnavailable}
	dest := &stubDestination{}

	_, err := newOrchestrator(t, source, dest, ledger).Run(context.Background())
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	// B is never touched once the ledger goes away.
	require.Equal(t, []string{"A"}, source.fetched)
	require.Len(t, dest.uploads, 1)
}

func TestRunAbortsWhenListingFails(t *testing.T) {
	source := newStubSource("A")
	source.listErr = errors.New("auth expired")
	ledger := newStubLedger()

	_, err := newOrchestrator(t, source, &stubDestination{}, ledger).Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "list recent activities")
}

func TestRunNotifiesAfterRecord(t *testing.T) {
	source := newStubSource("A", "B")
	ledger := newStubLedger()
	dest := &stubDestination{}
	notifier := &stubNotifier{}

	report, err := newOrchestrator(t, source, dest, ledger, WithNotifier(notifier)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Transferred)
	require.Equal(t, []string{"A", "B"}, notifier.notified)
}

func TestRunNotifierFailureDoesNotAffectReport(t *testing.T) {
	source := newStubSource("A")
	ledger := newStubLedger()
	dest := &stubDestination{}
	notifier := &stubNotifier{err: errors.New("kafka down")}

	report, err := newOrchestrator(t, source, dest, ledger, WithNotifier(notifier)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Transferred)
	require.Equal(t, 0, report.Failed)
	require.Equal(t, []string{"A"}, ledger.recordedOrder)
}

type stubSource struct {
	ids        []string
	listErr    error
	fetchErr   map[string]error
	fetched    []string
	activities map[string]*domain.Activity
	summaries  map[string]*domain.ActivitySummary
	series     map[string]*domain.SampleSeries
}

func newStubSource(ids ...string) *stubSource {
	s := &stubSource{
		ids:        ids,
		fetchErr:   make(map[string]error),
		activities: make(map[string]*domain.Activity),
		summaries:  make(map[string]*domain.ActivitySummary),
		series:     make(map[string]*domain.SampleSeries),
	}
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range ids {
		s.activities[id] = &domain.Activity{
			ID:              id,
			Title:           "Ride " + id,
			StartTime:       start.Add(-time.Duration(i) * time.Hour),
			DurationSeconds: 3,
		}
		s.summaries[id] = &domain.ActivitySummary{DistanceMiles: 5, Calories: 100}
		s.series[id] = &domain.SampleSeries{
			OffsetSeconds: []int{0, 1, 2},
			HeartRate:     []float64{120, 130, 140},
			Cadence:       []float64{80, 82, 84},
			SpeedKPH:      []float64{0, 20, 22},
			Watts:         []float64{0, 180, 200},
		}
	}
	return s
}

func (s *stubSource) ListRecentActivityIDs(_ context.Context, n int) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	if n > len(s.ids) {
		n = len(s.ids)
	}
	return s.ids[:n], nil
}

func (s *stubSource) GetActivity(_ context.Context, id string) (*domain.Activity, error) {
	if err := s.fetchErr[id]; err != nil {
		return nil, err
	}
	s.fetched = append(s.fetched, id)
	return s.activities[id], nil
}

func (s *stubSource) GetSummary(_ context.Context, id string) (*domain.ActivitySummary, error) {
	return s.summaries[id], nil
}

func (s *stubSource) GetSampleSeries(_ context.Context, id string) (*domain.SampleSeries, error) {
	return s.series[id], nil
}

type stubLedger struct {
	entries       map[string]bool
	recordedOrder []string
	checkErr      error
	recordErr     map[string]error
}

func newStubLedger(transferred ...string) *stubLedger {
	l := &stubLedger{
		entries:   make(map[string]bool),
		recordErr: make(map[string]error),
	}
	for _, id := range transferred {
		l.entries[id] = true
	}
	return l
}

func (l *stubLedger) HasTransferred(_ context.Context, activityID string) (bool, error) {
	if l.checkErr != nil {
		return false, l.checkErr
	}
	return l.entries[activityID], nil
}

func (l *stubLedger) RecordTransfer(_ context.Context, activityID, _, _ string) error {
	if err := l.recordErr[activityID]; err != nil {
		return err
	}
	if l.entries[activityID] {
		return domain.ErrDuplicateEntry
	}
	l.entries[activityID] = true
	l.recordedOrder = append(l.recordedOrder, activityID)
	return nil
}

type stubDestination struct {
	uploads []string
	failFor map[string]bool
}

func (d *stubDestination) Upload(_ context.Context, _ []byte, filename, _, title string) error {
	for id := range d.failFor {
		if title == "Ride "+id {
			return errors.New("upload rejected")
		}
	}
	d.uploads = append(d.uploads, filename)
	return nil
}

type stubNotifier struct {
	notified []string
	err      error
}

func (n *stubNotifier) TransferRecorded(_ context.Context, activityID, _, _ string) error {
	n.notified = append(n.notified, activityID)
	if n.err != nil {
		return n.err
	}
	return nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
