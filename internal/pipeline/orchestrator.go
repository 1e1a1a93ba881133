// Package pipeline drives the fetch, encode, upload, record loop over a batch
// of recent activities.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/ridesync/internal/domain"
)

// Source exposes the read operations needed from the workout provider.
type Source interface {
	ListRecentActivityIDs(ctx context.Context, n int) ([]string, error)
	GetActivity(ctx context.Context, id string) (*domain.Activity, error)
	GetSummary(ctx context.Context, id string) (*domain.ActivitySummary, error)
	GetSampleSeries(ctx context.Context, id string) (*domain.SampleSeries, error)
}

// Destination receives the encoded file.
type Destination interface {
	Upload(ctx context.Context, content []byte, filename, activityType, title string) error
}

// Ledger answers "already transferred?" and commits completed transfers.
type Ledger interface {
	HasTransferred(ctx context.Context, activityID string) (bool, error)
	RecordTransfer(ctx context.Context, activityID, title, filename string) error
}

// Encoder produces the interchange document for one activity.
type Encoder interface {
	Encode(activity *domain.Activity, summary *domain.ActivitySummary, series *domain.SampleSeries, outputDir string) (*domain.EncodedDocument, error)
}

// Notifier is told about each committed transfer. Notification failures never
// affect the ledger.
type Notifier interface {
	TransferRecorded(ctx context.Context, activityID, title, filename string) error
}

// Stage names the pipeline step an activity failed in.
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageEncode Stage = "encode"
	StageUpload Stage = "upload"
	StageRecord Stage = "record"
)

// Failure records one per-activity failure within a run.
type Failure struct {
	ActivityID string
	Stage      Stage
	Err        error
}

// Report summarises one sync run.
type Report struct {
	RunID       string
	Transferred int
	Skipped     int
	Failed      int
	Failures    []Failure
}

// Option configures optional behaviour for the Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the logger used to report progress and failures.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithNotifier attaches a transfer-event notifier.
func WithNotifier(notifier Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = notifier
	}
}

// Orchestrator sequences the sync pipeline for one batch of activities.
// Activities are processed one at a time, newest first; upload and record are
// a strictly ordered pair so a ledger entry exists iff the upload succeeded.
type Orchestrator struct {
	source       Source
	dest         Destination
	ledger       Ledger
	encoder      Encoder
	notifier     Notifier
	batchSize    int
	outputDir    string
	activityType string
	logger       *log.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(source Source, dest Destination, ledger Ledger, encoder Encoder, batchSize int, outputDir, activityType string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:       source,
		dest:         dest,
		ledger:       ledger,
		encoder:      encoder,
		batchSize:    batchSize,
		outputDir:    outputDir,
		activityType: activityType,
		logger:       log.New(log.Writer(), "[sync] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes up to batchSize most-recent activities. Per-activity failures
// are recorded in the report and processing continues; only an unreachable
// ledger or a failed initial listing aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	ids, err := o.source.ListRecentActivityIDs(ctx, o.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list recent activities: %w", err)
	}

	report := &Report{RunID: uuid.NewString()}
	o.logger.Printf("run %s: considering %d activities", report.RunID, len(ids))

	for i, id := range ids {
		done, err := o.ledger.HasTransferred(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("dedup check for %s: %w", id, err)
		}
		if done {
			report.Skipped++
			recordSkipped()
			if i == len(ids)-1 {
				// Activities arrive newest first, so an already-transferred
				// activity at the end of the batch means everything older has
				// been transferred too.
				o.logger.Printf("%s already transferred and is the last in the batch, stopping", id)
				break
			}
			o.logger.Printf("%s already transferred, moving on", id)
			continue
		}

		if err := o.processActivity(ctx, id, report); err != nil {
			return nil, err
		}
	}

	o.logger.Printf("run %s done: transferred=%d skipped=%d failed=%d", report.RunID, report.Transferred, report.Skipped, report.Failed)
	return report, nil
}

// processActivity runs one activity through the pipeline. A non-nil return
// means the run cannot continue; per-activity failures go into the report.
func (o *Orchestrator) processActivity(ctx context.Context, id string, report *Report) error {
	activity, err := o.source.GetActivity(ctx, id)
	if err != nil {
		o.fail(report, id, StageFetch, err)
		return nil
	}
	summary, err := o.source.GetSummary(ctx, id)
	if err != nil {
		o.fail(report, id, StageFetch, err)
		return nil
	}
	series, err := o.source.GetSampleSeries(ctx, id)
	if err != nil {
		o.fail(report, id, StageFetch, err)
		return nil
	}

	doc, err := o.encoder.Encode(activity, summary, series, o.outputDir)
	if err != nil {
		o.fail(report, id, StageEncode, err)
		return nil
	}

	if err := o.dest.Upload(ctx, doc.Content, doc.Filename, o.activityType, doc.Title); err != nil {
		// No ledger entry is written, so the next run retries this activity.
		o.fail(report, id, StageUpload, err)
		return nil
	}

	if err := o.ledger.RecordTransfer(ctx, id, doc.Title, doc.Filename); err != nil {
		if errors.Is(err, domain.ErrDuplicateEntry) {
			o.logger.Printf("%s already recorded by another run", id)
			report.Skipped++
			recordSkipped()
			return nil
		}
		o.fail(report, id, StageRecord, err)
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return fmt.Errorf("record transfer for %s: %w", id, err)
		}
		return nil
	}

	report.Transferred++
	recordTransferred(time.Now().UTC())
	o.logger.Printf("%s transferred as %s", id, doc.Filename)

	if o.notifier != nil {
		if err := o.notifier.TransferRecorded(ctx, id, doc.Title, doc.Filename); err != nil {
			o.logger.Printf("notify failed for %s: %v", id, err)
		}
	}
	return nil
}

func (o *Orchestrator) fail(report *Report, id string, stage Stage, err error) {
	report.Failed++
	report.Failures = append(report.Failures, Failure{ActivityID: id, Stage: stage, Err: err})
	recordFailed(stage)
	o.logger.Printf("%s failed at %s: %v", id, stage, err)
}
