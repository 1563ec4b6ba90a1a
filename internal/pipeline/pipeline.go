// Package pipeline orchestrates one processing cycle: fetch candidate
// emails, download and unpack their archives, extract payments, deliver the
// new ones and record the outcome. Stages run strictly in sequence; a
// failed candidate never blocks the rest of the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kodjooo/email-payment-processor/internal/linkextract"
	"github.com/kodjooo/email-payment-processor/internal/models"
	"github.com/kodjooo/email-payment-processor/internal/procerror"
)

var log = logrus.New()

// SetLogger sets a custom logger for this package.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// ErrCycleInProgress is returned when a cycle is triggered while the
// previous one is still running.
var ErrCycleInProgress = errors.New("processing cycle already in progress")

// ledgerError marks a tracking store write failure. The store is the
// dedup ground truth, so losing it aborts the cycle.
type ledgerError struct {
	err error
}

func (e *ledgerError) Error() string {
	return fmt.Sprintf("tracking store failure: %v", e.err)
}

func (e *ledgerError) Unwrap() error {
	return e.err
}

func isLedgerFailure(err error) bool {
	var lerr *ledgerError
	return errors.As(err, &lerr)
}

// Fetcher lists candidate emails and marks them seen. A fresh session is
// opened for every cycle.
type Fetcher interface {
	FetchCandidates(ctx context.Context) ([]models.EmailCandidate, error)
	MarkSeen(messageID string) error
	Close() error
}

// Downloader fetches the archive behind a download action into destDir.
type Downloader interface {
	Download(ctx context.Context, action models.DownloadAction, destDir string) (models.DownloadedArchive, error)
}

// Unpacker extracts an archive and returns the CSV paths it contained.
type Unpacker interface {
	Extract(ctx context.Context, archive models.DownloadedArchive, destDir string) ([]string, error)
}

// PaymentParser turns one CSV file into payment records.
type PaymentParser interface {
	ExtractPayments(csvPath string) ([]models.PaymentRecord, int, error)
}

// Deliverer posts a payment batch to the downstream endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, batch []models.PaymentRecord) error
}

// Ledger is the durable record of what has already been handled.
type Ledger interface {
	HasProcessedEmail(messageID string) bool
	MarkEmailProcessed(messageID string) error
	HasDeliveredPayment(transactionID, sourceFile string) bool
	MarkPaymentDelivered(transactionID, sourceFile string) error
}

// Options wires the pipeline's collaborators.
type Options struct {
	Connect     func() (Fetcher, error)
	Downloader  Downloader
	Unpacker    Unpacker
	Parser      PaymentParser
	Deliverer   Deliverer
	Ledger      Ledger
	ScratchDir  string
	MaxAttempts int
}

// Pipeline runs processing cycles. At most one cycle runs at a time.
type Pipeline struct {
	opts    Options
	running atomic.Bool
	now     func() time.Time
}

// New creates a pipeline from its collaborators.
func New(opts Options) *Pipeline {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	return &Pipeline{opts: opts, now: time.Now}
}

// RunCycle executes one complete cycle and returns its report. The report
// is non-nil even on error so callers can log partial progress. A cycle
// that overlaps a still-running one fails fast with ErrCycleInProgress.
func (p *Pipeline) RunCycle(ctx context.Context) (*models.CycleReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer p.running.Store(false)

	report := models.NewCycleReport(p.now())
	defer func() { report.FinishedAt = p.now() }()
	cycleLog := log.WithField("cycle_id", report.CycleID)
	cycleLog.Info("Starting processing cycle")

	fetcher, err := p.opts.Connect()
	if err != nil {
		report.RecordFailure(procerror.Classify(err), err)
		return report, err
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			cycleLog.WithError(err).Warn("Failed to close mailbox session")
		}
	}()

	candidates, err := fetcher.FetchCandidates(ctx)
	if err != nil {
		report.RecordFailure(procerror.Classify(err), err)
		return report, err
	}
	report.EmailsFound = len(candidates)

	scratch, err := os.MkdirTemp(p.opts.ScratchDir, "cycle-")
	if err != nil {
		err = fmt.Errorf("error creating scratch directory: %w", err)
		report.RecordFailure(procerror.BucketUnknown, err)
		return report, err
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			cycleLog.WithError(err).Warn("Failed to clean up scratch directory")
		}
	}()

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.processCandidate(ctx, fetcher, candidate, scratch, report); err != nil {
			report.RecordFailure(procerror.Classify(err), err)
			if procerror.IsCycleFatal(err) || isLedgerFailure(err) {
				cycleLog.WithError(err).Error("Aborting cycle")
				return report, err
			}
			cycleLog.WithError(err).WithField("message_id", candidate.MessageID).
				Error("Candidate failed, continuing with the rest")
		}
	}

	cycleLog.Info(report.Summary())
	return report, nil
}

// processCandidate handles one email end to end. The email is marked
// processed and seen only after every extracted payment is either already
// known or confirmed delivered.
func (p *Pipeline) processCandidate(ctx context.Context, fetcher Fetcher, candidate models.EmailCandidate, scratch string, report *models.CycleReport) error {
	msgLog := log.WithField("message_id", candidate.MessageID)

	if p.opts.Ledger.HasProcessedEmail(candidate.MessageID) {
		// Only unseen emails are fetched, so a processed one resurfacing
		// means the mark-seen write was lost. Heal the flag here or the
		// email clogs the fetch window forever.
		msgLog.Info("Email already processed, repairing seen flag")
		return fetcher.MarkSeen(candidate.MessageID)
	}

	action := linkextract.ExtractAction(candidate.Body)
	if action == nil {
		// Nothing actionable: close the email out so it is not re-examined
		// every cycle.
		msgLog.Info("No download action in email body")
		if err := p.finishEmail(fetcher, candidate.MessageID); err != nil {
			return err
		}
		report.EmailsProcessed++
		return nil
	}

	csvPaths, err := p.fetchArchive(ctx, *action, candidate.MessageID, scratch, report)
	if err != nil {
		return err
	}

	var batch []models.PaymentRecord
	for _, csvPath := range csvPaths {
		records, skipped, err := p.opts.Parser.ExtractPayments(csvPath)
		report.RowsSkipped += skipped
		if err != nil {
			// A file with the wrong shape does not invalidate its siblings.
			report.RecordFailure(procerror.Classify(err), err)
			msgLog.WithError(err).Error("Skipping CSV file")
			continue
		}
		report.PaymentsExtracted += len(records)
		batch = append(batch, p.dedupe(records, report)...)
	}

	if len(batch) > 0 {
		if err := p.opts.Deliverer.Deliver(ctx, batch); err != nil {
			// Leave the email unseen so the next cycle retries delivery.
			return err
		}
		report.WebhookSent = true
		for _, record := range batch {
			transactionID, sourceFile := record.DedupKey()
			if err := p.opts.Ledger.MarkPaymentDelivered(transactionID, sourceFile); err != nil {
				return &ledgerError{err: err}
			}
		}
		report.PaymentsDelivered += len(batch)
	}

	if err := p.finishEmail(fetcher, candidate.MessageID); err != nil {
		return err
	}
	report.EmailsProcessed++
	msgLog.WithField("delivered", len(batch)).Info("Candidate processed")
	return nil
}

// fetchArchive downloads and unpacks the action target, retrying transient
// browser and extraction failures from the download stage.
func (p *Pipeline) fetchArchive(ctx context.Context, action models.DownloadAction, messageID, scratch string, report *models.CycleReport) ([]string, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		attemptDir, err := os.MkdirTemp(scratch, "attempt-")
		if err != nil {
			return nil, fmt.Errorf("error creating attempt directory: %w", err)
		}

		archive, err := p.opts.Downloader.Download(ctx, action, attemptDir)
		if err == nil {
			archive.SourceMessageID = messageID
			var csvPaths []string
			csvPaths, err = p.opts.Unpacker.Extract(ctx, archive, attemptDir)
			if err == nil {
				report.ArchivesExtracted++
				return csvPaths, nil
			}
		}

		lastErr = err
		_ = os.RemoveAll(attemptDir)
		if !procerror.IsCandidateRetryable(err) || attempt == p.opts.MaxAttempts {
			return nil, err
		}
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"target":  action.Target,
		}).Warn("Retrying download")
	}
	return nil, lastErr
}

// dedupe drops payments the ledger already knows about.
func (p *Pipeline) dedupe(records []models.PaymentRecord, report *models.CycleReport) []models.PaymentRecord {
	var fresh []models.PaymentRecord
	for _, record := range records {
		transactionID, sourceFile := record.DedupKey()
		if p.opts.Ledger.HasDeliveredPayment(transactionID, sourceFile) {
			report.PaymentsDuplicate++
			continue
		}
		fresh = append(fresh, record)
	}
	return fresh
}

// finishEmail records the email as processed and flags it seen on the
// server, in that order: a crash between the two re-examines a processed
// email, which the ledger then skips.
func (p *Pipeline) finishEmail(fetcher Fetcher, messageID string) error {
	if err := p.opts.Ledger.MarkEmailProcessed(messageID); err != nil {
		return &ledgerError{err: err}
	}
	if err := fetcher.MarkSeen(messageID); err != nil {
		return err
	}
	return nil
}
