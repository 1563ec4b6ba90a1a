// Package tracking implements the durable idempotency ledger: which emails
// have been processed and which individual payments have been delivered.
//
// The ledger is an append-only JSON-lines file. Facts are never updated or
// deleted; a crash mid-cycle can at worst leave a cycle to be retried, and
// re-marking an already recorded fact is a no-op.
package tracking

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger sets a custom logger for this package.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

const (
	kindEmail   = "email"
	kindPayment = "payment"
)

// entry is one line of the ledger file.
type entry struct {
	Kind          string    `json:"kind"`
	MessageID     string    `json:"message_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	SourceFile    string    `json:"source_file,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Store is the append-only tracking ledger. Safe for use by the single
// pipeline writer; lookups and appends share one mutex.
type Store struct {
	mu       sync.Mutex
	file     *os.File
	emails   map[string]struct{}
	payments map[string]struct{}
	path     string
}

// Open loads the ledger at path, creating it (and parent directories) if it
// does not exist yet.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("error creating tracking directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("error opening tracking file: %w", err)
	}

	s := &Store{
		file:     file,
		emails:   make(map[string]struct{}),
		payments: make(map[string]struct{}),
		path:     path,
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn trailing line from a crash is tolerable; the fact it
			// would have recorded gets re-derived by the next cycle.
			log.WithError(err).WithField("file", path).Warn("Skipping unreadable tracking entry")
			continue
		}
		s.index(e)
		lines++
	}
	if err := scanner.Err(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("error reading tracking file: %w", err)
	}

	log.WithFields(logrus.Fields{
		"file":     path,
		"emails":   len(s.emails),
		"payments": len(s.payments),
	}).Debug("Tracking ledger loaded")
	return s, nil
}

func (s *Store) index(e entry) {
	switch e.Kind {
	case kindEmail:
		s.emails[e.MessageID] = struct{}{}
	case kindPayment:
		s.payments[paymentKey(e.TransactionID, e.SourceFile)] = struct{}{}
	}
}

func paymentKey(transactionID, sourceFile string) string {
	return transactionID + "\x00" + sourceFile
}

// HasProcessedEmail reports whether the email was fully processed in a
// previous cycle.
func (s *Store) HasProcessedEmail(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.emails[messageID]
	return ok
}

// MarkEmailProcessed records the email as processed. Marking twice is a
// no-op.
func (s *Store) MarkEmailProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[messageID]; ok {
		return nil
	}
	e := entry{Kind: kindEmail, MessageID: messageID, RecordedAt: time.Now().UTC()}
	if err := s.append(e); err != nil {
		return err
	}
	s.emails[messageID] = struct{}{}
	return nil
}

// HasDeliveredPayment reports whether the (transaction id, source file) pair
// was already delivered.
func (s *Store) HasDeliveredPayment(transactionID, sourceFile string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.payments[paymentKey(transactionID, sourceFile)]
	return ok
}

// MarkPaymentDelivered records a confirmed delivery. Marking twice is a
// no-op.
func (s *Store) MarkPaymentDelivered(transactionID, sourceFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := paymentKey(transactionID, sourceFile)
	if _, ok := s.payments[key]; ok {
		return nil
	}
	e := entry{
		Kind:          kindPayment,
		TransactionID: transactionID,
		SourceFile:    sourceFile,
		RecordedAt:    time.Now().UTC(),
	}
	if err := s.append(e); err != nil {
		return err
	}
	s.payments[key] = struct{}{}
	return nil
}

// append writes one entry and syncs it to disk before the corresponding
// mark-seen/delivered step is allowed to complete.
func (s *Store) append(e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("error encoding tracking entry: %w", err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("error appending tracking entry: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("error syncing tracking file: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
