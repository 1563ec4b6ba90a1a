package pipeline

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodjooo/email-payment-processor/internal/models"
	"github.com/kodjooo/email-payment-processor/internal/payments"
	"github.com/kodjooo/email-payment-processor/internal/tracking"
	"github.com/kodjooo/email-payment-processor/internal/unpack"
)

// zipDownloader plants a real zip archive, standing in for the browser.
type zipDownloader struct {
	entries map[string]string
}

func (z *zipDownloader) Download(ctx context.Context, action models.DownloadAction, destDir string) (models.DownloadedArchive, error) {
	path := filepath.Join(destDir, "statement.zip")
	f, err := os.Create(path) // #nosec G304 -- test temp file
	if err != nil {
		return models.DownloadedArchive{}, err
	}
	zw := zip.NewWriter(f)
	for name, content := range z.entries {
		w, err := zw.Create(name)
		if err != nil {
			return models.DownloadedArchive{}, err
		}
		if _, err := w.Write([]byte(content)); err != nil {
			return models.DownloadedArchive{}, err
		}
	}
	if err := zw.Close(); err != nil {
		return models.DownloadedArchive{}, err
	}
	if err := f.Close(); err != nil {
		return models.DownloadedArchive{}, err
	}
	return models.DownloadedArchive{LocalPath: path, Format: models.FormatZip}, nil
}

// Covers the full path from email body to delivered batch with the real
// unpacker and extractor, faking only the mailbox, browser and endpoint.
func TestCycleEndToEnd(t *testing.T) {
	ledger, err := tracking.Open(filepath.Join(t.TempDir(), "processed.jsonl"))
	require.NoError(t, err)
	defer func() { _ = ledger.Close() }()

	fetcher := &fakeFetcher{candidates: []models.EmailCandidate{
		candidate("<stmt@bank>", `<a href="https://bank.example.com/download.php?id=1">Скачать выписку</a>`),
	}}
	deliverer := &fakeDeliverer{}

	csvContent := "Transaction ID,Customer,Amount,Date,Status,Purpose\n" +
		"TX-100,CUST-1,\"1.500,25\",15.01.2023,completed,Invoice 1\n" +
		"TX-101,CUST-2,200.00,16.01.2023,pending,Invoice 2\n" +
		"TX-102,CUST-3,\"$2,000.00\",17.01.2023,completed,Invoice 3\n"

	p := New(Options{
		Connect:    func() (Fetcher, error) { return fetcher, nil },
		Downloader: &zipDownloader{entries: map[string]string{"statement.csv": csvContent}},
		Unpacker:   unpack.New(),
		Parser: payments.New("Status", "completed", payments.ColumnMap{
			TransactionID: "Transaction ID",
			CustomerID:    "Customer",
			Amount:        "Amount",
			Date:          "Date",
			Purpose:       "Purpose",
		}, "RUB"),
		Deliverer:   deliverer,
		Ledger:      ledger,
		ScratchDir:  t.TempDir(),
		MaxAttempts: 3,
	})

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Succeeded())
	assert.Equal(t, 2, report.PaymentsDelivered)

	require.Len(t, deliverer.batches, 1)
	batch := deliverer.batches[0]
	require.Len(t, batch, 2)

	assert.Equal(t, "TX-100", batch[0].TransactionID)
	assert.Equal(t, "1500.25", batch[0].Amount.String())
	assert.Equal(t, "RUB", batch[0].Currency)
	assert.Equal(t, "2023-01-15", batch[0].Date)
	assert.Equal(t, "statement.csv", batch[0].SourceFile)

	assert.Equal(t, "TX-102", batch[1].TransactionID)
	assert.Equal(t, "USD", batch[1].Currency)

	assert.True(t, ledger.HasProcessedEmail("<stmt@bank>"))
	assert.True(t, ledger.HasDeliveredPayment("TX-100", "statement.csv"))
	assert.True(t, ledger.HasDeliveredPayment("TX-102", "statement.csv"))
	assert.False(t, ledger.HasDeliveredPayment("TX-101", "statement.csv"))
	assert.Equal(t, []string{"<stmt@bank>"}, fetcher.seen)

	// A second cycle over the same mailbox state delivers nothing.
	fetcher.seen = nil
	report, err = p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.PaymentsDelivered)
	assert.Len(t, deliverer.batches, 1)
}
