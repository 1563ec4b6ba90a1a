// Package download drives a disposable headless browser to fetch archive
// files behind email download links.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

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

// partialSuffixes mark files the browser is still writing.
var partialSuffixes = []string{".crdownload", ".tmp", ".part"}

// clickSelectors are tried in order after navigation when the page itself
// did not start a download.
var clickSelectors = []string{
	`//a[contains(@href, '.zip')]`,
	`//a[contains(@href, '.rar')]`,
	`//a[contains(@href, '.7z')]`,
	`//a[contains(translate(text(), 'DOWNLOAD', 'download'), 'download')]`,
	`//a[contains(text(), 'Скачать')]`,
	`//button[contains(translate(text(), 'DOWNLOAD', 'download'), 'download')]`,
	`//a[@download]`,
}

const pollInterval = 500 * time.Millisecond

// Agent downloads archives through a headless browser. Each Download call
// starts a fresh browser and tears it down before returning, so one stuck
// page never poisons the next candidate.
type Agent struct {
	headless        bool
	pageTimeout     time.Duration
	downloadTimeout time.Duration
}

// New creates a download agent.
func New(headless bool, pageTimeout, downloadTimeout time.Duration) *Agent {
	return &Agent{
		headless:        headless,
		pageTimeout:     pageTimeout,
		downloadTimeout: downloadTimeout,
	}
}

// Download navigates to the action target and waits until one complete file
// lands in destDir. The container format is left for the unpack stage to
// identify by content signature.
func (a *Agent) Download(ctx context.Context, action models.DownloadAction, destDir string) (models.DownloadedArchive, error) {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return models.DownloadedArchive{}, fmt.Errorf("error creating download directory: %w", err)
	}

	before, err := snapshotDir(destDir)
	if err != nil {
		return models.DownloadedArchive{}, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.headless),
		chromedp.NoSandbox,
		chromedp.WindowSize(1280, 800),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	// An empty run forces the browser process to start so a broken Chrome
	// install fails the whole cycle instead of every candidate in turn.
	if err := chromedp.Run(taskCtx); err != nil {
		return models.DownloadedArchive{}, &procerror.BrowserStartError{Err: err}
	}

	if err := chromedp.Run(taskCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(destDir),
	); err != nil {
		return models.DownloadedArchive{}, &procerror.BrowserStartError{Err: err}
	}

	if err := a.navigate(taskCtx, action.Target); err != nil {
		return models.DownloadedArchive{}, err
	}
	a.tryClicks(taskCtx)

	path, err := waitForDownload(ctx, destDir, before, a.downloadTimeout)
	if err != nil {
		return models.DownloadedArchive{}, err
	}

	log.WithFields(logrus.Fields{
		"target": action.Target,
		"file":   filepath.Base(path),
	}).Info("Downloaded archive")
	return models.DownloadedArchive{
		LocalPath: path,
		Format:    models.FormatUnknown,
	}, nil
}

// navigate loads the target page. A direct file link aborts page load once
// the download starts, which chromedp reports as net::ERR_ABORTED; that is
// success here.
func (a *Agent) navigate(taskCtx context.Context, target string) error {
	navCtx, cancel := context.WithTimeout(taskCtx, a.pageTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil && !strings.Contains(err.Error(), "net::ERR_ABORTED") {
		return &procerror.NavigationError{Target: target, Err: err}
	}
	return nil
}

// tryClicks attempts each known download control. Failures are expected:
// most pages match at most one selector, and a direct link matches none.
func (a *Agent) tryClicks(taskCtx context.Context) {
	for _, selector := range clickSelectors {
		clickCtx, cancel := context.WithTimeout(taskCtx, 2*time.Second)
		err := chromedp.Run(clickCtx, chromedp.Click(selector, chromedp.BySearch))
		cancel()
		if err == nil {
			log.WithField("selector", selector).Debug("Clicked download control")
			return
		}
	}
}

// waitForDownload polls dir until a file not present in before exists with
// no in-progress suffix, or the timeout elapses.
func waitForDownload(ctx context.Context, dir string, before map[string]bool, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if path := completedDownload(dir, before); path != "" {
			return path, nil
		}
		if time.Now().After(deadline) {
			return "", &procerror.DownloadTimeoutError{Target: dir, Seconds: timeout.Seconds()}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func completedDownload(dir string, before map[string]bool) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || before[entry.Name()] {
			continue
		}
		if isPartial(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		return filepath.Join(dir, entry.Name())
	}
	return ""
}

func isPartial(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func snapshotDir(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading download directory: %w", err)
	}
	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	return names, nil
}
