// Package browser provides the chromedp-backed implementation of the
// BrowserSession capability. One Session owns one headless Chrome
// instance and one page for the lifetime of a single export run.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/aubreys-it/en-export/internal/common"
	"github.com/aubreys-it/en-export/internal/interfaces"
)

// fallbackFilename is used when the portal suggests no download name.
const fallbackFilename = "report.csv"

// Session implements interfaces.BrowserSession with chromedp.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	cfg         common.BrowserConfig
	logger      arbor.ILogger
	downloadDir string

	// downloads receives completed downloads; buffered so the
	// browser-level listener never blocks, and armed before any
	// navigation so an early download cannot be missed.
	downloads chan interfaces.Download

	mu         sync.Mutex
	suggested  map[string]string // download GUID -> suggested filename
	lastAction time.Time         // most recent navigation/click/fill
	lastIdle   time.Time         // most recent networkIdle lifecycle event
}

// NewSession starts a browser configured to download into downloadDir.
// The download listener is armed here, before any page interaction.
func NewSession(cfg common.BrowserConfig, downloadDir string, logger arbor.ILogger) (*Session, error) {
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	absDownloadDir, err := filepath.Abs(downloadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download directory: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.UserAgent(cfg.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		cfg:         cfg,
		logger:      logger,
		downloadDir: absDownloadDir,
		downloads:   make(chan interfaces.Download, 4),
		suggested:   make(map[string]string),
	}

	// Allow downloads browser-wide and name files by GUID so
	// concurrent writes inside the run directory cannot collide.
	if err := chromedp.Run(s.ctx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(absDownloadDir).
			WithEventsEnabled(true),
		page.SetLifecycleEventsEnabled(true),
	); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to configure browser session: %w", err)
	}

	chromedp.ListenBrowser(s.ctx, s.onBrowserEvent)
	chromedp.ListenTarget(s.ctx, s.onTargetEvent)

	logger.Debug().
		Str("download_dir", absDownloadDir).
		Bool("headless", cfg.Headless).
		Msg("Browser session started")

	return s, nil
}

func (s *Session) onBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *cdpbrowser.EventDownloadWillBegin:
		s.mu.Lock()
		s.suggested[e.GUID] = e.SuggestedFilename
		s.mu.Unlock()
		s.logger.Debug().
			Str("guid", e.GUID).
			Str("suggested", e.SuggestedFilename).
			Msg("Download starting")
	case *cdpbrowser.EventDownloadProgress:
		if e.State != cdpbrowser.DownloadProgressStateCompleted {
			return
		}
		s.mu.Lock()
		name := s.suggested[e.GUID]
		s.mu.Unlock()
		dl := interfaces.Download{
			GUID:              e.GUID,
			SuggestedFilename: name,
			Path:              filepath.Join(s.downloadDir, e.GUID),
		}
		select {
		case s.downloads <- dl:
		default:
		}
		s.logger.Debug().Str("guid", e.GUID).Msg("Download completed")
	}
}

func (s *Session) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventLifecycleEvent:
		if e.Name == "networkIdle" {
			s.mu.Lock()
			s.lastIdle = time.Now()
			s.mu.Unlock()
		}
	case *page.EventJavascriptDialogOpening:
		s.logger.Debug().Str("message", e.Message).Msg("Dismissing dialog")
		go chromedp.Run(s.ctx, page.HandleJavaScriptDialog(true))
	}
}

// run executes chromedp actions bounded by the step timeout and the
// caller's ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	bounded, cancel := context.WithTimeout(s.ctx, s.cfg.StepTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(bounded, actions...) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Session) bumpAction() {
	s.mu.Lock()
	s.lastAction = time.Now()
	s.mu.Unlock()
}

// Navigate loads url in the session's page.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.bumpAction()
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitNetworkIdle blocks until the page reports a networkIdle lifecycle
// event that postdates the last navigation or interaction.
func (s *Session) WaitNetworkIdle(ctx context.Context) error {
	deadline := time.NewTimer(s.cfg.StepTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		s.mu.Lock()
		idle := !s.lastIdle.IsZero() && !s.lastIdle.Before(s.lastAction)
		s.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for network idle after %s", s.cfg.StepTimeout)
		}
	}
}

// WaitVisible blocks until selector is visible or the bound expires.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %s not visible: %w", selector, err)
	}
	return nil
}

// IsVisible reports the current visibility of selector without waiting.
func (s *Session) IsVisible(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`(function() {
		var el = document.querySelector(%q);
		if (!el) { return false; }
		var r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	})()`, selector)

	var visible bool
	if err := s.run(ctx, chromedp.Evaluate(script, &visible)); err != nil {
		return false, fmt.Errorf("visibility check for %s failed: %w", selector, err)
	}
	return visible, nil
}

// Fill types value into the element matching selector.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	s.bumpAction()
	if err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to fill %s: %w", selector, err)
	}
	return nil
}

// Click clicks the element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.bumpAction()
	if err := s.run(ctx, chromedp.Click(selector, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

// WaitDownload blocks until a download completes or ctx expires. The
// listener feeding the channel was armed at session start, so a
// download that finished before this call is still delivered.
func (s *Session) WaitDownload(ctx context.Context) (*interfaces.Download, error) {
	select {
	case dl := <-s.downloads:
		return &dl, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SaveDownload moves the completed download into dir under the portal's
// suggested filename, falling back to report.csv.
func (s *Session) SaveDownload(ctx context.Context, dl *interfaces.Download, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := dl.SuggestedFilename
	if name == "" {
		name = fallbackFilename
	}
	dest := filepath.Join(dir, filepath.Base(name))

	if err := os.Rename(dl.Path, dest); err != nil {
		return "", fmt.Errorf("failed to save download %s: %w", dl.GUID, err)
	}
	s.logger.Debug().Str("path", dest).Msg("Download saved")
	return dest, nil
}

// Close releases the browser and its allocator.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return nil
}
