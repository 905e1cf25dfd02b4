package interfaces

import "context"

// Download describes a file the portal pushed to the browser.
type Download struct {
	// GUID is the browser-assigned identifier the file is initially
	// saved under.
	GUID string
	// SuggestedFilename is the name the portal suggested for the
	// download, empty when none was provided.
	SuggestedFilename string
	// Path is the on-disk location of the completed download.
	Path string
}

// BrowserSession is the narrow browser-automation capability the export
// orchestrator depends on. One session drives exactly one run and is
// never shared. Every blocking operation honors ctx and is bounded by
// the session's configured timeout.
type BrowserSession interface {
	// Navigate loads the given URL in the session's page.
	Navigate(ctx context.Context, url string) error

	// WaitNetworkIdle blocks until the page reports no pending network
	// activity, or the bound expires.
	WaitNetworkIdle(ctx context.Context) error

	// WaitVisible blocks until the element matching selector is
	// visible, or the bound expires.
	WaitVisible(ctx context.Context, selector string) error

	// IsVisible reports whether the element matching selector is
	// currently visible, without waiting for it to appear.
	IsVisible(ctx context.Context, selector string) (bool, error)

	// Fill types value into the element matching selector.
	Fill(ctx context.Context, selector, value string) error

	// Click clicks the element matching selector.
	Click(ctx context.Context, selector string) error

	// WaitDownload blocks until a download completes. The session's
	// download listener is armed when the session starts, so a
	// download triggered before WaitDownload is called is still
	// observed.
	WaitDownload(ctx context.Context) (*Download, error)

	// SaveDownload moves a completed download into dir, named from the
	// portal's suggested filename or a fallback, and returns the final
	// path.
	SaveDownload(ctx context.Context, dl *Download, dir string) (string, error)

	// Close releases the browser session and its resources.
	Close() error
}
