package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/aubreys-it/en-export/internal/common"
	"github.com/aubreys-it/en-export/internal/interfaces"
)

// fakeSession is a scripted portal: every selector interaction succeeds
// unless an error was planted, and a download arrives on WaitDownload
// only when one was staged.
type fakeSession struct {
	mu sync.Mutex

	visible   map[string]bool // IsVisible answers; missing selector = visible
	waitErrs  map[string]error
	clickErrs map[string]error

	filled  map[string]string
	clicked []string

	download     *interfaces.Download
	downloadBody string

	navigated []string
	closed    bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		visible:   map[string]bool{},
		waitErrs:  map[string]error{},
		clickErrs: map[string]error{},
		filled:    map[string]string{},
	}
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeSession) WaitNetworkIdle(ctx context.Context) error { return nil }

func (f *fakeSession) WaitVisible(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErrs[selector]
}

func (f *fakeSession) IsVisible(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.visible[selector]
	if !ok {
		return true, nil
	}
	return v, nil
}

func (f *fakeSession) Fill(ctx context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filled[selector] = value
	return nil
}

func (f *fakeSession) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicked = append(f.clicked, selector)
	return f.clickErrs[selector]
}

func (f *fakeSession) WaitDownload(ctx context.Context) (*interfaces.Download, error) {
	f.mu.Lock()
	dl := f.download
	f.mu.Unlock()
	if dl != nil {
		return dl, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSession) SaveDownload(ctx context.Context, dl *interfaces.Download, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := dl.SuggestedFilename
	if name == "" {
		name = "report.csv"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(f.downloadBody), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeStore records uploads in memory.
type fakeStore struct {
	mu        sync.Mutex
	ensured   int
	uploads   map[string]string
	uploadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: map[string]string{}}
}

func (f *fakeStore) EnsureContainer(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured++
	return nil
}

func (f *fakeStore) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.uploads[name] = string(data)
	return "https://test.blob.local/exports/" + name, nil
}

func (f *fakeStore) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Portal.BaseURL = "https://portal.test"
	cfg.Portal.Username = "svc-export"
	cfg.Portal.Password = "hunter2"
	cfg.Storage.ConnectionString = "UseDevelopmentStorage=true"
	cfg.Storage.Container = "exports"
	cfg.Export.DownloadTimeout = 200 * time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *common.Config, session *fakeSession, store *fakeStore) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(cfg, store, func(downloadDir string) (interfaces.BrowserSession, error) {
		return session, nil
	}, arbor.NewLogger())
	o.tempRoot = t.TempDir()
	return o
}

func TestOrchestrator_Run_Success(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.download = &interfaces.Download{GUID: "dl-1", SuggestedFilename: "benefits.csv"}
	session.downloadBody = "employee,plan\nalice,ppo\n"
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)
	o.now = func() time.Time { return time.Date(2026, 3, 15, 14, 30, 45, 0, time.UTC) }

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "EmployeeNavigator/2026/03/15/benefits_20260315_143045.csv", result.ObjectName)
	assert.Equal(t, "https://test.blob.local/exports/"+result.ObjectName, result.Location)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "employee,plan\nalice,ppo\n", store.uploads[result.ObjectName])
	assert.Contains(t, session.navigated, "https://portal.test")
	assert.Equal(t, "svc-export", session.filled[cfg.Selectors.Username])
	assert.Equal(t, "hunter2", session.filled[cfg.Selectors.Password])
	assert.True(t, session.closed, "session must be closed after the run")
}

func TestOrchestrator_Run_LocationPattern(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.download = &interfaces.Download{GUID: "dl-1", SuggestedFilename: "benefits.csv"}
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^EmployeeNavigator/\d{4}/\d{2}/\d{2}/benefits_\d{8}_\d{6}\.csv$`)
	assert.Regexp(t, pattern, result.ObjectName)
}

func TestOrchestrator_Run_NoMFA_SkipsCodeGenerator(t *testing.T) {
	cfg := testConfig()
	cfg.Portal.TOTPSecret = ""
	session := newFakeSession()
	session.download = &interfaces.Download{GUID: "dl-1", SuggestedFilename: "benefits.csv"}
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)
	codeCalls := 0
	o.codeFn = func(secret string, at time.Time) (string, error) {
		codeCalls++
		return "000000", nil
	}

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, codeCalls, "code generator must not run without a configured secret")
	assert.NotContains(t, session.filled, cfg.Selectors.TOTPCode)
}

func TestOrchestrator_Run_MFAChallenge(t *testing.T) {
	cfg := testConfig()
	cfg.Portal.TOTPSecret = "JBSWY3DPEHPK3PXP"
	session := newFakeSession()
	session.download = &interfaces.Download{GUID: "dl-1", SuggestedFilename: "benefits.csv"}
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)
	o.codeFn = func(secret string, at time.Time) (string, error) {
		assert.Equal(t, "JBSWY3DPEHPK3PXP", secret)
		return "123456", nil
	}

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "123456", session.filled[cfg.Selectors.TOTPCode])
}

func TestOrchestrator_Run_MFAConfiguredButNotPresented(t *testing.T) {
	cfg := testConfig()
	cfg.Portal.TOTPSecret = "JBSWY3DPEHPK3PXP"
	session := newFakeSession()
	session.visible[cfg.Selectors.TOTPCode] = false
	session.download = &interfaces.Download{GUID: "dl-1", SuggestedFilename: "benefits.csv"}
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)
	codeCalls := 0
	o.codeFn = func(secret string, at time.Time) (string, error) {
		codeCalls++
		return "123456", nil
	}

	_, err := o.Run(context.Background())
	require.NoError(t, err, "absent challenge with a configured secret proceeds")
	assert.Zero(t, codeCalls)
}

func TestOrchestrator_Run_RejectedCodeSurfacesAsMFAFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Portal.TOTPSecret = "JBSWY3DPEHPK3PXP"
	session := newFakeSession()
	session.clickErrs[cfg.Selectors.ReportLink] = errors.New("element not found")
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)
	o.codeFn = func(secret string, at time.Time) (string, error) { return "123456", nil }

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMFAFailed)
	assert.Zero(t, store.uploadCount())
}

func TestOrchestrator_Run_LoginFormNeverAppears(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.waitErrs[cfg.Selectors.Username] = errors.New("timeout waiting for selector")
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Zero(t, store.uploadCount())
	assert.True(t, session.closed)
}

func TestOrchestrator_Run_NavigateFailureWithoutMFAIsLoginFailure(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.clickErrs[cfg.Selectors.ReportLink] = errors.New("element not found")
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestOrchestrator_Run_DownloadTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Export.DownloadTimeout = 50 * time.Millisecond
	session := newFakeSession() // no staged download: WaitDownload blocks
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownloadTimeout)
	assert.Zero(t, store.uploadCount(), "nothing may reach storage on a timed-out run")
	assert.Zero(t, store.ensured)
}

func TestOrchestrator_Run_CancelledBeforeUpload(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession() // no staged download: run blocks in export
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := o.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.uploadCount(), "cancelled runs leave no trace in storage")
}

func TestOrchestrator_Run_FallbackFilename(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.download = &interfaces.Download{GUID: "dl-1"} // portal gave no filename
	session.downloadBody = "a,b\n"
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.uploadCount())
	assert.Equal(t, "a,b\n", store.uploads[result.ObjectName])
}

func TestOrchestrator_Run_FiltersAbsent(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.visible[cfg.Selectors.StartDate] = false
	session.download = &interfaces.Download{GUID: "dl-1", SuggestedFilename: "benefits.csv"}
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, session.filled, cfg.Selectors.StartDate)
	assert.NotContains(t, session.filled, cfg.Selectors.EndDate)
}

func TestOrchestrator_Run_FiltersPinnedToYesterday(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.download = &interfaces.Download{GUID: "dl-1", SuggestedFilename: "benefits.csv"}
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)
	o.now = func() time.Time { return time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC) }

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-12-31", session.filled[cfg.Selectors.StartDate])
	assert.Equal(t, "2025-12-31", session.filled[cfg.Selectors.EndDate])
}

func TestOrchestrator_Run_UploadFailure(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.download = &interfaces.Download{GUID: "dl-1", SuggestedFilename: "benefits.csv"}
	store := newFakeStore()
	store.uploadErr = errors.New("403 AuthenticationFailed")

	o := newTestOrchestrator(t, cfg, session, store)

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadFailed)
}

func TestOrchestrator_Run_DistinctObjectNamesPerSecond(t *testing.T) {
	cfg := testConfig()
	store := newFakeStore()

	base := time.Date(2026, 3, 15, 14, 30, 45, 0, time.UTC)
	names := make(map[string]bool)
	for i := 0; i < 2; i++ {
		session := newFakeSession()
		session.download = &interfaces.Download{GUID: fmt.Sprintf("dl-%d", i), SuggestedFilename: "benefits.csv"}

		o := newTestOrchestrator(t, cfg, session, store)
		at := base.Add(time.Duration(i) * time.Second)
		o.now = func() time.Time { return at }

		result, err := o.Run(context.Background())
		require.NoError(t, err)
		names[result.ObjectName] = true
	}

	assert.Len(t, names, 2, "runs completing in different seconds get distinct object names")
}

func TestOrchestrator_Run_ExportClickArmsDownloadFirst(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.download = &interfaces.Download{GUID: "dl-1", SuggestedFilename: "benefits.csv"}
	store := newFakeStore()

	o := newTestOrchestrator(t, cfg, session, store)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, session.clicked, cfg.Selectors.ExportBtn)
}
