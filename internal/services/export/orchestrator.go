// Package export implements the end-to-end benefits report export run:
// portal login with optional TOTP MFA, export trigger, download
// capture, and upload to object storage under a timestamp-partitioned
// name. The workflow is an explicit state machine so every suspension
// point, timeout, and cancellation check has a named home.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/aubreys-it/en-export/internal/common"
	"github.com/aubreys-it/en-export/internal/interfaces"
	"github.com/aubreys-it/en-export/internal/otp"
)

// state enumerates the orchestrator's workflow states. Transitions are
// linear with one optional branch (MFA) and one optional skip (date
// filters).
type state int

const (
	stateInit state = iota
	stateLogin
	stateMFA
	stateNavigate
	stateFilters
	stateExport
	statePersist
	stateUpload
	stateDone
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateLogin:
		return "login"
	case stateMFA:
		return "mfa"
	case stateNavigate:
		return "navigate"
	case stateFilters:
		return "filters"
	case stateExport:
		return "export"
	case statePersist:
		return "persist"
	case stateUpload:
		return "upload"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// SessionFactory creates a browser session downloading into dir.
type SessionFactory func(downloadDir string) (interfaces.BrowserSession, error)

// Orchestrator drives one export run at a time. Instances are safe for
// concurrent Run calls: all per-run state lives in the run struct, and
// each run owns its own browser session and temp directory.
type Orchestrator struct {
	cfg        *common.Config
	store      interfaces.ObjectStore
	newSession SessionFactory
	logger     arbor.ILogger

	// injectable for tests
	now      func() time.Time
	codeFn   func(secret string, t time.Time) (string, error)
	tempRoot string
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(cfg *common.Config, store interfaces.ObjectStore, newSession SessionFactory, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		newSession: newSession,
		logger:     logger,
		now:        time.Now,
		codeFn:     otp.CodeFromSecret,
		tempRoot:   os.TempDir(),
	}
}

// run carries the mutable state of a single attempt.
type run struct {
	id           string
	downloadDir  string
	session      interfaces.BrowserSession
	mfaSubmitted bool
	download     *interfaces.Download
	localPath    string
	result       *interfaces.ExportResult
}

// Run executes one export attempt. A run is a single try: no step is
// retried, and any unrecovered fault terminates the remaining steps.
// Cancellation is checked between states, so a cancel requested before
// local persistence never reaches the upload step.
func (o *Orchestrator) Run(ctx context.Context) (*interfaces.ExportResult, error) {
	r := &run{id: common.NewRunID()}
	start := o.now()

	o.logger.Info().Str("run_id", r.id).Msg("Export run starting")
	defer o.cleanup(r)

	for st := stateInit; st != stateDone; {
		if err := ctx.Err(); err != nil {
			o.logger.Warn().Str("run_id", r.id).Str("state", st.String()).Msg("Export run cancelled")
			return nil, fmt.Errorf("run cancelled in state %s: %w", st, err)
		}

		next, err := o.step(ctx, r, st)
		if err != nil {
			o.logger.Error().Err(err).Str("run_id", r.id).Str("state", st.String()).Msg("Export run failed")
			return nil, err
		}
		st = next
	}

	o.logger.Info().
		Str("run_id", r.id).
		Str("location", r.result.Location).
		Dur("elapsed", o.now().Sub(start)).
		Msg("Export run completed")

	return r.result, nil
}

// step is the single transition function of the workflow state machine.
func (o *Orchestrator) step(ctx context.Context, r *run, st state) (state, error) {
	switch st {
	case stateInit:
		return o.stepInit(r)
	case stateLogin:
		return o.stepLogin(ctx, r)
	case stateMFA:
		return o.stepMFA(ctx, r)
	case stateNavigate:
		return o.stepNavigate(ctx, r)
	case stateFilters:
		return o.stepFilters(ctx, r)
	case stateExport:
		return o.stepExport(ctx, r)
	case statePersist:
		return o.stepPersist(ctx, r)
	case stateUpload:
		return o.stepUpload(ctx, r)
	default:
		return stateDone, fmt.Errorf("unexpected state %s", st)
	}
}

// stepInit allocates the run-unique download directory and starts the
// browser session configured to download into it. The random directory
// name keeps concurrent runs from touching each other's files.
func (o *Orchestrator) stepInit(r *run) (state, error) {
	r.downloadDir = filepath.Join(o.tempRoot, "en-export-"+r.id)

	session, err := o.newSession(r.downloadDir)
	if err != nil {
		return 0, fmt.Errorf("failed to start browser session: %w", err)
	}
	r.session = session
	return stateLogin, nil
}

func (o *Orchestrator) stepLogin(ctx context.Context, r *run) (state, error) {
	sel := o.cfg.Selectors

	if err := r.session.Navigate(ctx, o.cfg.Portal.BaseURL); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if err := r.session.WaitNetworkIdle(ctx); err != nil {
		return 0, fmt.Errorf("%w: portal never settled: %v", ErrLoginFailed, err)
	}
	if err := r.session.WaitVisible(ctx, sel.Username); err != nil {
		return 0, fmt.Errorf("%w: login form never became available: %v", ErrLoginFailed, err)
	}
	if err := r.session.Fill(ctx, sel.Username, o.cfg.Portal.Username); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if err := r.session.Fill(ctx, sel.Password, o.cfg.Portal.Password); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if err := r.session.Click(ctx, sel.LoginSubmit); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if err := r.session.WaitNetworkIdle(ctx); err != nil {
		return 0, fmt.Errorf("%w: login did not settle: %v", ErrLoginFailed, err)
	}

	o.logger.Debug().Str("run_id", r.id).Msg("Login submitted")
	return stateMFA, nil
}

// stepMFA answers the one-time-code challenge when both an MFA secret
// is configured and the portal presents the code field. A missing
// field is a silent skip: MFA is optional per tenant, not a failure.
func (o *Orchestrator) stepMFA(ctx context.Context, r *run) (state, error) {
	if !o.cfg.MFAEnabled() {
		return stateNavigate, nil
	}
	sel := o.cfg.Selectors

	visible, err := r.session.IsVisible(ctx, sel.TOTPCode)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMFAFailed, err)
	}
	if !visible {
		// Deliberate graceful degradation: a tenant with a configured
		// secret but no challenge proceeds, loudly enough to spot.
		o.logger.Warn().Str("run_id", r.id).Msg("MFA secret configured but code field not present, continuing")
		return stateNavigate, nil
	}

	code, err := o.codeFn(o.cfg.Portal.TOTPSecret, o.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMFAFailed, err)
	}
	if err := r.session.Fill(ctx, sel.TOTPCode, code); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMFAFailed, err)
	}
	if err := r.session.Click(ctx, sel.TOTPSubmit); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMFAFailed, err)
	}
	if err := r.session.WaitNetworkIdle(ctx); err != nil {
		return 0, fmt.Errorf("%w: challenge did not settle: %v", ErrMFAFailed, err)
	}

	r.mfaSubmitted = true
	o.logger.Debug().Str("run_id", r.id).Msg("MFA challenge answered")
	return stateNavigate, nil
}

// stepNavigate clicks through to the report screen. A rejected one-time
// code surfaces here: the portal never advances past the challenge, so
// the report link never appears.
func (o *Orchestrator) stepNavigate(ctx context.Context, r *run) (state, error) {
	sel := o.cfg.Selectors

	if err := r.session.Click(ctx, sel.ReportLink); err != nil {
		if r.mfaSubmitted {
			return 0, fmt.Errorf("%w: report screen unreachable after code submission: %v", ErrMFAFailed, err)
		}
		return 0, fmt.Errorf("%w: report screen unreachable: %v", ErrLoginFailed, err)
	}
	if err := r.session.WaitNetworkIdle(ctx); err != nil {
		return 0, fmt.Errorf("report screen did not settle: %w", err)
	}
	return stateFilters, nil
}

// stepFilters pins the reporting window to yesterday (UTC) when the
// portal exposes date-range inputs; otherwise the portal's default
// range applies.
func (o *Orchestrator) stepFilters(ctx context.Context, r *run) (state, error) {
	sel := o.cfg.Selectors

	visible, err := r.session.IsVisible(ctx, sel.StartDate)
	if err != nil {
		return 0, fmt.Errorf("filter check failed: %w", err)
	}
	if !visible {
		o.logger.Debug().Str("run_id", r.id).Msg("No date filters on report screen, using portal defaults")
		return stateExport, nil
	}

	yesterday := o.now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	if err := r.session.Fill(ctx, sel.StartDate, yesterday); err != nil {
		return 0, fmt.Errorf("failed to set start date: %w", err)
	}
	if err := r.session.Fill(ctx, sel.EndDate, yesterday); err != nil {
		return 0, fmt.Errorf("failed to set end date: %w", err)
	}

	o.logger.Debug().Str("run_id", r.id).Str("date", yesterday).Msg("Report window pinned")
	return stateExport, nil
}

// stepExport arms the download wait before triggering the export click,
// so the completion event cannot slip past between trigger and wait.
func (o *Orchestrator) stepExport(ctx context.Context, r *run) (state, error) {
	dlCtx, cancel := context.WithTimeout(ctx, o.cfg.Export.DownloadTimeout)
	defer cancel()

	type waitResult struct {
		dl  *interfaces.Download
		err error
	}
	wait := make(chan waitResult, 1)
	go func() {
		dl, err := r.session.WaitDownload(dlCtx)
		wait <- waitResult{dl, err}
	}()

	if err := r.session.Click(ctx, o.cfg.Selectors.ExportBtn); err != nil {
		cancel()
		<-wait
		return 0, fmt.Errorf("failed to trigger export: %w", err)
	}

	res := <-wait
	if res.err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: no download within %s", ErrDownloadTimeout, o.cfg.Export.DownloadTimeout)
	}

	r.download = res.dl
	return statePersist, nil
}

func (o *Orchestrator) stepPersist(ctx context.Context, r *run) (state, error) {
	path, err := r.session.SaveDownload(ctx, r.download, r.downloadDir)
	if err != nil {
		return 0, fmt.Errorf("failed to persist download: %w", err)
	}
	r.localPath = path
	return stateUpload, nil
}

// stepUpload writes the only externally-visible state of the run. It
// executes strictly after local persistence, so a failed run leaves no
// trace in durable storage.
func (o *Orchestrator) stepUpload(ctx context.Context, r *run) (state, error) {
	if err := o.store.EnsureContainer(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	file, err := os.Open(r.localPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer file.Close()

	completedAt := o.now().UTC()
	objectName := ObjectName(o.cfg.Export.Prefix, completedAt)

	location, err := o.store.Upload(ctx, objectName, file)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	r.result = &interfaces.ExportResult{
		RunID:       r.id,
		ObjectName:  objectName,
		Location:    location,
		CompletedAt: completedAt,
	}
	return stateDone, nil
}

// cleanup releases the run's browser session and removes its temp
// directory. Cleanup is advisory: the directory lives in run-scoped
// ephemeral storage, so a leftover on failure is acceptable.
func (o *Orchestrator) cleanup(r *run) {
	if r.session != nil {
		if err := r.session.Close(); err != nil {
			o.logger.Warn().Err(err).Str("run_id", r.id).Msg("Browser session close failed")
		}
	}
	if r.downloadDir != "" {
		os.RemoveAll(r.downloadDir)
	}
}
