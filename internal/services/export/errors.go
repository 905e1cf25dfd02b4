package export

import "errors"

// Run-terminating error kinds. Each marks the step the run died in;
// the underlying cause is carried in the wrapped message. The only
// faults that do not terminate a run are the two optional branches
// (MFA field absent, date filters absent), which are silent skips.
var (
	// ErrLoginFailed indicates the login form never became available
	// or could not be submitted within the bounded wait.
	ErrLoginFailed = errors.New("portal login failed")

	// ErrMFAFailed indicates the MFA challenge was presented but could
	// not be answered, including a malformed shared secret.
	ErrMFAFailed = errors.New("mfa challenge failed")

	// ErrDownloadTimeout indicates the export was triggered but no
	// download event arrived within the bounded window.
	ErrDownloadTimeout = errors.New("report download timed out")

	// ErrUploadFailed indicates a transport or authorization error
	// from the storage collaborator.
	ErrUploadFailed = errors.New("report upload failed")
)
