package interfaces

// SchedulerService drives scheduled export runs from a cron expression.
type SchedulerService interface {
	// Start registers the export job and starts the cron loop.
	Start() error
	// Stop halts the cron loop and waits for a running job to finish.
	Stop()
	// TriggerNow runs the export job immediately, serialized with
	// scheduled ticks.
	TriggerNow() (*ExportResult, error)
}
