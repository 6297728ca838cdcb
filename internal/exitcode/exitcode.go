package exitcode

const (
	Success         = 0
	UsageError      = 1
	ValidationError = 2
	DBConnError     = 3
	ConflictError   = 4 // batch already ran for this clinic/date
	WindowError     = 5 // outside the clinic's batch window
	PipelineError   = 6
	PartialSuccess  = 7 // batch finished with failed tasks
)
