package scheduler

import "context"

// Job is a unit of work run by the worker pool.
type Job interface {
	// Execute runs the job. Implementations must honour ctx cancellation.
	Execute(ctx context.Context) error

	// Key identifies what the job works on (an account id, "all", ...).
	Key() string

	// Description is used in log lines.
	Description() string
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	JobKey string
	Desc   string
	Run    func(ctx context.Context) error
}

func (j FuncJob) Execute(ctx context.Context) error {
	return j.Run(ctx)
}

func (j FuncJob) Key() string {
	return j.JobKey
}

func (j FuncJob) Description() string {
	return j.Desc
}
