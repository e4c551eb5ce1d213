package ingest

// SetMaxTrackedJobs lowers the job tracking limit and returns a restore func.
func SetMaxTrackedJobs(n int) func() {
	prev := maxTrackedJobs
	maxTrackedJobs = n
	return func() { maxTrackedJobs = prev }
}
