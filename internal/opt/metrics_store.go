package opt

import "sync"

type runKey struct {
	Tenant string
	JobID  string
}

var (
	runMu   sync.Mutex
	runRecs = map[runKey]RunStats{}
)

// RecordRun keeps the stats of a finished solve for admin views.
func RecordRun(tenant, jobID string, s RunStats) {
	runMu.Lock()
	runRecs[runKey{Tenant: tenant, JobID: jobID}] = s
	runMu.Unlock()
}

// GetRuns returns all recorded run stats for a tenant keyed by job ID.
func GetRuns(tenant string) map[string]RunStats {
	runMu.Lock()
	defer runMu.Unlock()
	out := map[string]RunStats{}
	for k, v := range runRecs {
		if k.Tenant == tenant {
			out[k.JobID] = v
		}
	}
	return out
}

// GetRun returns the recorded stats for one job, if any.
func GetRun(tenant, jobID string) (RunStats, bool) {
	runMu.Lock()
	defer runMu.Unlock()
	s, ok := runRecs[runKey{Tenant: tenant, JobID: jobID}]
	return s, ok
}
