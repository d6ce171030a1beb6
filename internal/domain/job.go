package domain

import (
	"strings"
	"time"
)

// Job is one unit of work for a build worker: build the listed packages
// at the given git ref on a single architecture. A build request fans
// out into one Job per requested architecture. Immutable once published.
type Job struct {
	Packages []string `json:"packages"`
	GitRef   string   `json:"git_ref"`
	Arch     string   `json:"arch"`
	ChatID   int64    `json:"tg_chatid"`
	GitHubPR *int64   `json:"github_pr,omitempty"`
}

// QueueName returns the broker queue this job is published to.
func (j Job) QueueName() string {
	return "job-" + j.Arch
}

// JobResult is the terminal outcome of a Job, produced exactly once by
// one worker.
type JobResult struct {
	Job                Job              `json:"job"`
	SuccessfulPackages []string         `json:"successful_packages"`
	FailedPackage      *string          `json:"failed_package,omitempty"`
	SkippedPackages    []string         `json:"skipped_packages"`
	Log                *string          `json:"log,omitempty"`
	Worker             WorkerIdentifier `json:"worker"`
	Elapsed            time.Duration    `json:"elapsed"`
	GitCommit          *string          `json:"git_commit,omitempty"`
}

// Successful reports whether the job built everything it was asked to.
// A result with a successful-package set unequal to the requested set
// is a failure even when no explicit failed package was reported, e.g.
// a worker crash.
func (r JobResult) Successful() bool {
	want := make(map[string]struct{}, len(r.Job.Packages))
	for _, p := range r.Job.Packages {
		want[p] = struct{}{}
	}
	got := make(map[string]struct{}, len(r.SuccessfulPackages))
	for _, p := range r.SuccessfulPackages {
		if _, ok := want[p]; !ok {
			return false
		}
		got[p] = struct{}{}
	}
	return len(got) == len(want)
}

// WorkerIdentifier is the natural key of a build worker process.
type WorkerIdentifier struct {
	Hostname string `json:"hostname"`
	Arch     string `json:"arch"`
	PID      int64  `json:"pid"`
}

// Compare orders identifiers lexicographically over
// (hostname, arch, pid). Used for deterministic status listings.
func (w WorkerIdentifier) Compare(other WorkerIdentifier) int {
	if c := strings.Compare(w.Hostname, other.Hostname); c != 0 {
		return c
	}
	if c := strings.Compare(w.Arch, other.Arch); c != 0 {
		return c
	}
	switch {
	case w.PID < other.PID:
		return -1
	case w.PID > other.PID:
		return 1
	}
	return 0
}

// WorkerHeartbeat is the periodic liveness signal from a worker. It
// carries identity only; arrival time is taken at receipt.
type WorkerHeartbeat struct {
	Identifier WorkerIdentifier `json:"identifier"`
}

// WorkerStatus is a liveness registry entry.
type WorkerStatus struct {
	LastHeartbeat time.Time
}
