package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sumire/buildd/internal/domain"
)

var testRenderer = Renderer{Owner: "AOSC-Dev", Repo: "aosc-os-abbs"}

func successResult() domain.JobResult {
	commit := "0123456789abcdef0123456789abcdef01234567"
	log := "https://buildit.aosc.io/logs/job-1.txt"
	pr := int64(4217)
	return domain.JobResult{
		Job: domain.Job{
			Packages: []string{"bash", "fish"},
			GitRef:   "bash-survey",
			Arch:     "amd64",
			ChatID:   7,
			GitHubPR: &pr,
		},
		SuccessfulPackages: []string{"bash", "fish"},
		GitCommit:          &commit,
		Elapsed:            83*time.Second + 456*time.Millisecond,
		Worker:             domain.WorkerIdentifier{Hostname: "builder1", Arch: "amd64", PID: 42},
		Log:                &log,
	}
}

func TestCompletionMarkdownSuccess(t *testing.T) {
	out := testRenderer.CompletionMarkdown(successResult())

	assert.Contains(t, out, "✅️ Job completed on builder1 (amd64)")
	assert.Contains(t, out, "**Time elapsed**: 1m23.46s")
	assert.Contains(t, out, "[01234567](https://github.com/AOSC-Dev/aosc-os-abbs/commit/0123456789abcdef0123456789abcdef01234567)")
	assert.Contains(t, out, "**Package(s) successfully built**: bash, fish")
	assert.Contains(t, out, "**Package(s) failed to build**: None")
	assert.Contains(t, out, "**Package(s) not built due to previous build failure**: None")
	assert.Contains(t, out, "[Build Log >>](https://buildit.aosc.io/logs/job-1.txt)")
}

func TestCompletionMarkdownFailure(t *testing.T) {
	result := successResult()
	failed := "fish"
	result.SuccessfulPackages = []string{"bash"}
	result.FailedPackage = &failed
	result.SkippedPackages = []string{"zsh"}
	result.Log = nil

	out := testRenderer.CompletionMarkdown(result)

	assert.Contains(t, out, "❌ Job completed on builder1 (amd64)")
	assert.Contains(t, out, "**Package(s) failed to build**: fish")
	assert.Contains(t, out, "**Package(s) not built due to previous build failure**: zsh")
	assert.Contains(t, out, "[Build Log >>](None)")
}

func TestCompletionHTMLEscapesHostname(t *testing.T) {
	result := successResult()
	result.Worker.Hostname = "builder<1>"

	out := testRenderer.CompletionHTML(result)

	assert.Contains(t, out, "builder&lt;1&gt;")
	assert.Contains(t, out, `<a href="https://github.com/AOSC-Dev/aosc-os-abbs/pull/4217">#4217</a>`)
	assert.Contains(t, out, "Build Log &gt;&gt;")
}

func TestNewJobSummaryMarkdown(t *testing.T) {
	pr := int64(99)
	out := testRenderer.NewJobSummaryMarkdown("stable", &pr, []string{"amd64", "arm64"}, []string{"bash"})

	assert.Contains(t, out, "**New Job Summary**")
	assert.Contains(t, out, "**Git reference**: stable")
	assert.Contains(t, out, "[#99](https://github.com/AOSC-Dev/aosc-os-abbs/pull/99)")
	assert.Contains(t, out, "**Architecture(s)**: amd64, arm64")
	assert.Contains(t, out, "**Package(s)**: bash")
}

func TestNewJobSummaryHTMLWithoutPR(t *testing.T) {
	out := testRenderer.NewJobSummaryHTML("stable", nil, []string{"amd64"}, []string{"bash"})

	assert.NotContains(t, out, "GitHub PR")
	assert.Contains(t, out, "<b>Git reference</b>: stable")
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "01234567", shortCommit("0123456789abcdef"))
	assert.Equal(t, "abc", shortCommit("abc"))
}
