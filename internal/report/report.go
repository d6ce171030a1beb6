// Package report renders human-facing build reports: HTML for the chat
// front end and Markdown for code-review comments.
package report

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sumire/buildd/internal/domain"
)

// Renderer renders reports with links into one owner/repo.
type Renderer struct {
	Owner string
	Repo  string
}

func (r Renderer) prURL(pr int64) string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", r.Owner, r.Repo, pr)
}

func (r Renderer) commitURL(commit string) string {
	return fmt.Sprintf("https://github.com/%s/%s/commit/%s", r.Owner, r.Repo, commit)
}

// NewJobSummaryHTML renders the post-dispatch summary sent to chat.
func (r Renderer) NewJobSummaryHTML(gitRef string, pr *int64, archs, packages []string) string {
	var b strings.Builder
	b.WriteString("<b><u>New Job Summary</u></b>\n\n")
	fmt.Fprintf(&b, "<b>Git reference</b>: %s\n", html.EscapeString(gitRef))
	if pr != nil {
		fmt.Fprintf(&b, "<b>GitHub PR</b>: <a href=\"%s\">#%d</a>\n", r.prURL(*pr), *pr)
	}
	fmt.Fprintf(&b, "<b>Architecture(s)</b>: %s\n", strings.Join(archs, ", "))
	fmt.Fprintf(&b, "<b>Package(s)</b>: %s\n", html.EscapeString(strings.Join(packages, ", ")))
	return b.String()
}

// NewJobSummaryMarkdown renders the post-dispatch summary posted on the
// pull request.
func (r Renderer) NewJobSummaryMarkdown(gitRef string, pr *int64, archs, packages []string) string {
	var b strings.Builder
	b.WriteString("**New Job Summary**\n\n")
	fmt.Fprintf(&b, "**Git reference**: %s\n", gitRef)
	if pr != nil {
		fmt.Fprintf(&b, "**GitHub PR**: [#%d](%s)\n", *pr, r.prURL(*pr))
	}
	fmt.Fprintf(&b, "**Architecture(s)**: %s\n", strings.Join(archs, ", "))
	fmt.Fprintf(&b, "**Package(s)**: %s\n", strings.Join(packages, ", "))
	return b.String()
}

// CompletionHTML renders a job result for the chat session.
func (r Renderer) CompletionHTML(result domain.JobResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Job completed on %s (%s)\n\n",
		outcomeGlyph(result), html.EscapeString(result.Worker.Hostname), result.Worker.Arch)
	fmt.Fprintf(&b, "<b>Time elapsed</b>: %s\n", result.Elapsed.Round(10*time.Millisecond))
	if result.GitCommit != nil {
		fmt.Fprintf(&b, "<b>Git commit</b>: <a href=\"%s\">%s</a>\n",
			r.commitURL(*result.GitCommit), shortCommit(*result.GitCommit))
	}
	if result.Job.GitHubPR != nil {
		fmt.Fprintf(&b, "<b>GitHub PR</b>: <a href=\"%s\">#%d</a>\n", r.prURL(*result.Job.GitHubPR), *result.Job.GitHubPR)
	}
	fmt.Fprintf(&b, "<b>Architecture</b>: %s\n", result.Job.Arch)
	fmt.Fprintf(&b, "<b>Package(s) to build</b>: %s\n", html.EscapeString(strings.Join(result.Job.Packages, ", ")))
	fmt.Fprintf(&b, "<b>Package(s) successfully built</b>: %s\n", html.EscapeString(joinOrNone(result.SuccessfulPackages)))
	fmt.Fprintf(&b, "<b>Package(s) failed to build</b>: %s\n", html.EscapeString(strOrNone(result.FailedPackage)))
	fmt.Fprintf(&b, "<b>Package(s) not built due to previous build failure</b>: %s\n", html.EscapeString(joinOrNone(result.SkippedPackages)))
	fmt.Fprintf(&b, "\n<a href=\"%s\">Build Log &gt;&gt;</a>\n", strOrNone(result.Log))
	return b.String()
}

// CompletionMarkdown renders a job result as one entry of the running
// build log comment on the pull request.
func (r Renderer) CompletionMarkdown(result domain.JobResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Job completed on %s (%s)\n\n",
		outcomeGlyph(result), result.Worker.Hostname, result.Worker.Arch)
	fmt.Fprintf(&b, "**Time elapsed**: %s\n", result.Elapsed.Round(10*time.Millisecond))
	if result.GitCommit != nil {
		fmt.Fprintf(&b, "**Git commit**: [%s](%s)\n", shortCommit(*result.GitCommit), r.commitURL(*result.GitCommit))
	}
	fmt.Fprintf(&b, "**Architecture**: %s\n", result.Job.Arch)
	fmt.Fprintf(&b, "**Package(s) to build**: %s\n", strings.Join(result.Job.Packages, ", "))
	fmt.Fprintf(&b, "**Package(s) successfully built**: %s\n", joinOrNone(result.SuccessfulPackages))
	fmt.Fprintf(&b, "**Package(s) failed to build**: %s\n", strOrNone(result.FailedPackage))
	fmt.Fprintf(&b, "**Package(s) not built due to previous build failure**: %s\n", joinOrNone(result.SkippedPackages))
	fmt.Fprintf(&b, "\n[Build Log >>](%s)\n", strOrNone(result.Log))
	return b.String()
}

func outcomeGlyph(result domain.JobResult) string {
	if result.Successful() {
		return "✅️"
	}
	return "❌"
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}

func strOrNone(s *string) string {
	if s == nil || *s == "" {
		return "None"
	}
	return *s
}
