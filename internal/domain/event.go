package domain

// CommentEvent is the inbound review-comment payload consumed from the
// github-webhooks queue. The shape mirrors the GitHub issue_comment
// webhook, reduced to the fields the command processor needs.
type CommentEvent struct {
	Comment Comment `json:"comment"`
}

// Comment is a single review-thread comment.
type Comment struct {
	IssueURL string      `json:"issue_url"`
	User     CommentUser `json:"user"`
	Body     string      `json:"body"`
}

// CommentUser identifies the comment author.
type CommentUser struct {
	Login string `json:"login"`
}
