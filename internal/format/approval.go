package format

import "fmt"

// ShortID truncates an identifier for display. Lists and headers show
// the short form; reply instructions keep the full id because lookups
// are exact.
func ShortID(id string) string {
	if len(id) <= ShortIDLen {
		return id
	}
	return id[:ShortIDLen]
}

// ApprovalPrompt renders the message asking the user to confirm a
// destructive operation.
func (f *Formatter) ApprovalPrompt(tool, target, reason, id string) string {
	head := fmt.Sprintf("🔐 Approval needed [%s]", ShortID(id))
	op := fmt.Sprintf("%s: %s", tool, target)
	body := head + "\n" + op
	if reason != "" {
		body += "\n" + reason
	}
	body += fmt.Sprintf("\nReply: approve %s or reject %s", id, id)
	return body
}

// ApprovalApproved confirms a granted request.
func (f *Formatter) ApprovalApproved(tool, target string) string {
	return fmt.Sprintf("✅ Approved: %s %s", tool, target)
}

// ApprovalRejected reports a denied request.
func (f *Formatter) ApprovalRejected(tool, target string) string {
	return fmt.Sprintf("🚫 Rejected: %s %s", tool, target)
}

// ApprovalTimedOut reports a request that expired unanswered.
func (f *Formatter) ApprovalTimedOut(tool, target string) string {
	return fmt.Sprintf("⌛ Approval timed out: %s %s", tool, target)
}
