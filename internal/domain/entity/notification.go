package entity

// NotificationRequest describes one outbound notification produced by a
// committed transition. Requests are transient; delivery is best-effort and
// the outcome is logged, not persisted.
type NotificationRequest struct {
	TraceID     string            `json:"trace_id"`
	Channel     string            `json:"channel"`
	Recipients  []string          `json:"recipients,omitempty"`
	CC          []string          `json:"cc,omitempty"`
	BCC         []string          `json:"bcc,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Body        string            `json:"body"`
	Attachments []string          `json:"attachments,omitempty"`
	MediaURLs   []string          `json:"media_urls,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
