package entity

// RequestContext carries optional correlation metadata from the calling
// request or session. All accessors are nil-safe; the engine works without
// one.
type RequestContext struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// Trace returns the trace id, or empty when no context is present
func (c *RequestContext) Trace() string {
	if c == nil {
		return ""
	}
	return c.TraceID
}

// Labels returns the correlation metadata as a map, omitting empty values
func (c *RequestContext) Labels() map[string]string {
	if c == nil {
		return nil
	}
	labels := make(map[string]string, 4)
	if c.IP != "" {
		labels["ip"] = c.IP
	}
	if c.UserAgent != "" {
		labels["user_agent"] = c.UserAgent
	}
	if c.SessionID != "" {
		labels["session_id"] = c.SessionID
	}
	if c.TraceID != "" {
		labels["trace_id"] = c.TraceID
	}
	if len(labels) == 0 {
		return nil
	}
	return labels
}
