package types

// RunnerInfo describes a live application process.
type RunnerInfo struct {
	ID          string  `json:"id"`
	AppName     string  `json:"appName"`
	RequestFrom string  `json:"request_from"`
	From        float64 `json:"from"` // unix seconds
	Finished    bool    `json:"finished,omitempty"`
	ExitCode    int     `json:"exitCode,omitempty"`
}

// SubscriberInfo describes a telemetry subscription.
type SubscriberInfo struct {
	APIs []string `json:"apis"`
	From float64  `json:"from"` // unix seconds
}

// SubscriberSummary is the sanitized subscriber form sent in state reports.
type SubscriberSummary struct {
	APIs      []string `json:"apis"`
	KeepAlive int      `json:"keep_alive"` // seconds until expiry
}

// RuntimeInfo is the full runtime snapshot returned by get-runtime-info.
type RuntimeInfo struct {
	Runners     []RunnerInfo              `json:"lsOfRunner"`
	Subscribers map[string]SubscriberInfo `json:"lsOfApiSubscriber"`
}

// RuntimeReport is the per-subscriber detail sent when runtime state changes.
type RuntimeReport struct {
	Runners     []RunnerInfo                 `json:"lsOfRunner"`
	Subscribers map[string]SubscriberSummary `json:"lsOfApiSubscriber"`
	APIs        []string                     `json:"apis"`
}
