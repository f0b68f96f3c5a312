package models

import "time"

// SessionState represents the lifecycle state of a pooled browser session
type SessionState string

const (
	StateStarting   SessionState = "STARTING"
	StateIdle       SessionState = "IDLE"
	StateBusy       SessionState = "BUSY"
	StateRefreshing SessionState = "REFRESHING"
	StateTerminated SessionState = "TERMINATED"
)

// BrowserSession is a point-in-time view of one live browser process
type BrowserSession struct {
	ID              string       `json:"id"`
	Slot            int          `json:"slot"`
	State           SessionState `json:"state"`
	ConnectURL      string       `json:"-"`
	CreatedAt       time.Time    `json:"createdAt"`
	LastUsedAt      time.Time    `json:"lastUsedAt"`
	RefreshDeadline time.Time    `json:"refreshDeadline"`
	JobsServed      int64        `json:"jobsServed"`
}

// PoolStats summarizes slot states and queue depth for ops tooling
type PoolStats struct {
	Size       int `json:"size"`
	Idle       int `json:"idle"`
	Busy       int `json:"busy"`
	Starting   int `json:"starting"`
	Refreshing int `json:"refreshing"`
	Terminated int `json:"terminated"`
	QueueDepth int `json:"queueDepth"`
}
