package session

// Info describes a session for status queries and remote collectors.
type Info struct {
	SessionID     string     `json:"session_id"`
	Path          string     `json:"path"`
	Mode          string     `json:"mode"`
	State         string     `json:"state"`
	Error         string     `json:"error,omitempty"`
	PID           int        `json:"pid"`
	Generation    uint64     `json:"generation"`
	RingCapacity  int        `json:"ring_capacity,omitempty"`
	Labels        int        `json:"labels"`
	LabelOverflow uint64     `json:"label_overflow"`
	Dropped       uint64     `json:"dropped"`
	Rings         []RingInfo `json:"rings,omitempty"`
}

// RingInfo describes one claimed ring.
type RingInfo struct {
	Index    int    `json:"index"`
	ThreadID uint32 `json:"thread_id"`
	Active   bool   `json:"active"`
	Pending  uint64 `json:"pending_bytes"`
	Dropped  uint64 `json:"dropped"`
}
