package domain

import "time"

// RunStatus is the supervisor-owned lifecycle state of a robot run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RobotRunInfo is the externally visible view of one supervised run.
type RobotRunInfo struct {
	Sha       string    `json:"sha"`
	Status    RunStatus `json:"status"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"started_at"`
}

// RobotStats is a point-in-time snapshot of one robot's trading state, pulled
// by the stats broadcaster and returned by the control plane.
type RobotStats struct {
	Sha  string `json:"sha"`
	Pair string `json:"pair"`

	LeaderMid   float64 `json:"leader_mid"`
	BridgeQuote float64 `json:"bridge_quote,omitempty"`
	FollowerBid float64 `json:"follower_bid"`
	FollowerAsk float64 `json:"follower_ask"`

	TheoBuy     float64 `json:"theo_buy"`
	TheoSell    float64 `json:"theo_sell"`
	CurrentStep int     `json:"current_step"`

	BaseFree  float64 `json:"base_free"`
	QuoteFree float64 `json:"quote_free"`

	Delivered int64   `json:"delivered"`
	Attempted int64   `json:"attempted"`
	PnL       float64 `json:"pnl"`

	UpdatedAt time.Time `json:"updated_at"`
}
