package protocol

// FRAME (server -> observer). One per completed cycle.
type Frame struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	RunID           string          `json:"run_id"`
	Cycle           uint64          `json:"cycle"`
	Agents          []AgentFrame    `json:"agents"`
	Scores          map[string]int  `json:"scores"`
	Resources       []ResourceFrame `json:"resources"`
	Deposits        []DepositFrame  `json:"deposits"`
	Events          []EventFrame    `json:"events,omitempty"`
	Digest          string          `json:"digest"`
}

type AgentFrame struct {
	ID       int     `json:"id"`
	Team     int     `json:"team"`
	Pos      [2]int  `json:"pos"`
	Facing   string  `json:"facing"`
	State    string  `json:"state"`
	Carrying bool    `json:"carrying"`
	Partner  int     `json:"partner,omitempty"`
	Target   *[2]int `json:"target,omitempty"`
}

type ResourceFrame struct {
	Pos [2]int `json:"pos"`
	Qty int    `json:"qty"`
}

type DepositFrame struct {
	Team int    `json:"team"`
	Pos  [2]int `json:"pos"`
}

// EventFrame is a protocol event raised during the cycle
// (pair, pickup, deposit, release, drop, malformed).
type EventFrame struct {
	Kind    string `json:"kind"`
	Agent   int    `json:"agent"`
	Partner int    `json:"partner,omitempty"`
	Team    int    `json:"team"`
	Pos     [2]int `json:"pos"`
	Reason  string `json:"reason,omitempty"`
}

// SUBSCRIBE (observer -> server). First message on the observer connection;
// may be re-sent to change settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	IncludeEvents   bool   `json:"include_events,omitempty"`
	// EveryN throttles the stream to one frame per N cycles.
	EveryN int `json:"every_n,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string    `json:"protocol_version"`
	RunID           string    `json:"run_id"`
	Cycle           uint64    `json:"cycle"`
	Params          RunParams `json:"params"`
}

type RunParams struct {
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	AgentsPerTeam int    `json:"agents_per_team"`
	Gold          int    `json:"gold"`
	Seed          int64  `json:"seed"`
	CycleRateHz   int    `json:"cycle_rate_hz"`
	InboxPolicy   string `json:"inbox_policy"`
}
