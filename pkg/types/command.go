package types

import "encoding/json"

// Command is an inbound envelope delivered on the "messageToKit" event.
type Command struct {
	Cmd         string          `json:"cmd"`
	RequestFrom string          `json:"request_from"`
	Data        json.RawMessage `json:"data,omitempty"`
	Code        string          `json:"code,omitempty"` // deploy requests carry the program at top level
	APIs        []string        `json:"apis,omitempty"`
	UsedAPIs    []string        `json:"usedAPIs,omitempty"`
}

// RunAppRequest is the data payload of run_python_app.
type RunAppRequest struct {
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

// Reply is the outbound "messageToKit-kitReply" payload.
type Reply struct {
	KitID       string `json:"kit_id"`
	RequestFrom string `json:"request_from"`
	Cmd         string `json:"cmd"`
	Result      any    `json:"result,omitempty"`
	Data        any    `json:"data,omitempty"`
	Code        *int   `json:"code,omitempty"`
	IsDone      *bool  `json:"isDone,omitempty"`
}

// DeployReply reports one step of a simulated deployment.
type DeployReply struct {
	Token       string `json:"token"`
	RequestFrom string `json:"request_from"`
	Cmd         string `json:"cmd"`
	Data        string `json:"data"`
	Result      string `json:"result"`
	IsFinish    bool   `json:"is_finish"`
}

// RegisterKit is emitted on every (re)connect to the kit server.
type RegisterKit struct {
	KitID string `json:"kit_id"`
	Name  string `json:"name"`
}

// RuntimeSummary is the broadcast "report-runtime-state" payload.
type RuntimeSummary struct {
	KitID string       `json:"kit_id"`
	Data  RuntimeCount `json:"data"`
}

// RuntimeCount carries the number of live runners and subscribers.
type RuntimeCount struct {
	Runners     int `json:"noOfRunner"`
	Subscribers int `json:"noOfApiSubscriber"`
}
