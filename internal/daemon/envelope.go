// Package daemon is the single logical owner of a workspace's mutable
// state: every contract transition, lease claim, and module toggle is
// funneled through one Daemon, which exposes them as a versioned,
// discriminated command envelope over HTTP.
package daemon

import "encoding/json"

// ProtocolVersion is the current envelope schema version. The daemon
// refuses requests carrying a version it does not recognize; accepting an
// older version via an explicit shim is a future extension point, not
// something this version does.
const ProtocolVersion = 1

// Command names the discriminated request types the daemon understands.
type Command string

const (
	CommandContractCreate     Command = "contract.create"
	CommandContractGet        Command = "contract.get"
	CommandContractList       Command = "contract.list"
	CommandContractTransition Command = "contract.transition"

	CommandEndpointClaim   Command = "endpoint.claim"
	CommandEndpointList    Command = "endpoint.list"
	CommandEndpointRelease Command = "endpoint.release"

	CommandResourceClaim   Command = "resource.claim"
	CommandResourceList    Command = "resource.list"
	CommandResourceRelease Command = "resource.release"

	CommandSessionList             Command = "session.list"
	CommandSessionGet              Command = "session.get"
	CommandSessionParse            Command = "session.parse"
	CommandSessionEndpointForProject Command = "session.endpoint_for_project"

	CommandAttentionStatus Command = "attention.status"

	CommandModuleList    Command = "module.list"
	CommandModuleEnable  Command = "module.enable"
	CommandModuleDisable Command = "module.disable"

	CommandDaemonHealth Command = "daemon.health"

	CommandEventsStreamFrom Command = "events.stream_from"
)

// TransitionAction names the actor-initiated contract transitions
// reachable through CommandContractTransition.
type TransitionAction string

const (
	ActionClaim    TransitionAction = "claim"
	ActionUnclaim  TransitionAction = "unclaim"
	ActionStart    TransitionAction = "start"
	ActionVerify   TransitionAction = "verify"
	ActionCancel   TransitionAction = "cancel"
	ActionRollback TransitionAction = "rollback"
)

// Request is the envelope every client interaction arrives as.
type Request struct {
	Version int             `json:"version"`
	Command Command         `json:"command"`
	Actor   string           `json:"actor,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the discriminated result: either Payload is populated and
// Error is nil, or vice versa.
type Response struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload is the wire shape of a typed daemon error: a stable code a
// client can switch on, plus a human message and optional structured
// fields (e.g. {from, to} for invalid_transition).
type ErrorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func ok(payload any) Response {
	if payload == nil {
		return Response{OK: true}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errResponse(ErrorPayload{Code: "storage_error", Message: err.Error()})
	}
	return Response{OK: true, Payload: raw}
}

func errResponse(e ErrorPayload) Response {
	return Response{OK: false, Error: &e}
}
