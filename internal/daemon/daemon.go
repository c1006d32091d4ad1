package daemon

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/edhor1608/stead/internal/config"
	"github.com/edhor1608/stead/internal/contract"
	"github.com/edhor1608/stead/internal/logbook"
	"github.com/edhor1608/stead/internal/resource"
	"github.com/edhor1608/stead/internal/resource/endpoint"
	"github.com/edhor1608/stead/internal/session"
	"github.com/edhor1608/stead/internal/steaderr"
)

// ModuleStore is the persistence seam for module enable/disable overrides.
type ModuleStore interface {
	SetModuleEnabled(name string, enabled bool) error
	ModuleEnabled(name string) (enabled bool, overridden bool, err error)
}

// Daemon is the single process-wide owner of a workspace's contract
// engine, resource brokers, and session listing. Every external client
// interacts with it exclusively through Dispatch.
type Daemon struct {
	cfg       *config.Config
	contracts *contract.Engine
	endpoints *endpoint.Broker
	resources map[string]*resource.Broker
	modules   ModuleStore
	clock     func() time.Time
	writer    writer
	narration *logbook.Logbook

	sessionRoots map[session.Source]string
}

// New wires a Daemon over an already-constructed contract engine, endpoint
// broker, and set of generic resource brokers keyed by kind. narration may
// be nil, in which case escalations are simply not narrated anywhere
// outside the authoritative event log.
func New(cfg *config.Config, contracts *contract.Engine, endpoints *endpoint.Broker, resources map[string]*resource.Broker, modules ModuleStore, narration *logbook.Logbook) *Daemon {
	if resources == nil {
		resources = map[string]*resource.Broker{}
	}
	roots := map[session.Source]string{}
	if cfg != nil {
		for _, src := range session.Sources() {
			roots[src] = cfg.SessionsDirFor(string(src))
		}
	}
	return &Daemon{
		cfg:          cfg,
		contracts:    contracts,
		endpoints:    endpoints,
		resources:    resources,
		modules:      modules,
		clock:        time.Now,
		narration:    narration,
		sessionRoots: roots,
	}
}

// Dispatch routes a validated request to its handler. Mutating commands
// are funneled through the single logical writer; reads run directly.
func (d *Daemon) Dispatch(ctx context.Context, req Request) Response {
	if req.Version != ProtocolVersion {
		return errResponse(ErrorPayload{
			Code:    "invalid_payload",
			Message: fmt.Sprintf("unsupported envelope version %d", req.Version),
			Fields:  map[string]string{"field": "version"},
		})
	}

	switch req.Command {
	case CommandContractCreate:
		return d.mutate(func() (any, error) { return d.handleContractCreate(req.Payload) })
	case CommandContractGet:
		return d.read(func() (any, error) { return d.handleContractGet(req.Payload) })
	case CommandContractList:
		return d.read(func() (any, error) { return d.handleContractList(req.Payload) })
	case CommandContractTransition:
		return d.mutate(func() (any, error) { return d.handleContractTransition(ctx, req.Payload) })

	case CommandEndpointClaim:
		return d.mutate(func() (any, error) { return d.handleEndpointClaim(req.Payload) })
	case CommandEndpointList:
		return d.read(func() (any, error) { return d.endpoints.List() })
	case CommandEndpointRelease:
		return d.mutate(func() (any, error) { return nil, d.handleEndpointRelease(req.Payload) })

	case CommandResourceClaim:
		return d.mutate(func() (any, error) { return d.handleResourceClaim(req.Payload) })
	case CommandResourceList:
		return d.read(func() (any, error) { return d.handleResourceList(req.Payload) })
	case CommandResourceRelease:
		return d.mutate(func() (any, error) { return nil, d.handleResourceRelease(req.Payload) })

	case CommandSessionList:
		return d.read(func() (any, error) { return d.handleSessionList(req.Payload) })
	case CommandSessionGet:
		return d.read(func() (any, error) { return d.handleSessionGet(req.Payload) })
	case CommandSessionParse:
		return d.read(func() (any, error) { return d.handleSessionParse(req.Payload) })
	case CommandSessionEndpointForProject:
		return d.mutate(func() (any, error) { return d.handleSessionEndpointForProject(req.Payload) })

	case CommandAttentionStatus:
		return d.read(func() (any, error) { return d.handleAttentionStatus() })

	case CommandModuleList:
		return d.read(func() (any, error) { return d.handleModuleList() })
	case CommandModuleEnable:
		return d.mutate(func() (any, error) { return nil, d.handleModuleSet(req.Payload, true) })
	case CommandModuleDisable:
		return d.mutate(func() (any, error) { return nil, d.handleModuleSet(req.Payload, false) })

	case CommandDaemonHealth:
		return d.read(func() (any, error) { return d.handleHealth(), nil })

	case CommandEventsStreamFrom:
		return d.read(func() (any, error) {
			var p struct {
				Cursor uint64 `json:"cursor"`
			}
			if len(req.Payload) > 0 {
				if err := json.Unmarshal(req.Payload, &p); err != nil {
					return nil, steaderr.NewInvalidPayload("payload", err.Error())
				}
			}
			return d.StreamEventsFrom(p.Cursor)
		})

	default:
		return errResponse(ErrorPayload{
			Code:    "invalid_payload",
			Message: fmt.Sprintf("unknown command %q", req.Command),
			Fields:  map[string]string{"field": "command"},
		})
	}
}

func (d *Daemon) mutate(fn func() (any, error)) Response {
	result, err := d.writer.submit(fn)
	if err != nil {
		return d.errFromErr(err)
	}
	return ok(result)
}

func (d *Daemon) read(fn func() (any, error)) Response {
	result, err := fn()
	if err != nil {
		return d.errFromErr(err)
	}
	return ok(result)
}

// errFromErr maps a returned error onto its wire ErrorPayload, narrating
// escalation-class codes to the logbook alongside the authoritative event
// log: a client reading the response sees the stable code, an operator
// tailing the logbook sees why it happened.
func (d *Daemon) errFromErr(err error) Response {
	if se, isSteadErr := steaderr.As(err); isSteadErr {
		if se.Code == steaderr.EndpointRangeExhausted {
			d.narration.Warn("%s: %s", se.Code, se.Message)
		}
		return errResponse(ErrorPayload{Code: string(se.Code), Message: se.Message, Fields: se.Fields})
	}
	return errResponse(ErrorPayload{Code: "storage_error", Message: err.Error()})
}

// --- contract handlers ---

type createContractPayload struct {
	Task        string   `json:"task"`
	VerifyCmd   string   `json:"verify_cmd"`
	RollbackCmd string   `json:"rollback_cmd"`
	DependsOn   []string `json:"depends_on"`
}

func (d *Daemon) handleContractCreate(raw json.RawMessage) (any, error) {
	var p createContractPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, steaderr.NewInvalidPayload("payload", err.Error())
	}
	return d.contracts.Create(p.Task, p.VerifyCmd, p.RollbackCmd, p.DependsOn)
}

type idPayload struct {
	ID string `json:"id"`
}

func (d *Daemon) handleContractGet(raw json.RawMessage) (any, error) {
	var p idPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, steaderr.NewInvalidPayload("payload", err.Error())
	}
	return d.contracts.Get(p.ID)
}

type listContractsPayload struct {
	States []contract.State `json:"states"`
}

func (d *Daemon) handleContractList(raw json.RawMessage) (any, error) {
	var p listContractsPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, steaderr.NewInvalidPayload("payload", err.Error())
		}
	}
	return d.contracts.List(contract.ListFilter{States: p.States})
}

type transitionPayload struct {
	ID        string           `json:"id"`
	Action    TransitionAction `json:"action"`
	Actor     string           `json:"actor"`      // owner identity for owned transitions (claim/unclaim/start/verify/rollback)
	ActorKind contract.Actor   `json:"actor_kind"` // system | agent | human; if empty, human for cancel and agent otherwise
}

func (d *Daemon) handleContractTransition(ctx context.Context, raw json.RawMessage) (any, error) {
	var p transitionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, steaderr.NewInvalidPayload("payload", err.Error())
	}
	actor := p.ActorKind
	if actor == "" {
		actor = contract.ActorAgent
	}
	switch p.Action {
	case ActionClaim:
		return d.contracts.Claim(p.ID, p.Actor, actor)
	case ActionUnclaim:
		return d.contracts.Unclaim(p.ID, p.Actor)
	case ActionStart:
		return d.contracts.Start(p.ID, p.Actor)
	case ActionVerify:
		c, err := d.contracts.Verify(ctx, p.ID, p.Actor)
		if err == nil && c.State == contract.StateFailed {
			d.narration.Error("contract %s failed verification: %s", c.ID, c.FailureReason)
		}
		return c, err
	case ActionCancel:
		if p.ActorKind == "" {
			actor = contract.ActorHuman
		}
		return d.contracts.Cancel(p.ID, actor)
	case ActionRollback:
		return d.contracts.Rollback(ctx, p.ID, p.Actor, actor)
	default:
		return nil, steaderr.NewInvalidPayload("action", fmt.Sprintf("unknown action %q", p.Action))
	}
}

// --- endpoint handlers ---

type claimEndpointPayload struct {
	Name          string `json:"name"`
	RequestedPort int    `json:"requested_port"`
	Owner         string `json:"owner"`
}

func (d *Daemon) handleEndpointClaim(raw json.RawMessage) (any, error) {
	var p claimEndpointPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, steaderr.NewInvalidPayload("payload", err.Error())
	}
	return d.endpoints.Claim(p.Name, p.RequestedPort, p.Owner)
}

type releaseEndpointPayload struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

func (d *Daemon) handleEndpointRelease(raw json.RawMessage) error {
	var p releaseEndpointPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return steaderr.NewInvalidPayload("payload", err.Error())
	}
	return d.endpoints.Release(p.Name, p.Owner)
}

// --- generic resource handlers ---

type claimResourcePayload struct {
	Kind           string `json:"kind"`
	Name           string `json:"name"`
	RequestedValue int    `json:"requested_value"`
	Owner          string `json:"owner"`
}

func (d *Daemon) brokerFor(kind string) (*resource.Broker, error) {
	b, ok := d.resources[kind]
	if !ok {
		return nil, steaderr.NewInvalidPayload("kind", fmt.Sprintf("unknown resource kind %q", kind))
	}
	return b, nil
}

func (d *Daemon) handleResourceClaim(raw json.RawMessage) (any, error) {
	var p claimResourcePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, steaderr.NewInvalidPayload("payload", err.Error())
	}
	b, err := d.brokerFor(p.Kind)
	if err != nil {
		return nil, err
	}
	return b.Claim(p.Name, p.RequestedValue, p.Owner)
}

type listResourcePayload struct {
	Kind string `json:"kind"`
}

func (d *Daemon) handleResourceList(raw json.RawMessage) (any, error) {
	var p listResourcePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, steaderr.NewInvalidPayload("payload", err.Error())
	}
	b, err := d.brokerFor(p.Kind)
	if err != nil {
		return nil, err
	}
	return b.List()
}

type releaseResourcePayload struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

func (d *Daemon) handleResourceRelease(raw json.RawMessage) error {
	var p releaseResourcePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return steaderr.NewInvalidPayload("payload", err.Error())
	}
	b, err := d.brokerFor(p.Kind)
	if err != nil {
		return err
	}
	return b.Release(p.Name, p.Owner)
}

// --- session handlers ---

type listSessionsPayload struct {
	Sources              []session.Source `json:"sources"`
	ProjectPath          string           `json:"project_path"`
	ProjectPathSubstring string           `json:"project_path_substring"`
	Query                string           `json:"query"`
	Limit                int              `json:"limit"`
}

func (d *Daemon) handleSessionList(raw json.RawMessage) (any, error) {
	var p listSessionsPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, steaderr.NewInvalidPayload("payload", err.Error())
		}
	}
	return session.ListSessions(d.sessionRoots, session.Filter{
		Sources:              p.Sources,
		ProjectPath:          p.ProjectPath,
		ProjectPathSubstring: p.ProjectPathSubstring,
		Query:                p.Query,
		Limit:                p.Limit,
	}), nil
}

type getSessionPayload struct {
	ID string `json:"id"`
}

func (d *Daemon) handleSessionGet(raw json.RawMessage) (any, error) {
	var p getSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, steaderr.NewInvalidPayload("payload", err.Error())
	}
	result := session.ListSessions(d.sessionRoots, session.Filter{})
	for _, rec := range result.Records {
		if rec.ID == p.ID {
			return rec, nil
		}
	}
	return nil, steaderr.NewNotFound("session", p.ID)
}

type parseSessionPayload struct {
	Path   string          `json:"path"`
	Source session.Source `json:"source"`
}

func (d *Daemon) handleSessionParse(raw json.RawMessage) (any, error) {
	var p parseSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, steaderr.NewInvalidPayload("payload", err.Error())
	}
	adapter, ok := session.AdapterFor(p.Source)
	if !ok {
		return nil, steaderr.NewInvalidPayload("source", fmt.Sprintf("unknown source %q", p.Source))
	}
	return adapter.Parse(p.Path)
}

type endpointForProjectPayload struct {
	ProjectPath string `json:"project_path"`
	Owner       string `json:"owner"`
}

// handleSessionEndpointForProject derives a stable DNS-label name from the
// project path and claims (or re-claims) the corresponding endpoint, so
// repeated calls for the same project return the same URL. This is the
// session-proxy module's own operation, so it is gated on that module
// being enabled, unlike the generic endpoint.claim command.
func (d *Daemon) handleSessionEndpointForProject(raw json.RawMessage) (any, error) {
	if !d.moduleEnabled("session-proxy") {
		return nil, steaderr.NewModuleDisabled("session-proxy")
	}
	var p endpointForProjectPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, steaderr.NewInvalidPayload("payload", err.Error())
	}
	if p.ProjectPath == "" {
		return nil, steaderr.NewInvalidPayload("project_path", "must not be empty")
	}
	name := projectEndpointName(p.ProjectPath)
	return d.endpoints.Claim(name, 0, p.Owner)
}

// moduleEnabled layers the store's per-workspace override (if any) on top
// of the config's static default, per the workspace config's "config sets
// the default, runtime toggle overrides it" rule.
func (d *Daemon) moduleEnabled(name string) bool {
	cfg := d.cfg
	if cfg == nil {
		cfg = &config.Config{}
	}
	enabled := cfg.ModuleEnabled(name)
	if d.modules != nil {
		if override, isOverridden, err := d.modules.ModuleEnabled(name); err == nil && isOverridden {
			enabled = override
		}
	}
	return enabled
}

func projectEndpointName(projectPath string) string {
	sum := sha1.Sum([]byte(projectPath))
	return "proj-" + hex.EncodeToString(sum[:])[:12]
}

// --- attention ---

func (d *Daemon) handleAttentionStatus() (any, error) {
	all, err := d.contracts.List(contract.ListFilter{})
	if err != nil {
		return nil, err
	}
	entries, counts := AttentionStatus(all)
	return struct {
		Entries []AttentionEntry `json:"entries"`
		Counts  map[Tier]int     `json:"counts"`
	}{Entries: entries, Counts: counts}, nil
}

// --- modules ---

type moduleStatus struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (d *Daemon) handleModuleList() (any, error) {
	if d.cfg == nil {
		return []moduleStatus{}, nil
	}
	names := []string{"session-proxy", "context-generator"}
	var out []moduleStatus
	for _, name := range names {
		enabled := d.cfg.ModuleEnabled(name)
		if overridden, isOverridden, err := d.modules.ModuleEnabled(name); err == nil && isOverridden {
			enabled = overridden
		}
		out = append(out, moduleStatus{Name: name, Enabled: enabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type moduleNamePayload struct {
	Name string `json:"name"`
}

func (d *Daemon) handleModuleSet(raw json.RawMessage, enabled bool) error {
	var p moduleNamePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return steaderr.NewInvalidPayload("payload", err.Error())
	}
	if p.Name == "" {
		return steaderr.NewInvalidPayload("name", "must not be empty")
	}
	return d.modules.SetModuleEnabled(p.Name, enabled)
}

// --- health ---

type healthStatus struct {
	Status          string `json:"status"`
	ProtocolVersion int    `json:"protocol_version"`
}

func (d *Daemon) handleHealth() healthStatus {
	return healthStatus{Status: "ready", ProtocolVersion: ProtocolVersion}
}

// StreamEventsFrom exposes the contract engine's event store for the
// events.stream_from command and the HTTP /events replay alike.
func (d *Daemon) StreamEventsFrom(cursor uint64) ([]contract.Event, error) {
	return d.contracts.StreamEventsFrom(cursor)
}
