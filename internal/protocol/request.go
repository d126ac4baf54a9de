package protocol

import (
	"encoding/json"
	"fmt"
)

// Well-known service modules. Most devices expose "system"; the rest
// depend on hardware features.
const (
	ModuleSystem    = "system"
	ModuleNetif     = "netif"
	ModuleEmeter    = "emeter"
	ModuleCloud     = "cnCloud"
	ModuleCountdown = "count_down"
	ModuleSchedule  = "schedule"
	ModuleTime      = "time"
	// Bulbs nest their light service under a longer module name
	ModuleLightingService = "smartlife.iot.smartbulb.lightingservice"
	ModuleBulbEmeter      = "smartlife.iot.common.emeter"
	ModuleBulbCloud       = "smartlife.iot.common.cloud"
)

// Request is one protocol command: a service module name mapping to a
// member (request) name mapping to its parameters. Marshals to e.g.
//
//	{"system":{"set_relay_state":{"state":1}}}
type Request struct {
	Module string
	Member string
	Params any

	// ChildIDs scopes the command to specific outlets of a power strip.
	// When set, the wire object gains a sibling "context" module:
	//
	//	{"context":{"child_ids":[...]},"system":{...}}
	ChildIDs []string
}

// NewRequest builds a request for module.member with the given params.
// A nil params marshals to {} as the devices expect.
func NewRequest(module, member string, params any) Request {
	return Request{Module: module, Member: member, Params: params}
}

// SysInfoRequest returns the universal status query, also used as the
// discovery probe.
func SysInfoRequest() Request {
	return NewRequest(ModuleSystem, "get_sysinfo", nil)
}

// ForChildren returns a copy of the request scoped to the given strip
// outlets
func (r Request) ForChildren(ids ...string) Request {
	r.ChildIDs = ids
	return r
}

// MarshalJSON implements json.Marshaler
func (r Request) MarshalJSON() ([]byte, error) {
	params := r.Params
	if params == nil {
		params = struct{}{}
	}
	obj := map[string]map[string]any{
		r.Module: {r.Member: params},
	}
	if len(r.ChildIDs) > 0 {
		obj["context"] = map[string]any{"child_ids": r.ChildIDs}
	}
	return json.Marshal(obj)
}

// Encode marshals the request to its wire JSON (before obfuscation).
func (r Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request %s.%s: %w", r.Module, r.Member, err)
	}
	return data, nil
}

// respEnvelope is the common trailer every device member response carries.
type respEnvelope struct {
	ErrCode int    `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// ParseResponse extracts the member object for the request that
// produced raw, checks its err_code, and returns the member JSON. The
// raw bytes must already be decrypted. Responses that are not valid
// JSON, or that lack the requested module/member, yield a DecodeError;
// a non-zero err_code yields a device error.
func ParseResponse(req Request, raw []byte) (json.RawMessage, error) {
	var outer map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, NewDecodeError("response is not valid JSON", err)
	}
	mod, ok := outer[req.Module]
	if !ok {
		return nil, NewDecodeError(fmt.Sprintf("response missing module %q", req.Module), nil)
	}
	member, ok := mod[req.Member]
	if !ok {
		return nil, NewDecodeError(fmt.Sprintf("response missing member %q", req.Member), nil)
	}

	var env respEnvelope
	if err := json.Unmarshal(member, &env); err != nil {
		return nil, NewDecodeError("response member is not an object", err)
	}
	if env.ErrCode != 0 {
		return nil, NewProtocolError(env.ErrCode, env.ErrMsg)
	}
	return member, nil
}
