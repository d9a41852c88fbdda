package feedback

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Verdict is the kind of feedback a key sends.
type Verdict string

const (
	Approve    Verdict = "approve"
	Disapprove Verdict = "disapprove"
)

var ErrUnboundKey = errors.New("key is not bound")

// Target receives feedback for an agent. Sessions satisfy it.
type Target interface {
	Approve(agentID string) error
	Disapprove(agentID string) error
}

type Binding struct {
	AgentID string
	Verdict Verdict
}

// KeyMap binds single keys to per-agent feedback.
type KeyMap map[string]Binding

var defaultKeys = [][2]string{
	{"q", "a"},
	{"p", "l"},
}

// DefaultKeyMap binds q/a to the first agent and p/l to the second. Further
// agents get no keys.
func DefaultKeyMap(agentIDs []string) KeyMap {
	km := make(KeyMap)
	for i, id := range agentIDs {
		if i >= len(defaultKeys) {
			break
		}
		km[defaultKeys[i][0]] = Binding{AgentID: id, Verdict: Approve}
		km[defaultKeys[i][1]] = Binding{AgentID: id, Verdict: Disapprove}
	}
	return km
}

// ParseKeyMap reads "key=agent:verdict" pairs separated by commas, for
// example "q=player1:approve,a=player1:disapprove".
func ParseKeyMap(spec string) (KeyMap, error) {
	km := make(KeyMap)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, target, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid key binding %q", part)
		}
		agentID, verdict, ok := strings.Cut(target, ":")
		if !ok {
			return nil, fmt.Errorf("invalid key binding %q", part)
		}
		key = strings.TrimSpace(key)
		agentID = strings.TrimSpace(agentID)
		if key == "" || agentID == "" {
			return nil, fmt.Errorf("invalid key binding %q", part)
		}
		v := Verdict(strings.ToLower(strings.TrimSpace(verdict)))
		if v != Approve && v != Disapprove {
			return nil, fmt.Errorf("unsupported verdict %q", verdict)
		}
		if _, dup := km[key]; dup {
			return nil, fmt.Errorf("key %q bound twice", key)
		}
		km[key] = Binding{AgentID: agentID, Verdict: v}
	}
	if len(km) == 0 {
		return nil, errors.New("key map is empty")
	}
	return km, nil
}

// Validate reports bindings that name agents outside agentIDs.
func (km KeyMap) Validate(agentIDs []string) error {
	known := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		known[id] = struct{}{}
	}
	for _, key := range km.Keys() {
		if _, ok := known[km[key].AgentID]; !ok {
			return fmt.Errorf("key %q bound to unknown agent %s", key, km[key].AgentID)
		}
	}
	return nil
}

func (km KeyMap) Keys() []string {
	keys := make([]string, 0, len(km))
	for k := range km {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeysFor returns the approve and disapprove keys of agentID, empty when
// unbound.
func (km KeyMap) KeysFor(agentID string) (approve, disapprove string) {
	for _, key := range km.Keys() {
		b := km[key]
		if b.AgentID != agentID {
			continue
		}
		switch b.Verdict {
		case Approve:
			if approve == "" {
				approve = key
			}
		case Disapprove:
			if disapprove == "" {
				disapprove = key
			}
		}
	}
	return approve, disapprove
}

// Press sends the feedback bound to key.
func (km KeyMap) Press(target Target, key string) (Binding, error) {
	b, ok := km[key]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %q", ErrUnboundKey, key)
	}
	return b, Send(target, b)
}

func Send(target Target, b Binding) error {
	switch b.Verdict {
	case Approve:
		return target.Approve(b.AgentID)
	case Disapprove:
		return target.Disapprove(b.AgentID)
	default:
		return fmt.Errorf("unsupported verdict %q", b.Verdict)
	}
}
