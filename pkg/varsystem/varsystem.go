//nolint:revive // exported
package varsystem

import (
	"errors"
	"fmt"
	"strings"

	"github.com/apiweave/apiweave/pkg/model/mworkflow"
)

// Placeholders use the <<key>> form. Credentials from an integration named
// "stripe" are addressable both as <<apiKey>> (when unambiguous) and as
// <<stripe_apiKey>>.

const (
	prefix = "<<"
	suffix = ">>"
)

var ErrKeyNotFound = errors.New("variable key not found")

type VarMap map[string]string

func NewVarMap(vars map[string]string) VarMap {
	vm := make(VarMap, len(vars))
	for k, v := range vars {
		vm[k] = v
	}
	return vm
}

// NewVarMapFromCredentials flattens per-integration credentials into a VarMap.
// The bare credential name is kept only while it stays unambiguous.
func NewVarMapFromCredentials(creds map[string]map[string]string) VarMap {
	vm := make(VarMap)
	ambiguous := make(map[string]bool)
	for integrationID, kv := range creds {
		for k, v := range kv {
			vm[integrationID+"_"+k] = v
			if _, exists := vm[k]; exists {
				ambiguous[k] = true
			} else {
				vm[k] = v
			}
		}
	}
	for k := range ambiguous {
		delete(vm, k)
	}
	return vm
}

func MergeVars(a, b VarMap) VarMap {
	out := make(VarMap, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func IsVar(raw string) bool {
	return strings.HasPrefix(raw, prefix) && strings.HasSuffix(raw, suffix)
}

func GetVarKeyFromRaw(raw string) string {
	if !IsVar(raw) {
		return raw
	}
	return strings.TrimSpace(raw[len(prefix) : len(raw)-len(suffix)])
}

// ReplaceVars substitutes every <<key>> occurrence in s. Unknown keys fail;
// a half-open placeholder is left as-is.
func (vm VarMap) ReplaceVars(s string) (string, error) {
	if !strings.Contains(s, prefix) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		start := strings.Index(s, prefix)
		if start < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end := strings.Index(s[start:], suffix)
		if end < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end += start
		b.WriteString(s[:start])
		key := strings.TrimSpace(s[start+len(prefix) : end])
		v, ok := vm[key]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		b.WriteString(v)
		s = s[end+len(suffix):]
	}
}

// ResolveConfig returns a copy of cfg with all placeholders substituted.
// The original is never mutated; resolved credentials must not leak back
// into the editable definition.
func (vm VarMap) ResolveConfig(cfg mworkflow.ApiConfig) (mworkflow.ApiConfig, error) {
	out := cfg
	var err error
	if out.URLHost, err = vm.ReplaceVars(cfg.URLHost); err != nil {
		return cfg, err
	}
	if out.URLPath, err = vm.ReplaceVars(cfg.URLPath); err != nil {
		return cfg, err
	}
	if out.Body, err = vm.ReplaceVars(cfg.Body); err != nil {
		return cfg, err
	}
	if cfg.Headers != nil {
		out.Headers = make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			rv, rerr := vm.ReplaceVars(v)
			if rerr != nil {
				return cfg, rerr
			}
			out.Headers[k] = rv
		}
	}
	if cfg.QueryParams != nil {
		out.QueryParams = make(map[string]string, len(cfg.QueryParams))
		for k, v := range cfg.QueryParams {
			rv, rerr := vm.ReplaceVars(v)
			if rerr != nil {
				return cfg, rerr
			}
			out.QueryParams[k] = rv
		}
	}
	return out, nil
}
