package rpc

import "sort"

const (
	rpcAPIVersion         = 1
	rpcAPIOldestSupported = 1
	rpcStreamVersion      = 1
)

type rpcMethodPolicy struct {
	since    int  // api_version that introduced the method
	mutating bool // changes watch or store state; only these are replayed by idempotency key
}

var rpcMethods = map[string]rpcMethodPolicy{
	"health_check":      {since: 1},
	"watch.start":       {since: 1, mutating: true},
	"watch.await":       {since: 1},
	"watch.stop":        {since: 1, mutating: true},
	"watch.status":      {since: 1},
	"store.put":         {since: 1, mutating: true},
	"store.update_type": {since: 1, mutating: true},
	"store.latest":      {since: 1},
}

// validateRPCAPIVersion checks an explicit api_version against the daemon and
// the method. Unknown methods are left for dispatch to reject.
func validateRPCAPIVersion(v *int, method string) *rpcError {
	if v == nil {
		return nil
	}
	switch {
	case *v < rpcAPIOldestSupported:
		return &rpcError{Code: codeAPIVersionRetired, Message: "api_version is older than this daemon supports"}
	case *v > rpcAPIVersion:
		return &rpcError{Code: codeAPIVersionTooNew, Message: "api_version is newer than this daemon"}
	}
	if p, ok := rpcMethods[method]; ok && p.since > *v {
		return &rpcError{Code: codeMethodNotInVersion, Message: method + " is not available in the requested api_version"}
	}
	return nil
}

func isMutatingMethod(method string) bool {
	return rpcMethods[method].mutating
}

func metricMethodLabel(method string) string {
	if _, ok := rpcMethods[method]; ok {
		return method
	}
	return "unknown"
}

func rpcVersionInfo() map[string]any {
	methods := make([]string, 0, len(rpcMethods))
	for name := range rpcMethods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return map[string]any{
		"api_version":        rpcAPIVersion,
		"oldest_api_version": rpcAPIOldestSupported,
		"stream_version":     rpcStreamVersion,
		"methods":            methods,
	}
}
