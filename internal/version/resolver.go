package version

import "github.com/famguard/chatsync/internal/remote"

// MapMerge returns the standard resolver: last-writer-wins per field, except
// the named additive fields, which are unioned with the winning document
// instead of overwritten. readBy is the canonical additive field — two
// readers racing must end with both ids in the set.
func MapMerge(additive ...string) Resolver {
	additiveSet := make(map[string]bool, len(additive))
	for _, f := range additive {
		additiveSet[f] = true
	}

	return func(local map[string]any, remoteDoc map[string]any) map[string]any {
		merged := make(map[string]any, len(local))
		for k, v := range local {
			if !additiveSet[k] {
				merged[k] = v
				continue
			}
			merged[k] = unionField(v, remoteDoc[k])
		}
		return merged
	}
}

// unionField combines a local additive value with the remote one. An
// ArrayUnion transform already unions at write time, so it passes through;
// plain slices are unioned here.
func unionField(local, remoteVal any) any {
	if u, ok := local.(remote.ArrayUnionValue); ok {
		return u
	}
	seen := make(map[string]bool)
	var out []string
	add := func(vals []string) {
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	add(toStrings(remoteVal))
	add(toStrings(local))
	if out == nil {
		return local
	}
	return out
}

func toStrings(v any) []string {
	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		out := make([]string, 0, len(arr))
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
