// Package differ computes the file-level changes needed to bring a remote
// corpus in line with a local working copy.
package differ

import "sort"

// Result lists the paths to upload and the paths to remove on the remote
type Result struct {
	Upsert []string
	Delete []string
}

// Empty reports whether the remote is already in sync
func (r Result) Empty() bool {
	return len(r.Upsert) == 0 && len(r.Delete) == 0
}

// DeletesAll reports whether applying r would remove every remote file.
// Callers must obtain explicit confirmation before applying such a result.
func (r Result) DeletesAll(remote map[string]string) bool {
	return len(remote) > 0 && len(r.Delete) == len(remote)
}

// Diff compares local and remote path->digest maps. Paths are compared as
// exact, case-sensitive strings. Both result lists are sorted.
func Diff(local, remote map[string]string) Result {
	var res Result
	if sameHashes(local, remote) {
		return res
	}

	for path, d := range local {
		if rd, ok := remote[path]; !ok || rd != d {
			res.Upsert = append(res.Upsert, path)
		}
	}
	for path := range remote {
		if _, ok := local[path]; !ok {
			res.Delete = append(res.Delete, path)
		}
	}

	sort.Strings(res.Upsert)
	sort.Strings(res.Delete)
	return res
}

func sameHashes(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
