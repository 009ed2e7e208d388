package domain

// Origin tells where the bytes of a ResourceResult came from.
type Origin string

const (
	OriginMemory      Origin = "memory"
	OriginDisk        Origin = "disk"
	OriginNetwork     Origin = "network"
	OriginNotModified Origin = "not_modified"
	OriginFallback    Origin = "fallback"
)

// FetchOptions controls how a fetched resource is stored in the content cache.
type FetchOptions struct {
	// ParentID groups entries for bulk eviction.
	ParentID string
	// Permanent entries are never removed by TTL pruning.
	Permanent bool
}

// ResourceResult is the outcome of a resource fetch.
// Data is nil only on the Fallback path, where the caller asked for absence instead of an error.
type ResourceResult struct {
	Data        []byte
	Origin      Origin
	ContentType string
}

// Found reports whether the result carries a value.
func (r ResourceResult) Found() bool {
	return r.Data != nil
}
