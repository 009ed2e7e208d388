package domain

// CacheInvalidated is broadcast after cache entries were removed.
// Exactly one of ParentID and Keys is set by the invalidation service; both nil means
// the whole scope was reset.
type CacheInvalidated struct {
	Scope    string   `json:"scope"`
	ParentID *string  `json:"parent_id"`
	Keys     []string `json:"keys"`
}

// Affects reports whether an entry with the given uri and parent is covered by the message.
func (m CacheInvalidated) Affects(uri, parentID string) bool {
	if m.ParentID == nil && m.Keys == nil {
		return true
	}
	if m.ParentID != nil {
		return parentID != "" && *m.ParentID == parentID
	}
	for _, k := range m.Keys {
		if k == uri {
			return true
		}
	}
	return false
}
