package model

// Resource is a protected asset in the catalog. The catalog itself is managed elsewhere;
// the paywall only reads it.
type Resource struct {
	ID         string `json:"id"`
	StorageKey string `json:"storage_key"`
	Class      string `json:"class"`
	Price      int64  `json:"price"` // minor units; 0 means free
	Currency   string `json:"currency"`
	Active     bool   `json:"active"`
}

func (r *Resource) Free() bool { return r.Price == 0 }
