package calib

import (
	"fmt"
	"sort"
)

// Cache is the in-memory level of the calibration store: master key to
// product tag to artifact. It is owned by whoever constructs the Manager
// and may outlive any number of Configure cycles, which is what makes
// cross-frame reuse work.
//
// Values may be nil: a nil artifact under a present tag records "this
// product was resolved and nothing came of it", which is distinct from the
// tag being absent. Exists answers presence, not usefulness.
//
// The cache does no locking; it inherits the Manager's sequential contract.
type Cache struct {
	entries map[string]map[Product]Artifact
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]map[Product]Artifact)}
}

// Entry pairs a product tag with its payload for Put.
type Entry struct {
	Product  Product
	Artifact Artifact
}

// Exists reports whether an artifact slot is populated for (key, product).
// Lookup is preparatory, not pure: an unknown key is registered with empty
// storage before "absent" is returned, so a following Put lands in
// initialized structure.
func (c *Cache) Exists(key string, p Product) bool {
	byProduct, ok := c.entries[key]
	if !ok {
		c.entries[key] = make(map[Product]Artifact)
		return false
	}
	_, ok = byProduct[p]
	return ok
}

// Get returns the cached artifact for (key, product). The second result is
// false when the slot was never populated. A populated slot may still hold
// a nil artifact.
func (c *Cache) Get(key string, p Product) (Artifact, bool) {
	byProduct, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	a, ok := byProduct[p]
	return a, ok
}

// Put stores one or more entries under key atomically: entries are
// validated first, and either all land or none do.
func (c *Cache) Put(key string, entries ...Entry) error {
	if key == "" {
		return fmt.Errorf("cache put: empty master key")
	}
	if len(entries) == 0 {
		return fmt.Errorf("cache put: no entries for %s", key)
	}
	for _, e := range entries {
		if !e.Product.Valid() {
			return fmt.Errorf("cache put: unknown product %q for %s", e.Product, key)
		}
		if !payloadOK(e.Product, e.Artifact) {
			return fmt.Errorf("cache put: %T is not a valid %s payload", e.Artifact, e.Product)
		}
	}
	byProduct, ok := c.entries[key]
	if !ok {
		byProduct = make(map[Product]Artifact)
		c.entries[key] = byProduct
	}
	for _, e := range entries {
		byProduct[e.Product] = e.Artifact
	}
	return nil
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries = make(map[string]map[Product]Artifact)
}

// Keys returns every master key the cache has seen, sorted. Keys touched
// only by Exists lookups are included; that is the pre-insertion contract.
func (c *Cache) Keys() []string {
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Products returns the populated product tags under key, sorted.
func (c *Cache) Products(key string) []Product {
	byProduct, ok := c.entries[key]
	if !ok {
		return nil
	}
	out := make([]Product, 0, len(byProduct))
	for p := range byProduct {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// payloadOK is the closed (product, payload type) mapping. A nil artifact
// is acceptable anywhere; it is the absent-value placeholder.
func payloadOK(p Product, a Artifact) bool {
	if a == nil {
		return true
	}
	switch p {
	case ProductBias, ProductBPM, ProductArc, ProductTiltImage,
		ProductWaveImage, ProductTraceImage:
		_, ok := a.(*Image)
		return ok
	case ProductSlits:
		_, ok := a.(*SlitSet)
		return ok
	case ProductWaveCalib:
		_, ok := a.(*WaveCalib)
		return ok
	case ProductWaveMask, ProductTiltMask:
		_, ok := a.(MaskVec)
		return ok
	case ProductTilts:
		_, ok := a.(*TiltModel)
		return ok
	case ProductFlats:
		_, ok := a.(*FlatPair)
		return ok
	case ProductEdges:
		return false
	}
	return false
}
