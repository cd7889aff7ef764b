// Package status is a key/value registry where stages publish their state
// for operators. Stages never read it back.
package status

import (
	"expvar"
	"sort"
	"strconv"
	"sync"
)

type (
	// Registry holds status values. Zero value is ready to use.
	Registry struct {
		m      sync.Mutex
		values map[string]string
	}

	// Buffer is the registry view available inside Update.
	Buffer struct {
		values map[string]string
	}
)

// Update executes fn with the registry locked. All puts done in fn are
// visible to readers at once.
func (r *Registry) Update(fn func(Buffer)) {
	if r == nil {
		return
	}
	r.m.Lock()
	defer r.m.Unlock()
	if r.values == nil {
		r.values = make(map[string]string)
	}
	fn(Buffer{values: r.values})
}

// PutString sets string value of the key.
func (b Buffer) PutString(key, value string) {
	b.values[key] = value
}

// PutInt sets integer value of the key.
func (b Buffer) PutInt(key string, value int64) {
	b.values[key] = strconv.FormatInt(value, 10)
}

// PutUint sets unsigned value of the key.
func (b Buffer) PutUint(key string, value uint64) {
	b.values[key] = strconv.FormatUint(value, 10)
}

// Get returns value of the key.
func (r *Registry) Get(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.m.Lock()
	defer r.m.Unlock()
	v, ok := r.values[key]
	return v, ok
}

// Snapshot returns copy of all values.
func (r *Registry) Snapshot() map[string]string {
	if r == nil {
		return map[string]string{}
	}
	r.m.Lock()
	defer r.m.Unlock()
	s := make(map[string]string, len(r.values))
	for k, v := range r.values {
		s[k] = v
	}
	return s
}

// Keys returns sorted keys of the registry.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	r.m.Lock()
	defer r.m.Unlock()
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Publish exposes the registry as expvar variable with provided name.
func (r *Registry) Publish(name string) {
	expvar.Publish(name, expvar.Func(func() interface{} {
		return r.Snapshot()
	}))
}
