package schema

import (
	"sort"

	"github.com/benbjohnson/immutable"
)

// Databases maps database names to their state. The zero value is an empty
// map and is ready to use.
type Databases struct {
	m *immutable.Map
}

// NewDatabases builds a map holding the given states keyed by their names.
// A later state with the same name replaces an earlier one.
func NewDatabases(states ...DatabaseState) Databases {
	var dbs Databases
	for _, s := range states {
		dbs = dbs.Set(s)
	}
	return dbs
}

// Get returns the state stored under name.
func (d Databases) Get(name string) (DatabaseState, bool) {
	if d.m == nil {
		return DatabaseState{}, false
	}
	v, ok := d.m.Get(name)
	if !ok {
		return DatabaseState{}, false
	}
	return v.(DatabaseState), true
}

// Set returns a new map with state stored under state.Name.
func (d Databases) Set(state DatabaseState) Databases {
	m := d.m
	if m == nil {
		m = immutable.NewMap(&dbNameHasher{})
	}
	return Databases{m: m.Set(state.Name, state)}
}

// Delete returns a new map without name. The second result is false when
// name was not present, in which case the returned map is the receiver.
func (d Databases) Delete(name string) (Databases, bool) {
	if _, ok := d.Get(name); !ok {
		return d, false
	}
	return Databases{m: d.m.Delete(name)}, true
}

// Len returns the number of databases.
func (d Databases) Len() int {
	if d.m == nil {
		return 0
	}
	return d.m.Len()
}

// Names returns the database names in ascending order.
func (d Databases) Names() []string {
	names := make([]string, 0, d.Len())
	if d.m == nil {
		return names
	}
	itr := d.m.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		names = append(names, k.(string))
	}
	sort.Strings(names)
	return names
}

// Same reports whether d and other are the same map value, not merely equal
// in content. A sync uses it to detect that nothing was touched.
func (d Databases) Same(other Databases) bool {
	return d.m == other.m
}

// Equal reports whether both maps hold equal states under the same names.
func (d Databases) Equal(other Databases) bool {
	if d.Same(other) {
		return true
	}
	if d.Len() != other.Len() {
		return false
	}
	for _, name := range d.Names() {
		a, _ := d.Get(name)
		b, ok := other.Get(name)
		if !ok || !a.Equal(b) {
			return false
		}
	}
	return true
}
