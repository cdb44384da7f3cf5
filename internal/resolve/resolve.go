// Package resolve maps opaque instrument keys to human-readable names and
// exchanges from a static table. Resolution happens once at alert creation;
// later table changes never rewrite historical alerts.
package resolve

// Entry is one instrument in the lookup table.
type Entry struct {
	Name     string
	Exchange string
}

// Resolver answers name and exchange lookups for instrument keys.
type Resolver interface {
	Name(key string) string
	Exchange(name string) string
}

// Table is a Resolver backed by an in-memory map.
type Table struct {
	byKey      map[string]Entry
	byName     map[string]string
	defaultsTo string
}

// NewTable builds a resolver from the configured instrument table.
func NewTable(entries map[string]Entry) *Table {
	t := &Table{
		byKey:      make(map[string]Entry, len(entries)),
		byName:     make(map[string]string, len(entries)),
		defaultsTo: "UNKNOWN",
	}
	for key, e := range entries {
		t.byKey[key] = e
		if e.Name != "" {
			t.byName[e.Name] = e.Exchange
		}
	}
	return t
}

// Name returns the display name for a key, or the key itself when the table
// has no entry.
func (t *Table) Name(key string) string {
	if e, ok := t.byKey[key]; ok && e.Name != "" {
		return e.Name
	}
	return key
}

// Exchange returns the exchange label for a resolved name.
func (t *Table) Exchange(name string) string {
	if ex, ok := t.byName[name]; ok && ex != "" {
		return ex
	}
	return t.defaultsTo
}
