package scene

// Metadata is an ordered set of named values. Insertion order is kept so
// that documents serialize deterministically.
type Metadata struct {
	entries []DictEntry
}

// Set stores v under key, replacing an existing entry in place.
func (m *Metadata) Set(key string, v Value) {
	for i := range m.entries {
		if m.entries[i].Key == key {
			m.entries[i].Value = v
			return
		}
	}
	m.entries = append(m.entries, DictEntry{Key: key, Value: v})
}

func (m *Metadata) Get(key string) (Value, bool) {
	for _, e := range m.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Delete removes key, reporting whether it was present.
func (m *Metadata) Delete(key string) bool {
	for i := range m.entries {
		if m.entries[i].Key == key {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Metadata) Len() int { return len(m.entries) }

// Entries returns the entries in insertion order. The slice must not be modified.
func (m *Metadata) Entries() []DictEntry { return m.entries }
