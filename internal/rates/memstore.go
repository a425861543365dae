package rates

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]Record
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]Record)}
}

// FindRates implements Store.
func (m *MemoryStore) FindRates(_ context.Context, l Lookup) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, 1)
	for _, rec := range m.records {
		if Matches(rec, l) {
			out = append(out, cloneRecord(rec))
		}
	}
	sortBySpecificity(out)
	return out, nil
}

// InsertRate implements Store.
func (m *MemoryStore) InsertRate(_ context.Context, rec Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.LookupKey != "" {
		for id, existing := range m.records {
			if existing.LookupKey == rec.LookupKey {
				existing.Rate = rec.Rate
				existing.Shipping = rec.Shipping
				m.records[id] = existing
				return id, nil
			}
		}
	}
	m.nextID++
	rec.ID = m.nextID
	rec.Postcodes = CleanPatterns(rec.Postcodes)
	rec.Cities = CleanPatterns(rec.Cities)
	m.records[rec.ID] = cloneRecord(rec)
	return rec.ID, nil
}

// UpdateRate implements Store. Location patterns and the lookup key are
// left untouched.
func (m *MemoryStore) UpdateRate(_ context.Context, id int64, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	existing.Country = rec.Country
	existing.State = rec.State
	existing.Name = rec.Name
	existing.Priority = rec.Priority
	existing.Compound = rec.Compound
	existing.Shipping = rec.Shipping
	existing.Rate = rec.Rate
	existing.TaxClass = rec.TaxClass
	m.records[id] = existing
	return nil
}

// SetRatePostcodes implements Store.
func (m *MemoryStore) SetRatePostcodes(_ context.Context, id int64, postcodes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	existing.Postcodes = CleanPatterns(postcodes)
	m.records[id] = existing
	return nil
}

// SetRateCities implements Store.
func (m *MemoryStore) SetRateCities(_ context.Context, id int64, cities []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	existing.Cities = CleanPatterns(cities)
	m.records[id] = existing
	return nil
}

// GetRate implements Store.
func (m *MemoryStore) GetRate(_ context.Context, id int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func cloneRecord(rec Record) Record {
	rec.Postcodes = append([]string(nil), rec.Postcodes...)
	rec.Cities = append([]string(nil), rec.Cities...)
	return rec
}

func sortBySpecificity(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		si, sj := Specificity(records[i]), Specificity(records[j])
		if si != sj {
			return si > sj
		}
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].ID < records[j].ID
	})
}
