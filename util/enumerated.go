package util

import (
	"bytes"
	"encoding/gob"
	"sync"
)

// EnumSet is an append-only mapping of names to dense integer ids.
// Ids are allocated in insertion order and never reused or shifted,
// so an id handed out once stays valid for the lifetime of the set.
type EnumSet struct {
	mu     sync.RWMutex
	Enum   map[string]int
	Index  []string
	Frozen bool
}

func NewEnumSet(capacity int) *EnumSet {
	return &EnumSet{
		Enum:  make(map[string]int, capacity),
		Index: make([]string, 0, capacity),
	}
}

// Add returns the id for value, allocating a new one if the value is
// unseen. The second return value reports whether an id was allocated.
func (e *EnumSet) Add(value string) (int, bool) {
	if e.Frozen {
		panic("Cannot add value to frozen enum set")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	enum, exists := e.Enum[value]
	if exists {
		return enum, false
	}
	enum = len(e.Index)
	e.Enum[value] = enum
	e.Index = append(e.Index, value)
	return enum, true
}

func (e *EnumSet) IndexOf(value string) (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	enum, exists := e.Enum[value]
	return enum, exists
}

func (e *EnumSet) ValueOf(index int) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if index < 0 || index >= len(e.Index) {
		panic("Enum index out of range")
	}
	return e.Index[index]
}

func (e *EnumSet) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.Index)
}

func (e *EnumSet) Freeze() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Frozen = true
}

// GobEncode serializes only the index; the map is rebuilt on decode.
func (e *EnumSet) GobEncode() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e.Index); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *EnumSet) GobDecode(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e.Index); err != nil {
		return err
	}
	e.Enum = make(map[string]int, len(e.Index))
	for i, v := range e.Index {
		e.Enum[v] = i
	}
	return nil
}
