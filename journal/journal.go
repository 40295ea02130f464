// Package journal keeps a bounded in-memory record of what happened to each
// request at named points of an interceptor chain.
package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StageError and StageComplete close a request's record at one component.
// Every other stage is the name of the event observed.
const (
	StageError    = "error"
	StageComplete = "complete"
)

// Entry is one observation of a request
type Entry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	RequestID string        `json:"requestId"`
	Component string        `json:"component"`
	Method    string        `json:"method,omitempty"`
	URL       string        `json:"url,omitempty"`
	Stage     string        `json:"stage"`
	Status    int           `json:"status,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Stats summarizes the journal
type Stats struct {
	TotalEntries       int64            `json:"totalEntries"`
	EntriesByStage     map[string]int64 `json:"entriesByStage"`
	EntriesByComponent map[string]int64 `json:"entriesByComponent"`
	ErrorCount         int64            `json:"errorCount"`
	AverageDuration    time.Duration    `json:"averageDuration"`
	LastEntry          time.Time        `json:"lastEntry"`
}

// Journal is a bounded, indexed list of entries. When full, the oldest share
// of entries given by the rotate percentage is dropped.
type Journal struct {
	entries       []*Entry
	byRequest     map[string][]*Entry
	byComponent   map[string][]*Entry
	mu            sync.RWMutex
	maxEntries    int
	rotatePercent float64
}

// Option configures a Journal
type Option func(*Journal)

// WithMaxEntries sets the maximum number of entries
func WithMaxEntries(max int) Option {
	return func(j *Journal) {
		if max > 0 {
			j.maxEntries = max
		}
	}
}

// WithRotatePercent sets the share of entries removed when max is reached
func WithRotatePercent(percent float64) Option {
	return func(j *Journal) {
		if percent > 0 && percent <= 1 {
			j.rotatePercent = percent
		}
	}
}

// New creates a journal holding up to 10000 entries
func New(opts ...Option) *Journal {
	j := &Journal{
		byRequest:     make(map[string][]*Entry),
		byComponent:   make(map[string][]*Entry),
		maxEntries:    10000,
		rotatePercent: 0.2,
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Record stores entry, filling in ID and Timestamp when empty
func (j *Journal) Record(_ context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.entries) >= j.maxEntries {
		j.rotate()
	}

	j.entries = append(j.entries, entry)
	j.index(entry)

	return nil
}

// ByRequest returns copies of the entries recorded for a request, oldest first
func (j *Journal) ByRequest(requestID string) []*Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return copyEntries(j.byRequest[requestID])
}

// ByComponent returns copies of the most recent entries of a component. A
// limit of zero returns all of them.
func (j *Journal) ByComponent(component string, limit int) []*Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entries := j.byComponent[component]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return copyEntries(entries)
}

// ByTimeRange returns copies of the entries recorded strictly between start and end
func (j *Journal) ByTimeRange(start, end time.Time) []*Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*Entry
	for _, entry := range j.entries {
		if entry.Timestamp.After(start) && entry.Timestamp.Before(end) {
			e := *entry
			result = append(result, &e)
		}
	}
	return result
}

// Stats returns journal statistics
func (j *Journal) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := Stats{
		TotalEntries:       int64(len(j.entries)),
		EntriesByStage:     make(map[string]int64),
		EntriesByComponent: make(map[string]int64),
	}

	var total time.Duration
	for _, entry := range j.entries {
		stats.EntriesByStage[entry.Stage]++
		stats.EntriesByComponent[entry.Component]++
		if entry.Error != "" {
			stats.ErrorCount++
		}
		total += entry.Duration
		if entry.Timestamp.After(stats.LastEntry) {
			stats.LastEntry = entry.Timestamp
		}
	}

	if len(j.entries) > 0 {
		stats.AverageDuration = total / time.Duration(len(j.entries))
	}

	return stats
}

// Clear removes entries older than olderThan and returns how many were removed
func (j *Journal) Clear(olderThan time.Duration) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	kept := make([]*Entry, 0, len(j.entries))
	for _, entry := range j.entries {
		if entry.Timestamp.After(cutoff) {
			kept = append(kept, entry)
		}
	}

	removed := len(j.entries) - len(kept)
	j.entries = kept
	j.rebuildIndexes()

	return removed
}

// Len returns the number of entries held
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

func (j *Journal) rotate() {
	removeCount := int(float64(j.maxEntries) * j.rotatePercent)
	if removeCount < 1 {
		removeCount = 1
	}
	if removeCount > len(j.entries) {
		removeCount = len(j.entries)
	}

	j.entries = append([]*Entry(nil), j.entries[removeCount:]...)
	j.rebuildIndexes()
}

func (j *Journal) rebuildIndexes() {
	j.byRequest = make(map[string][]*Entry)
	j.byComponent = make(map[string][]*Entry)
	for _, entry := range j.entries {
		j.index(entry)
	}
}

func (j *Journal) index(entry *Entry) {
	if entry.RequestID != "" {
		j.byRequest[entry.RequestID] = append(j.byRequest[entry.RequestID], entry)
	}
	if entry.Component != "" {
		j.byComponent[entry.Component] = append(j.byComponent[entry.Component], entry)
	}
}

func copyEntries(entries []*Entry) []*Entry {
	result := make([]*Entry, len(entries))
	for i, entry := range entries {
		e := *entry
		result[i] = &e
	}
	return result
}
