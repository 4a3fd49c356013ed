package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a pilot or challenge id does not exist.
var ErrNotFound = errors.New("not found")

// MemoryDirectory is an in-memory Directory used by tests and the demo
// configuration. Safe for concurrent use.
type MemoryDirectory struct {
	mu         sync.RWMutex
	pilots     map[string]*Pilot
	challenges map[string]*Challenge
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		pilots:     make(map[string]*Pilot),
		challenges: make(map[string]*Challenge),
	}
}

// Seed loads fixture data so the demo has something to talk about.
func (d *MemoryDirectory) Seed() {
	d.mu.Lock()
	defer d.mu.Unlock()

	challenges := []*Challenge{
		{ID: "ch-001", Title: "Reduce downtown traffic congestion", Status: "open"},
		{ID: "ch-002", Title: "Smart waste collection routing", Status: "open"},
		{ID: "ch-003", Title: "Flood early-warning sensors", Status: "in_review"},
	}
	for _, c := range challenges {
		d.challenges[c.ID] = c
	}

	pilots := []*Pilot{
		{ID: "pl-001", Title: "Adaptive traffic signals on Main St", Municipality: "Riverton", ChallengeID: "ch-001", Status: "active", CreatedAt: time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)},
		{ID: "pl-002", Title: "Sensor-equipped waste bins", Municipality: "Lakewood", ChallengeID: "ch-002", Status: "proposed", CreatedAt: time.Date(2026, 5, 2, 14, 30, 0, 0, time.UTC)},
		{ID: "pl-003", Title: "River level monitoring network", Municipality: "Riverton", ChallengeID: "ch-003", Status: "completed", CreatedAt: time.Date(2025, 11, 20, 8, 15, 0, 0, time.UTC)},
	}
	for _, p := range pilots {
		d.pilots[p.ID] = p
	}
}

func (d *MemoryDirectory) SearchPilots(ctx context.Context, query, status string) ([]*Pilot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	var out []*Pilot
	for _, p := range d.pilots {
		if status != "" && p.Status != status {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(p.Title), query) &&
			!strings.Contains(strings.ToLower(p.Municipality), query) {
			continue
		}
		clone := *p
		out = append(out, &clone)
	}
	sortPilots(out)
	return out, nil
}

func (d *MemoryDirectory) GetPilot(ctx context.Context, id string) (*Pilot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.pilots[id]
	if !ok {
		return nil, fmt.Errorf("pilot %s: %w", id, ErrNotFound)
	}
	clone := *p
	return &clone, nil
}

func (d *MemoryDirectory) CreatePilot(ctx context.Context, in NewPilot) (*Pilot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if in.ChallengeID != "" {
		if _, ok := d.challenges[in.ChallengeID]; !ok {
			return nil, fmt.Errorf("challenge %s: %w", in.ChallengeID, ErrNotFound)
		}
	}
	p := &Pilot{
		ID:           "pl-" + uuid.NewString()[:8],
		Title:        in.Title,
		Municipality: in.Municipality,
		ChallengeID:  in.ChallengeID,
		Status:       "proposed",
		CreatedAt:    time.Now().UTC(),
	}
	d.pilots[p.ID] = p
	clone := *p
	return &clone, nil
}

func (d *MemoryDirectory) UpdateChallengeStatus(ctx context.Context, challengeID, status string) (*Challenge, error) {
	if !validChallengeStatus(status) {
		return nil, fmt.Errorf("invalid challenge status %q", status)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.challenges[challengeID]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", challengeID, ErrNotFound)
	}
	c.Status = status
	clone := *c
	return &clone, nil
}

func (d *MemoryDirectory) DeletePilot(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pilots[id]; !ok {
		return fmt.Errorf("pilot %s: %w", id, ErrNotFound)
	}
	delete(d.pilots, id)
	return nil
}

func validChallengeStatus(status string) bool {
	for _, s := range ChallengeStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func sortPilots(pilots []*Pilot) {
	sort.Slice(pilots, func(i, j int) bool { return pilots[i].ID < pilots[j].ID })
}
