package models

import (
	"errors"
	"sync/atomic"
)

// ErrNotFound is returned when an entity is not found in the data store.
var ErrNotFound = errors.New("entity not found")

// AdStore provides thread-safe access to the advertisement inventory without
// global variables. Reads come from an immutable snapshot so the serving path
// never takes a lock; writes swap the snapshot atomically.
type AdStore interface {
	// Read operations (hot path).
	GetAd(id string) *Advertisement
	GetByLocation(location string) []Advertisement
	GetAllAds() []Advertisement

	// Atomic bulk replace (reload path).
	ReloadAll(ads []Advertisement) error

	// CRUD operations for real-time admin updates.
	InsertAd(ad Advertisement) error
	UpdateAd(ad Advertisement) error
	DeleteAd(id string) error
}

// adSnapshot is an immutable snapshot of the ad inventory.
type adSnapshot struct {
	ads        []Advertisement
	index      map[string]*Advertisement
	byLocation map[string][]Advertisement
}

func buildSnapshot(ads []Advertisement) *adSnapshot {
	snap := &adSnapshot{
		ads:        ads,
		index:      make(map[string]*Advertisement, len(ads)),
		byLocation: make(map[string][]Advertisement),
	}
	for i := range ads {
		ad := &ads[i]
		snap.index[ad.ID] = ad
		for _, loc := range ad.DisplayLocations {
			snap.byLocation[loc] = append(snap.byLocation[loc], *ad)
		}
	}
	return snap
}

// InMemoryAdStore implements AdStore with atomic snapshot swaps.
type InMemoryAdStore struct {
	data atomic.Pointer[adSnapshot]
}

// NewInMemoryAdStore creates an empty AdStore.
func NewInMemoryAdStore() *InMemoryAdStore {
	s := &InMemoryAdStore{}
	s.data.Store(buildSnapshot(nil))
	return s
}

// GetAd retrieves an advertisement by ID, nil when absent.
func (s *InMemoryAdStore) GetAd(id string) *Advertisement {
	if ad, ok := s.data.Load().index[id]; ok {
		cp := *ad
		return &cp
	}
	return nil
}

// GetByLocation returns all ads whose DisplayLocations include location.
// The result is a copy the caller may reorder freely.
func (s *InMemoryAdStore) GetByLocation(location string) []Advertisement {
	ads := s.data.Load().byLocation[location]
	out := make([]Advertisement, len(ads))
	copy(out, ads)
	return out
}

// GetAllAds returns a copy of the full inventory.
func (s *InMemoryAdStore) GetAllAds() []Advertisement {
	ads := s.data.Load().ads
	out := make([]Advertisement, len(ads))
	copy(out, ads)
	return out
}

// ReloadAll replaces the entire inventory in one snapshot swap.
func (s *InMemoryAdStore) ReloadAll(ads []Advertisement) error {
	cp := make([]Advertisement, len(ads))
	copy(cp, ads)
	s.data.Store(buildSnapshot(cp))
	return nil
}

// InsertAd adds a new advertisement.
func (s *InMemoryAdStore) InsertAd(ad Advertisement) error {
	cur := s.data.Load()
	if _, exists := cur.index[ad.ID]; exists {
		return errors.New("advertisement already exists: " + ad.ID)
	}
	next := make([]Advertisement, 0, len(cur.ads)+1)
	next = append(next, cur.ads...)
	next = append(next, ad)
	s.data.Store(buildSnapshot(next))
	return nil
}

// UpdateAd replaces an existing advertisement.
func (s *InMemoryAdStore) UpdateAd(ad Advertisement) error {
	cur := s.data.Load()
	if _, exists := cur.index[ad.ID]; !exists {
		return ErrNotFound
	}
	next := make([]Advertisement, len(cur.ads))
	copy(next, cur.ads)
	for i := range next {
		if next[i].ID == ad.ID {
			next[i] = ad
			break
		}
	}
	s.data.Store(buildSnapshot(next))
	return nil
}

// DeleteAd removes an advertisement by ID.
func (s *InMemoryAdStore) DeleteAd(id string) error {
	cur := s.data.Load()
	if _, exists := cur.index[id]; !exists {
		return ErrNotFound
	}
	next := make([]Advertisement, 0, len(cur.ads)-1)
	for _, ad := range cur.ads {
		if ad.ID != id {
			next = append(next, ad)
		}
	}
	s.data.Store(buildSnapshot(next))
	return nil
}
