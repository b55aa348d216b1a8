package controller

import (
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ErrSlotsFull is returned by Allocate when every slot is occupied.
var ErrSlotsFull = fmt.Errorf("controller: all slots occupied")

// slotAllocator maintains the two mutually-inverse mappings described
// in §4.1: client_id -> env_id and env_id -> client_id. The zero value
// is not usable; construct with newSlotAllocator.
type slotAllocator struct {
	mu sync.Mutex

	numSlots int
	clientToEnv map[uint32]uint32
	envToClient map[uint32]uint32

	lastClientID uint32
}

func newSlotAllocator(numSlots int) *slotAllocator {
	return &slotAllocator{
		numSlots:    numSlots,
		clientToEnv: make(map[uint32]uint32),
		envToClient: make(map[uint32]uint32),
	}
}

// NextClientID mints a new client_id on INITIALIZE (§4.3). No slot is
// reserved by this call.
func (s *slotAllocator) NextClientID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastClientID++
	return s.lastClientID
}

// Allocate maps client_id to the lowest free env_id and returns it.
// Returns ErrSlotsFull if every slot is occupied.
func (s *slotAllocator) Allocate(clientID uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, already := s.clientToEnv[clientID]; already {
		return 0, fmt.Errorf("controller: client %d already holds a slot", clientID)
	}
	if len(s.envToClient) >= s.numSlots {
		return 0, ErrSlotsFull
	}
	envID := s.lowestFreeEnvLocked()
	s.clientToEnv[clientID] = envID
	s.envToClient[envID] = clientID
	return envID, nil
}

// lowestFreeEnvLocked finds the smallest env_id in [0, numSlots) not
// present in envToClient. Deterministic so that recoveries from
// timeout-driven unregistration are reproducible (§4.1).
func (s *slotAllocator) lowestFreeEnvLocked() uint32 {
	for env := uint32(0); env < uint32(s.numSlots); env++ {
		if _, occupied := s.envToClient[env]; !occupied {
			return env
		}
	}
	// Allocate is only called after the full-check above; reaching
	// here means the two maps drifted out of sync, which is a
	// contract violation per §4.1.
	panic("controller: slot allocator invariant violated: no free slot found but not reported full")
}

// Unregister removes both sides of the mapping for env_id, if present.
// Used on step-timeout recovery (§4.4) and reset-compensation (§4.3).
func (s *slotAllocator) Unregister(envID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clientID, ok := s.envToClient[envID]
	if !ok {
		return
	}
	delete(s.envToClient, envID)
	delete(s.clientToEnv, clientID)
}

// UnregisterClient removes both sides of the mapping for the slot held
// by clientID, if any, and reports whether it held one.
func (s *slotAllocator) UnregisterClient(clientID uint32) (envID uint32, held bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envID, held = s.clientToEnv[clientID]
	if !held {
		return 0, false
	}
	delete(s.clientToEnv, clientID)
	delete(s.envToClient, envID)
	return envID, true
}

// EnvOf returns the env_id bound to clientID, if any.
func (s *slotAllocator) EnvOf(clientID uint32) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envID, ok := s.clientToEnv[clientID]
	return envID, ok
}

// ClientOf returns the client_id occupying envID, if any.
func (s *slotAllocator) ClientOf(envID uint32) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clientID, ok := s.envToClient[envID]
	return clientID, ok
}

// OccupiedEnvs returns the currently-occupied env_ids in ascending
// order, used when the step coordinator needs to walk every live slot.
func (s *slotAllocator) OccupiedEnvs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	envs := maps.Keys(s.envToClient)
	slices.Sort(envs)
	return envs
}

// Full reports whether every slot is currently occupied.
func (s *slotAllocator) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envToClient) >= s.numSlots
}

// checkInvariant verifies the two maps are mutual inverses; used by
// tests exercising spec.md §8's "mutual inverses" property.
func (s *slotAllocator) checkInvariant() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clientToEnv) != len(s.envToClient) {
		return fmt.Errorf("controller: slot maps disagree on size: %d client->env, %d env->client",
			len(s.clientToEnv), len(s.envToClient))
	}
	for client, env := range s.clientToEnv {
		if back, ok := s.envToClient[env]; !ok || back != client {
			return fmt.Errorf("controller: slot maps not mutually inverse at client %d / env %d", client, env)
		}
	}
	return nil
}
