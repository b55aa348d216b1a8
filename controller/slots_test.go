package controller

import "testing"

func TestSlotAllocatorLowestFreeWins(t *testing.T) {
	s := newSlotAllocator(3)
	env0, err := s.Allocate(10)
	if err != nil || env0 != 0 {
		t.Fatalf("first allocate: got (%d, %v), want (0, nil)", env0, err)
	}
	env1, err := s.Allocate(11)
	if err != nil || env1 != 1 {
		t.Fatalf("second allocate: got (%d, %v), want (1, nil)", env1, err)
	}
	s.Unregister(env0)
	env2, err := s.Allocate(12)
	if err != nil || env2 != 0 {
		t.Fatalf("third allocate after freeing env 0: got (%d, %v), want (0, nil)", env2, err)
	}
}

func TestSlotAllocatorFull(t *testing.T) {
	s := newSlotAllocator(1)
	if _, err := s.Allocate(1); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if _, err := s.Allocate(2); err != ErrSlotsFull {
		t.Fatalf("second allocate: got %v, want ErrSlotsFull", err)
	}
}

func TestSlotAllocatorMutualInverse(t *testing.T) {
	s := newSlotAllocator(4)
	for _, client := range []uint32{1, 2, 3} {
		if _, err := s.Allocate(client); err != nil {
			t.Fatalf("allocate %d: %v", client, err)
		}
	}
	s.Unregister(1)
	if _, err := s.Allocate(4); err != nil {
		t.Fatalf("allocate 4: %v", err)
	}
	if err := s.checkInvariant(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestSlotAllocatorUnregisterClient(t *testing.T) {
	s := newSlotAllocator(2)
	env, err := s.Allocate(7)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	gotEnv, held := s.UnregisterClient(7)
	if !held || gotEnv != env {
		t.Fatalf("UnregisterClient: got (%d, %v), want (%d, true)", gotEnv, held, env)
	}
	if _, held := s.UnregisterClient(7); held {
		t.Fatalf("second UnregisterClient should report held=false")
	}
	if err := s.checkInvariant(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestSlotAllocatorOccupiedEnvsSorted(t *testing.T) {
	s := newSlotAllocator(5)
	for _, client := range []uint32{9, 8, 7} {
		if _, err := s.Allocate(client); err != nil {
			t.Fatalf("allocate %d: %v", client, err)
		}
	}
	envs := s.OccupiedEnvs()
	for i := 1; i < len(envs); i++ {
		if envs[i] <= envs[i-1] {
			t.Fatalf("OccupiedEnvs not sorted: %v", envs)
		}
	}
}
