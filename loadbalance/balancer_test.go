package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"yar-rpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	seen := map[string]bool{}
	first := ""
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = inst.Addr
		}
		seen[inst.Addr] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expect 3 distinct instances, got %v", seen)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick("", testInstances)
	if inst.Addr != first {
		t.Fatalf("expect wrap around to %s, got %s", first, inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		_, err := b.Pick("k", []registry.ServiceInstance{})
		if !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	insts := []registry.ServiceInstance{{Addr: "a"}, {Addr: "b"}}
	for i := 0; i < 100; i++ {
		if _, err := b.Pick("", insts); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same instance
	inst1, _ := b.Pick("user-123", testInstances)
	inst2, _ := b.Pick("user-123", testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), testInstances)
		seen[inst.Addr] = true
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	if _, err := b.Pick("k", testInstances); err != nil {
		t.Fatal(err)
	}

	only := []registry.ServiceInstance{{Addr: ":9000"}}
	inst, err := b.Pick("k", only)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Addr != ":9000" {
		t.Fatalf("expect ring rebuilt with :9000, got %s", inst.Addr)
	}
}

func TestConsistentHashAdd(t *testing.T) {
	b := NewConsistentHashBalancer()
	b.Add(registry.ServiceInstance{Addr: ":7000"})

	// nil instances keeps the ring built with Add
	inst, err := b.Pick("anything", nil)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Addr != ":7000" {
		t.Fatalf("expect :7000, got %s", inst.Addr)
	}
}

func TestNew(t *testing.T) {
	cases := map[string]string{
		"":                "RoundRobin",
		"round_robin":     "RoundRobin",
		"weighted_random": "WeightedRandom",
		"consistent_hash": "ConsistentHash",
	}
	for in, want := range cases {
		if got := New(in).Name(); got != want {
			t.Fatalf("New(%q) = %s, want %s", in, got, want)
		}
	}
}
