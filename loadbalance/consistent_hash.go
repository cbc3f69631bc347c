package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"yar-rpc/registry"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance until the instance set changes.
//
// Each real instance is placed on the ring as many virtual nodes so a small
// cluster still spreads evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.Mutex
	epoch string // addresses the current ring was built from
	ring  []uint32
	nodes map[uint32]registry.ServiceInstance
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]registry.ServiceInstance),
	}
}

// Add places an instance onto the ring. Each virtual node is hashed from
// "{addr}#{i}".
func (b *ConsistentHashBalancer) Add(instance registry.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(instance)
	b.sortRing()
}

func (b *ConsistentHashBalancer) add(instance registry.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
}

func (b *ConsistentHashBalancer) sortRing() {
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick rebuilds the ring when instances differs from the last call, then
// returns the first node clockwise from hash(key).
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.ServiceInstance) (registry.ServiceInstance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if instances != nil {
		if epoch := addrs(instances); epoch != b.epoch {
			b.ring = b.ring[:0]
			b.nodes = make(map[uint32]registry.ServiceInstance)
			for _, inst := range instances {
				b.add(inst)
			}
			b.sortRing()
			b.epoch = epoch
		}
	}
	if len(b.ring) == 0 {
		return registry.ServiceInstance{}, ErrNoInstances
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	// wrap around
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

func addrs(instances []registry.ServiceInstance) string {
	list := make([]string, len(instances))
	for i, inst := range instances {
		list[i] = inst.Addr
	}
	sort.Strings(list)
	return strings.Join(list, ",")
}
