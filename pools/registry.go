package pools

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is safe for concurrent use. Lookups never take a lock, inserts come from
// the single discovery task.
type Registry struct {
	pools sync.Map // common.Address -> Pool
	size  atomic.Int64
}

func NewRegistry(pools ...Pool) *Registry {
	r := &Registry{}
	r.Add(pools...)
	return r
}

// Add inserts pools that are not known yet and returns how many were new.
func (r *Registry) Add(pools ...Pool) int {
	added := 0
	for _, p := range pools {
		if _, loaded := r.pools.LoadOrStore(p.Address, p); !loaded {
			added++
		}
	}
	r.size.Add(int64(added))
	return added
}

func (r *Registry) Get(address common.Address) (Pool, bool) {
	v, ok := r.pools.Load(address)
	if !ok {
		return Pool{}, false
	}
	return v.(Pool), true //nolint:forcetypeassert
}

func (r *Registry) Len() int {
	return int(r.size.Load())
}

// All returns a copy of every known pool in no particular order.
func (r *Registry) All() []Pool {
	out := make([]Pool, 0, r.Len())
	r.pools.Range(func(_, v any) bool {
		out = append(out, v.(Pool)) //nolint:forcetypeassert
		return true
	})
	return out
}
