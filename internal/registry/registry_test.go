package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/buildd/internal/domain"
)

func TestRecordHeartbeatInsertAndUpdate(t *testing.T) {
	r := New()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	a := domain.WorkerIdentifier{Hostname: "alpha", Arch: "amd64", PID: 1}
	b := domain.WorkerIdentifier{Hostname: "beta", Arch: "arm64", PID: 2}

	r.RecordHeartbeat(a)
	clock = clock.Add(time.Minute)
	r.RecordHeartbeat(b)
	clock = clock.Add(time.Minute)
	r.RecordHeartbeat(a)

	entries := r.Snapshot()
	require.Len(t, entries, 2)

	assert.Equal(t, a, entries[0].Identifier)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 2, 0, 0, time.UTC), entries[0].Status.LastHeartbeat)
	assert.Equal(t, b, entries[1].Identifier)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC), entries[1].Status.LastHeartbeat)
}

func TestSnapshotOrderedByIdentifier(t *testing.T) {
	r := New()

	ids := []domain.WorkerIdentifier{
		{Hostname: "zulu", Arch: "amd64", PID: 1},
		{Hostname: "alpha", Arch: "riscv64", PID: 9},
		{Hostname: "alpha", Arch: "amd64", PID: 2},
		{Hostname: "alpha", Arch: "amd64", PID: 1},
	}
	for _, id := range ids {
		r.RecordHeartbeat(id)
	}

	entries := r.Snapshot()
	require.Len(t, entries, 4)
	for i := 1; i < len(entries); i++ {
		assert.Negative(t, entries[i-1].Identifier.Compare(entries[i].Identifier))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New()
	r.RecordHeartbeat(domain.WorkerIdentifier{Hostname: "alpha", Arch: "amd64", PID: 1})

	entries := r.Snapshot()
	entries[0].Status.LastHeartbeat = time.Time{}

	fresh := r.Snapshot()
	assert.False(t, fresh[0].Status.LastHeartbeat.IsZero())
}

func TestConcurrentHeartbeats(t *testing.T) {
	r := New()
	id := domain.WorkerIdentifier{Hostname: "alpha", Arch: "amd64", PID: 1}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.RecordHeartbeat(id)
		}()
		go func() {
			defer wg.Done()
			r.Snapshot()
		}()
	}
	wg.Wait()

	require.Len(t, r.Snapshot(), 1)
}
