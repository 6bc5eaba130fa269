package websocket

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvasrelay/pkg/interfaces"
)

type fakeConn struct {
	id string
}

func (f *fakeConn) ID() string             { return f.id }
func (f *fakeConn) Send(data []byte) error { return nil }
func (f *fakeConn) Close() error           { return nil }

func TestRegistry_NewRegistryInitialization(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r)
	assert.Equal(t, 0, r.Size())
	assert.Empty(t, r.Snapshot())
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Register("a", nil), ErrNilConnection)
	assert.ErrorIs(t, r.Register("", &fakeConn{}), ErrEmptyConnectionID)
	assert.Equal(t, 0, r.Size())
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{id: "a"}

	require.NoError(t, r.Register("a", conn))
	assert.Equal(t, 1, r.Size())

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, conn, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_DuplicateIDKeepsOriginal(t *testing.T) {
	r := NewRegistry()
	first := &fakeConn{id: "a"}
	second := &fakeConn{id: "a"}

	require.NoError(t, r.Register("a", first))
	assert.ErrorIs(t, r.Register("a", second), ErrDuplicateConnectionID)

	got, _ := r.Get("a")
	assert.Same(t, first, got)
	assert.Equal(t, 1, r.Size())
}

func TestRegistry_DeregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", &fakeConn{id: "a"}))

	assert.True(t, r.Deregister("a"))
	assert.False(t, r.Deregister("a"))
	assert.False(t, r.Deregister("never"))
	assert.Equal(t, 0, r.Size())
}

func TestRegistry_ForEachExcept(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(id, &fakeConn{id: id}))
	}

	collect := func(exclude string) []string {
		var ids []string
		r.ForEachExcept(exclude, func(c interfaces.Connection) {
			ids = append(ids, c.ID())
		})
		sort.Strings(ids)
		return ids
	}

	assert.Equal(t, []string{"a", "c"}, collect("b"))
	assert.Equal(t, []string{"a", "b", "c"}, collect(""))
	assert.Equal(t, []string{"a", "b", "c"}, collect("unknown"))
}

func TestRegistry_ForEachExceptToleratesMutation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", &fakeConn{id: "a"}))
	require.NoError(t, r.Register("b", &fakeConn{id: "b"}))

	visited := 0
	r.ForEachExcept("", func(c interfaces.Connection) {
		visited++
		// Mutating the registry from inside the callback must not deadlock.
		r.Deregister(c.ID())
		_ = r.Register("late-"+c.ID(), &fakeConn{id: "late-" + c.ID()})
	})

	assert.Equal(t, 2, visited)
	assert.Equal(t, 2, r.Size())
}

func TestRegistry_ConcurrentRegistrationAndDeregistration(t *testing.T) {
	r := NewRegistry()

	const workers = 10
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				assert.NoError(t, r.Register(id, &fakeConn{id: id}))
				r.ForEachExcept(id, func(interfaces.Connection) {})
				if i%2 == 0 {
					assert.True(t, r.Deregister(id))
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker/2, r.Size())
}
