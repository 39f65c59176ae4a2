package bloom

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_AddTestClear(t *testing.T) {
	f := NewFactory().New(32, 0.05)

	key := []byte("example.com")
	assert.False(t, f.MightContain(key), "unexpected positive before add")

	f.Add(key)
	assert.True(t, f.MightContain(key))

	f.Clear()
	assert.False(t, f.MightContain(key), "expected negative after clear")
}

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := NewFactory().New(1000, 0.01)
	keys := []string{"google.com", "moc.elgoog", "wikipedia.org", "127.0.0.1", "localhost"}
	for _, k := range keys {
		f.Add([]byte(k))
	}
	for _, k := range keys {
		assert.True(t, f.MightContain([]byte(k)), k)
	}
}

func TestFilter_ConcurrentReadsDuringWrites(t *testing.T) {
	f := NewFactory().New(256, 0.01)

	var wg sync.WaitGroup
	done := make(chan struct{})
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10_000; i++ {
			f.Add(keys[i%3])
		}
		close(done)
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_ = f.MightContain([]byte("probe"))
				}
			}
		}()
	}
	wg.Wait()

	for _, k := range keys {
		assert.True(t, f.MightContain(k))
	}
}
