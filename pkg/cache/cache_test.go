package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore_SetGet(t *testing.T) {
	s := NewMemoryStore(&Config{})

	s.Set("credential:cred_1", "payload", time.Minute)
	assert.Equal(t, "payload", s.Get("credential:cred_1"))
	assert.Nil(t, s.Get("credential:missing"))
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(&Config{})

	s.Set("k", "v", 10*time.Millisecond)
	assert.Equal(t, "v", s.Get("k"))

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, s.Get("k"))
	assert.Equal(t, 0, s.Size())
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore(&Config{})

	s.Set("k", "v", time.Minute)
	s.Delete("k")
	assert.Nil(t, s.Get("k"))
}

func TestMemoryStore_MaxEntriesEvictsOldest(t *testing.T) {
	s := NewMemoryStore(&Config{MaxEntries: 2})

	s.Set("first", 1, time.Minute)
	time.Sleep(time.Millisecond)
	s.Set("second", 2, time.Minute)
	time.Sleep(time.Millisecond)
	s.Set("third", 3, time.Minute)

	assert.Nil(t, s.Get("first"))
	assert.Equal(t, 2, s.Get("second"))
	assert.Equal(t, 3, s.Get("third"))
}

func TestMemoryStore_Clear(t *testing.T) {
	s := NewMemoryStore(&Config{})

	s.Set("a", 1, time.Minute)
	s.Set("b", 2, time.Minute)
	s.Clear()
	assert.Equal(t, 0, s.Size())
}

func TestDefault_LazyAndReplaceable(t *testing.T) {
	orig := Default()
	t.Cleanup(func() { SetDefault(orig) })

	assert.NotNil(t, orig)
	assert.Same(t, orig, Default())

	replacement := NewMemoryStore(&Config{})
	SetDefault(replacement)
	assert.Same(t, replacement, Default())
}
