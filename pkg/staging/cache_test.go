package staging

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/symsync/pkg/tabular"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	c, err := NewCache(log, &Config{TTL: time.Minute, SweepInterval: time.Minute})
	require.NoError(t, err)

	return c
}

func stagedEntry() *Entry {
	return &Entry{
		Dataset:  &tabular.Dataset{Columns: []string{"exchange", "symbol"}, Rows: [][]string{{"NSE", "SBIN-EQ"}}},
		FileName: "symbols.csv",
		Kind:     KindManual,
	}
}

func TestPutAssignsID(t *testing.T) {
	c := newTestCache(t)

	id := c.Put(stagedEntry())
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, c.Len())
}

func TestTakeConsumes(t *testing.T) {
	c := newTestCache(t)
	id := c.Put(stagedEntry())

	e, ok := c.Take(id)
	require.True(t, ok)
	assert.Equal(t, "symbols.csv", e.FileName)
	assert.Equal(t, 0, c.Len())

	_, ok = c.Take(id)
	assert.False(t, ok, "entry is deleted on first take")
}

func TestTakeUnknownID(t *testing.T) {
	c := newTestCache(t)

	_, ok := c.Take("no-such-preview")
	assert.False(t, ok)
}

func TestSweepExpiresOldEntries(t *testing.T) {
	c := newTestCache(t)

	fresh := c.Put(stagedEntry())
	stale := c.Put(stagedEntry())

	// Backdate the stale entry past the TTL
	c.mu.Lock()
	c.entries[stale].CreatedAt = time.Now().Add(-2 * time.Minute)
	c.mu.Unlock()

	c.sweep(time.Now())

	assert.Equal(t, 1, c.Len())
	_, ok := c.Take(fresh)
	assert.True(t, ok)
	_, ok = c.Take(stale)
	assert.False(t, ok)
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, (&Config{}).Validate(), ErrInvalidTTL)
	assert.ErrorIs(t, (&Config{TTL: time.Minute}).Validate(), ErrInvalidTTL)
	assert.NoError(t, (&Config{TTL: time.Minute, SweepInterval: time.Second}).Validate())
}
