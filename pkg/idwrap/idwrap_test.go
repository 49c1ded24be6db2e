package idwrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextRoundTrip(t *testing.T) {
	id := NewNow()

	parsed, err := NewText(id.String())
	require.NoError(t, err)
	assert.Equal(t, 0, id.Compare(parsed))
	assert.Equal(t, id.Bytes(), parsed.Bytes())
}

func TestNewTextInvalid(t *testing.T) {
	_, err := NewText("not-a-ulid")
	assert.Error(t, err)

	assert.Panics(t, func() { NewTextMust("not-a-ulid") })
}

func TestTimeIsEmbedded(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewNow()
	after := time.Now().Add(time.Second)

	assert.True(t, id.Time().After(before))
	assert.True(t, id.Time().Before(after))
}

func TestMarshalText(t *testing.T) {
	id := NewNow()
	data, err := id.MarshalText()
	require.NoError(t, err)

	var decoded IDWrap
	require.NoError(t, decoded.UnmarshalText(data))
	assert.Equal(t, id.String(), decoded.String())
}

func TestCompareOrdersByTime(t *testing.T) {
	a := NewNow()
	time.Sleep(2 * time.Millisecond)
	b := NewNow()
	assert.Negative(t, a.Compare(b))
}
