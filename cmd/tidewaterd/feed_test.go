package main

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedReaderParsesCheckpoints(t *testing.T) {
	feed := strings.NewReader(`
{"checkpoint":0,"epoch":1,"txHi":10,"timestampMs":1000,"rows":[{"id":"a","payload":"aGVsbG8="}]}

{"checkpoint":1,"epoch":1,"txHi":20,"timestampMs":2000,"rows":[]}
`)
	r := newFeedReader(feed, 0)

	batches, err := r.Next()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Values, 1)
	assert.Equal(t, "a", batches[0].Values[0].ID)
	assert.Equal(t, []byte("hello"), batches[0].Values[0].Payload)
	require.Len(t, batches[0].Watermark, 1)
	assert.Equal(t, uint64(0), batches[0].Watermark[0].Checkpoint())
	assert.True(t, batches[0].Watermark[0].Complete())

	// An empty checkpoint still produces one batch so the watermark
	// advances past it.
	batches, err = r.Next()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 0, batches[0].Len())
	require.Len(t, batches[0].Watermark, 1)
	assert.Equal(t, uint64(0), batches[0].Watermark[0].TotalRows)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFeedReaderSplitsLargeCheckpoints(t *testing.T) {
	feed := strings.NewReader(
		`{"checkpoint":3,"epoch":1,"txHi":5,"timestampMs":1000,"rows":[{"id":"a"},{"id":"b"},{"id":"c"},{"id":"d"},{"id":"e"}]}` + "\n")
	r := newFeedReader(feed, 2)

	batches, err := r.Next()
	require.NoError(t, err)
	require.Len(t, batches, 3)

	var covered uint64
	for _, b := range batches {
		require.Len(t, b.Watermark, 1)
		part := b.Watermark[0]
		assert.Equal(t, uint64(3), part.Checkpoint())
		assert.Equal(t, uint64(5), part.TotalRows)
		assert.Equal(t, uint64(b.Len()), part.BatchRows)
		covered += part.BatchRows
	}
	assert.Equal(t, uint64(5), covered)
}

func TestFeedReaderRejectsMalformedLines(t *testing.T) {
	r := newFeedReader(strings.NewReader("not json\n"), 0)
	_, err := r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}
