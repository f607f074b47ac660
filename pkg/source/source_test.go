package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmcheck/ecmcheck/internal/model"
	"github.com/ecmcheck/ecmcheck/pkg/errors"
)

const input = `{"kind":"run","run":7,"detector":"ILD_l5_v02"}

{"kind":"event","run":7,"event":1,"collections":{"MCParticle":[{"pdg":5,"p":[1,2,3],"e":4},{"pdg":-5,"p":[-1,-2,-3],"e":4,"daughters":[0]}]}}
{"run":7,"event":2,"collections":{}}
`

func drain(t *testing.T, s Source) []Item {
	t.Helper()
	var items []Item
	for {
		it, err := s.Next(context.Background())
		if err == io.EOF {
			return items
		}
		require.NoError(t, err)
		items = append(items, it)
	}
}

func TestJSONLYieldsItemsInOrder(t *testing.T) {
	items := drain(t, NewJSONL(strings.NewReader(input)))
	require.Len(t, items, 3)

	require.NotNil(t, items[0].Run)
	assert.Equal(t, int32(7), items[0].Run.Number)
	assert.Equal(t, "ILD_l5_v02", items[0].Run.Detector)

	ev := items[1].Event
	require.NotNil(t, ev)
	assert.Equal(t, int32(1), ev.Number)
	ps, ok := ev.Collection("MCParticle")
	require.True(t, ok)
	require.Len(t, ps, 2)
	assert.Equal(t, int32(5), ps[0].PDG)
	assert.Equal(t, [3]float64{1, 2, 3}, ps[0].Momentum)
	assert.Equal(t, []int{0}, ps[1].Daughters)

	// Kind defaults to event.
	require.NotNil(t, items[2].Event)
	_, ok = items[2].Event.Collection("MCParticle")
	assert.False(t, ok)
}

func TestJSONLMalformedLine(t *testing.T) {
	s := NewJSONL(strings.NewReader("{\"kind\":\"run\",\"run\":1}\n{not json\n"))

	_, err := s.Next(context.Background())
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeInvalidFormat))
	assert.Contains(t, err.Error(), "line=2")
}

func TestJSONLUnknownKind(t *testing.T) {
	_, err := NewJSONL(strings.NewReader(`{"kind":"lumi"}`)).Next(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeInvalidFormat))
}

func TestOpenJSONLGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl.gz")
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(input))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	s, err := OpenJSONL(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Len(t, drain(t, s), 3)
}

func TestOpenJSONLMissing(t *testing.T) {
	_, err := OpenJSONL(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.True(t, errors.IsCode(err, errors.CodeFileNotFound))
}

func TestEncoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	ev := &model.Event{Run: 1, Number: 3, Collections: map[string][]model.Particle{
		"MCParticle": {{PDG: 25, Energy: 125}},
	}}
	require.NoError(t, enc.Encode(RunItem(1)))
	require.NoError(t, enc.Encode(EventItem(ev)))
	assert.Error(t, enc.Encode(Item{}))

	items := drain(t, NewJSONL(&buf))
	require.Len(t, items, 2)
	assert.Equal(t, ev, items[1].Event)
}

func TestMemorySourceHonoursContext(t *testing.T) {
	m := NewMemory(RunItem(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Next(ctx)
	assert.True(t, errors.IsCode(err, errors.CodeContextCanceled))
	assert.ErrorIs(t, err, context.Canceled)
}
