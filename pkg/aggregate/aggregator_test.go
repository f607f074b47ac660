package aggregate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmcheck/ecmcheck/pkg/classify"
)

type recordingSink struct {
	rows []classify.Derived
	fail error
}

func (s *recordingSink) WriteRow(d classify.Derived) error {
	if s.fail != nil {
		return s.fail
	}
	s.rows = append(s.rows, d)
	return nil
}

func TestRowsKeepCallOrder(t *testing.T) {
	a := New()
	for i := int32(0); i < 50; i++ {
		require.NoError(t, a.OnEvent(classify.Derived{Event: i}))
	}

	rows := a.Rows()
	require.Len(t, rows, 50)
	for i, r := range rows {
		assert.Equal(t, int32(i), r.Event)
	}
	assert.Equal(t, int64(50), a.Len())
}

func TestRunCounter(t *testing.T) {
	a := New()
	a.OnRunStart()
	a.OnRunStart()
	a.OnRunStart()

	assert.Equal(t, State{Runs: 3}, a.State())
}

func TestHeartbeat(t *testing.T) {
	var beats []int64
	a := New(WithHeartbeat(10, func(n int64) { beats = append(beats, n) }))

	for i := 0; i < 35; i++ {
		require.NoError(t, a.OnEvent(classify.Derived{}))
	}
	assert.Equal(t, []int64{10, 20, 30}, beats)
}

func TestHeartbeatDisabled(t *testing.T) {
	called := false
	a := New(WithHeartbeat(0, func(int64) { called = true }))
	for i := 0; i < 5; i++ {
		require.NoError(t, a.OnEvent(classify.Derived{}))
	}
	assert.False(t, called)
}

func TestSinkReceivesRows(t *testing.T) {
	sink := &recordingSink{}
	a := New(WithSink(sink), WithRetainRows(false))

	require.NoError(t, a.OnEvent(classify.Derived{Event: 1}))
	require.NoError(t, a.OnEvent(classify.Derived{Event: 2}))

	assert.Len(t, sink.rows, 2)
	assert.Empty(t, a.Rows())
	assert.Equal(t, int64(2), a.Len())
}

func TestSinkFailureRecordsNothing(t *testing.T) {
	sink := &recordingSink{}
	a := New(WithSink(sink))
	require.NoError(t, a.OnEvent(classify.Derived{Event: 1}))

	sink.fail = errors.New("disk full")
	assert.Error(t, a.OnEvent(classify.Derived{Event: 2}))

	assert.Equal(t, int64(1), a.Len())
	require.Len(t, a.Rows(), 1)
	assert.Equal(t, int32(1), a.Rows()[0].Event)
}

func TestSkip(t *testing.T) {
	a := New()
	a.Skip()
	require.NoError(t, a.OnEvent(classify.Derived{}))

	assert.Equal(t, State{Events: 1, Skipped: 1}, a.State())
}
