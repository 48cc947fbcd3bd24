package engine

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqOrder(t *testing.T) {
	t.Parallel()
	trace := make([]string, 0, 4)
	step := func(name string) Doer {
		return Func0{Name: name, F: func() error {
			trace = append(trace, name)
			return nil
		}}
	}
	seq := NewSeq("test").Append(step("a")).Append(step("b")).Append(step("c"))
	require.NoError(t, seq.Validate())
	require.NoError(t, seq.Do(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, trace)
}

func TestSeqAbort(t *testing.T) {
	t.Parallel()
	called := 0
	efail := errors.Errorf("boom")
	seq := NewSeq("test").
		Append(Func0{Name: "ok", F: func() error { called++; return nil }}).
		Append(Fail{E: efail}).
		Append(Func0{Name: "unreached", F: func() error { called++; return nil }})
	err := seq.Do(context.Background())
	assert.Equal(t, efail, err)
	assert.Equal(t, 1, called)
}

func TestSeqValidateFolds(t *testing.T) {
	t.Parallel()
	seq := NewSeq("test").
		Append(Fail{E: errors.Errorf("first")}).
		Append(Nothing{Name: "fine"}).
		Append(Fail{E: errors.Errorf("second")})
	err := seq.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
}

func TestRepeatN(t *testing.T) {
	t.Parallel()
	called := uint(0)
	d := RepeatN{N: 3, D: Func{Name: "count", F: func(context.Context) error {
		called++
		return nil
	}}}
	require.NoError(t, d.Do(context.Background()))
	assert.Equal(t, uint(3), called)
}

func TestRepeatNStopsOnError(t *testing.T) {
	t.Parallel()
	called := uint(0)
	d := RepeatN{N: 5, D: Func{Name: "count", F: func(context.Context) error {
		called++
		if called == 2 {
			return errors.Errorf("stop")
		}
		return nil
	}}}
	require.Error(t, d.Do(context.Background()))
	assert.Equal(t, uint(2), called)
}
