package panicerr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall(t *testing.T) {
	v, err := Call(func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Call(func() (int, error) { return 0, errors.New("plain") })
	assert.EqualError(t, err, "plain")

	v, err = Call(func() (int, error) { panic("runner exploded") })
	require.Error(t, err)
	assert.Zero(t, v)
	assert.Contains(t, err.Error(), "runner exploded")
}

func TestSafeContext(t *testing.T) {
	fn := SafeContext(func(ctx context.Context) error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	assert.Error(t, fn(context.Background()))
}
