package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return New(zerolog.Nop())
}

func TestRegisterAndDispatchOrder(t *testing.T) {
	b := newTestBus()
	var order []string

	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := b.Register("on_device_seen", name, func(ctx context.Context, args map[string]any) (any, error) {
			order = append(order, name)
			return name, nil
		})
		require.NoError(t, err)
	}

	results := b.Dispatch(context.Background(), "on_device_seen", nil, nil)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, "second", results[1].Value)
}

func TestDispatchIsolatesFailures(t *testing.T) {
	b := newTestBus()
	var ran []int

	mk := func(n int, fail bool, panics bool) Callback {
		return func(ctx context.Context, args map[string]any) (any, error) {
			ran = append(ran, n)
			if panics {
				panic("callback exploded")
			}
			if fail {
				return nil, errors.New("callback failed")
			}
			return n, nil
		}
	}

	_, err := b.Register("scan_done", "p1", mk(1, false, false))
	require.NoError(t, err)
	_, err = b.Register("scan_done", "p2", mk(2, true, false))
	require.NoError(t, err)
	_, err = b.Register("scan_done", "p3", mk(3, false, true))
	require.NoError(t, err)
	_, err = b.Register("scan_done", "p4", mk(4, false, false))
	require.NoError(t, err)

	results := b.Dispatch(context.Background(), "scan_done", nil, nil)

	// All four ran despite the failure and the panic in the middle.
	assert.Equal(t, []int{1, 2, 3, 4}, ran)
	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Error(t, results[2].Err)
	assert.Contains(t, results[2].Err.Error(), "panic")
	assert.NoError(t, results[3].Err)
	assert.Equal(t, 4, results[3].Value)
}

func TestDispatchEligibility(t *testing.T) {
	b := newTestBus()
	var ran []string

	for _, name := range []string{"active", "disabled"} {
		name := name
		_, err := b.Register("tick", name, func(ctx context.Context, args map[string]any) (any, error) {
			ran = append(ran, name)
			return nil, nil
		})
		require.NoError(t, err)
	}

	results := b.Dispatch(context.Background(), "tick", nil, func(pluginID string) bool {
		return pluginID == "active"
	})

	assert.Equal(t, []string{"active"}, ran)
	require.Len(t, results, 1)
	assert.Equal(t, "active", results[0].Plugin)
}

func TestEmitSkipsSource(t *testing.T) {
	b := newTestBus()
	var ran []string

	for _, name := range []string{"emitter", "listener"} {
		name := name
		_, err := b.Register("device_down", name, func(ctx context.Context, args map[string]any) (any, error) {
			ran = append(ran, name)
			return nil, nil
		})
		require.NoError(t, err)
	}

	b.Emit(context.Background(), "device_down", map[string]any{"host": "sw-1"}, "emitter", nil)
	assert.Equal(t, []string{"listener"}, ran)
}

func TestUnregister(t *testing.T) {
	b := newTestBus()

	id, err := b.Register("tick", "p1", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Count("tick"))

	b.Unregister(id)
	assert.Equal(t, 0, b.Count("tick"))
	assert.Empty(t, b.Dispatch(context.Background(), "tick", nil, nil))
}

func TestRemovePlugin(t *testing.T) {
	b := newTestBus()

	cb := func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }
	_, _ = b.Register("a", "doomed", cb)
	_, _ = b.Register("b", "doomed", cb)
	_, _ = b.Register("a", "survivor", cb)

	b.RemovePlugin("doomed")
	assert.Equal(t, 1, b.Count("a"))
	assert.Equal(t, 0, b.Count("b"))
}

func TestRegisterValidation(t *testing.T) {
	b := newTestBus()

	_, err := b.Register("", "p1", func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	require.Error(t, err)

	_, err = b.Register("tick", "p1", nil)
	require.Error(t, err)
}

func TestDispatchUnknownHook(t *testing.T) {
	b := newTestBus()
	assert.Empty(t, b.Dispatch(context.Background(), "nothing_here", nil, nil))
}
