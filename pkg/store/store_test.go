package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeckObservatory/mktl-go/pkg/item"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
)

func TestItemLazilyConstructsOnce(t *testing.T) {
	calls := 0
	s := New("dcs", func(key string) (*item.Item, error) {
		calls++
		return item.NewDaemonItem("dcs", key, nil, &item.DaemonBinding{Hooks: item.NewDefaultHooks(nil)}, nil), nil
	})

	first, err := s.Item("ra")
	require.NoError(t, err)
	second, err := s.Item("ra")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	s := New("dcs", func(key string) (*item.Item, error) {
		return item.NewDaemonItem("dcs", key, nil, &item.DaemonBinding{Hooks: item.NewDefaultHooks(nil)}, nil), nil
	})

	it := item.NewDaemonItem("dcs", "ra", nil, &item.DaemonBinding{Hooks: item.NewDefaultHooks(nil)}, nil)
	require.NoError(t, s.Register("ra", it))

	err := s.Register("ra", it)
	var dup *mktlerr.DuplicateItemError
	require.ErrorAs(t, err, &dup)
}

func TestMutationMethodsAreUnsupported(t *testing.T) {
	s := New("dcs", func(key string) (*item.Item, error) { return nil, nil })

	var notSupported *mktlerr.NotSupportedError
	require.ErrorAs(t, s.SetItem("ra", nil), &notSupported)
	require.ErrorAs(t, s.DelItem("ra"), &notSupported)
	require.ErrorAs(t, s.Clear(), &notSupported)
	require.ErrorAs(t, s.Update(nil), &notSupported)
}

func TestKeys(t *testing.T) {
	s := New("dcs", func(key string) (*item.Item, error) {
		return item.NewDaemonItem("dcs", key, nil, &item.DaemonBinding{Hooks: item.NewDefaultHooks(nil)}, nil), nil
	})
	_, err := s.Item("ra")
	require.NoError(t, err)
	_, err = s.Item("dec")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ra", "dec"}, s.Keys())
}
