package daemon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeckObservatory/mktl-go/pkg/config"
	"github.com/KeckObservatory/mktl-go/pkg/configcache"
	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/session"
	"github.com/KeckObservatory/mktl-go/pkg/transport"
)

func testRuntime(t *testing.T) config.RuntimeConfig {
	rt := config.DefaultRuntimeConfig()
	rt.Home = t.TempDir()
	rt.PortRangeLow = 23100
	rt.PortRangeHigh = 23300
	rt.PersistenceFlushInterval = time.Hour // tests flush explicitly via Stop
	return rt
}

func dialDaemon(t *testing.T, d *Daemon) *session.RequestSession {
	conn, err := transport.Dial(fmt.Sprintf("127.0.0.1:%d", d.RepPort()))
	require.NoError(t, err)
	return session.NewRequestSession(conn, "test-client", 200*time.Millisecond, 2*time.Second)
}

func TestDaemonAssemblesAndServesDefaultItems(t *testing.T) {
	rt := testRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := Start(ctx, Config{
		Store:         "dcs",
		Host:          "127.0.0.1",
		DiscoveryPort: 0,
		Runtime:       rt,
		Items: map[string]configcache.ItemConfig{
			"ra": {"key": "ra"},
		},
	})
	require.NoError(t, err)
	defer d.Stop()

	assert.Contains(t, d.Store().Keys(), "ra")

	go d.Serve(ctx)
	sess := dialDaemon(t, d)
	defer sess.Close()

	req, err := message.NewRequest(message.TypeGet, "test-client", "ra", nil)
	require.NoError(t, err)
	payload, err := sess.Send(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestDaemonSetPersistsAndReplaysOnRestart(t *testing.T) {
	rt := testRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := Start(ctx, Config{
		Store:         "dcs",
		Host:          "127.0.0.1",
		DiscoveryPort: 0,
		Runtime:       rt,
		Items: map[string]configcache.ItemConfig{
			"ra": {"key": "ra"},
		},
	})
	require.NoError(t, err)
	go d.Serve(ctx)

	sess := dialDaemon(t, d)
	req, err := message.NewRequest(message.TypeSet, "test-client", "ra", &message.Payload{Value: 42.0})
	require.NoError(t, err)
	_, err = sess.Send(ctx, req)
	require.NoError(t, err)
	sess.Close()

	firstRepPort := d.RepPort()
	d.Stop() // flushes pending persistence writes

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	d2, err := Start(ctx2, Config{
		Store:         "dcs",
		Host:          "127.0.0.1",
		DiscoveryPort: 0,
		Runtime:       rt,
		Items: map[string]configcache.ItemConfig{
			"ra": {"key": "ra"},
		},
	})
	require.NoError(t, err)
	defer d2.Stop()

	assert.Equal(t, firstRepPort, d2.RepPort(), "rebinding should reclaim the persisted port")

	it, err := d2.Store().Item("ra")
	require.NoError(t, err)
	value, _ := it.Value()
	assert.Equal(t, 42.0, value)
}

func TestDaemonSetupHookClaimsAuthoritativeItem(t *testing.T) {
	rt := testRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	claimed := false
	d, err := Start(ctx, Config{
		Store:         "dcs",
		Host:          "127.0.0.1",
		DiscoveryPort: 0,
		Runtime:       rt,
		Items: map[string]configcache.ItemConfig{
			"ra": {"key": "ra"},
		},
		Setup: func(d *Daemon) error {
			claimed = true
			return nil
		},
	})
	require.NoError(t, err)
	defer d.Stop()
	assert.True(t, claimed)
}

func TestDaemonRejectsDuplicateAuthoritativeClaim(t *testing.T) {
	rt := testRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := Start(ctx, Config{
		Store:         "dcs",
		Host:          "127.0.0.1",
		DiscoveryPort: 0,
		Runtime:       rt,
		Items: map[string]configcache.ItemConfig{
			"ra": {"key": "ra"},
		},
		Setup: func(d *Daemon) error {
			if err := d.AddItem("ra", nil); err != nil {
				return err
			}
			return d.AddItem("ra", nil)
		},
	})
	require.Error(t, err)
	assert.Nil(t, d)
}
