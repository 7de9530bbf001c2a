package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/xendarboh/strand/metrics"
	"github.com/xendarboh/strand/scrypto"
	"github.com/xendarboh/strand/transport"
)

type stubEndpoint struct{}

func (stubEndpoint) Send([]byte, string) error { return nil }

func TestCollectorReportsIdleTransport(t *testing.T) {
	keys, err := scrypto.GenerateKeyPair()
	require.NoError(t, err)
	tr, err := transport.New("peer:1", stubEndpoint{}, keys, nil, nil)
	require.NoError(t, err)
	tr.Start()
	t.Cleanup(tr.Shutdown)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(metrics.NewCollector(tr)))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 4, count)
}

func TestRegistryRegisterUnregister(t *testing.T) {
	keys, err := scrypto.GenerateKeyPair()
	require.NoError(t, err)
	tr, err := transport.New("peer:2", stubEndpoint{}, keys, nil, nil)
	require.NoError(t, err)
	tr.Start()
	t.Cleanup(tr.Shutdown)

	r := metrics.NewRegistry()
	require.NoError(t, r.Register(tr))
	count, err := testutil.GatherAndCount(r.Gatherer())
	require.NoError(t, err)
	require.Equal(t, 4, count)

	r.Unregister(tr)
	count, err = testutil.GatherAndCount(r.Gatherer())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
