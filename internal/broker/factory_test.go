package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantcore/tradingcore/pkg/security"
)

func TestFactoryBuildUnknownBrokerErrors(t *testing.T) {
	f := NewFactory(nil)
	_, err := f.Build("unknown-venue", "paper")
	assert.Error(t, err)
}

func TestFactoryBuildCryptoUsesResolvedCredentials(t *testing.T) {
	dir := t.TempDir()
	fallback, err := security.NewFileSecretStore(dir+"/secrets.json", "pw")
	require.NoError(t, err)
	require.NoError(t, fallback.StoreBrokerCredentials("crypto", "paper", &security.BrokerCredentials{APIKey: "k", APISecret: "s"}))

	f := NewFactory(security.NewResolver(nil, fallback))
	b, err := f.Build("crypto", "paper")
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestFactoryBuildAlpacaWithoutResolverErrors(t *testing.T) {
	f := NewFactory(nil)
	_, err := f.Build("alpaca", "paper")
	assert.Error(t, err)
}

func TestFactoryBuildIBKRNeedsNoCredentials(t *testing.T) {
	f := NewFactory(nil)
	b, err := f.Build("ibkr", "paper")
	require.NoError(t, err)
	assert.NotNil(t, b)
}
