package adapters_test

import (
	"testing"

	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/razorpay"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolvesAndMemoizes(t *testing.T) {
	registry := adapters.NewRegistry(razorpay.NewFactory(), nil)
	cfg := paymentdomain.AdapterConfig{Provider: "razorpay", Config: map[string]any{"webhook_secret": "whsec"}}

	assert.True(t, registry.Has(" RazorPay "))
	assert.False(t, registry.Has("paypal"))

	first, err := registry.Adapter("razorpay", cfg)
	require.NoError(t, err)
	second, err := registry.Adapter("RAZORPAY", cfg)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = registry.Adapter("paypal", cfg)
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestRegistryDoesNotCacheConfigErrors(t *testing.T) {
	registry := adapters.NewRegistry(razorpay.NewFactory())

	_, err := registry.Adapter("razorpay", paymentdomain.AdapterConfig{Config: map[string]any{}})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)

	adapter, err := registry.Adapter("razorpay", paymentdomain.AdapterConfig{Config: map[string]any{"webhook_secret": "whsec"}})
	require.NoError(t, err)
	assert.NotNil(t, adapter)
}

func TestNilRegistry(t *testing.T) {
	var registry *adapters.Registry
	assert.False(t, registry.Has("razorpay"))
	_, err := registry.Adapter("razorpay", paymentdomain.AdapterConfig{})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}
