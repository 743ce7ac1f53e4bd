package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisClientWithoutAddress(t *testing.T) {
	client := NewRedisClient("", "", 0)

	assert.False(t, client.IsEnabled())
	assert.Nil(t, client.GetClient())
	assert.Error(t, client.HealthCheck(context.Background()))
	assert.NoError(t, client.Close())

	stats := client.GetPoolStats()
	assert.False(t, stats["enabled"].(bool))
}

func TestNewRedisClientUnreachableAddressDegrades(t *testing.T) {
	client := NewRedisClient("127.0.0.1:1", "", 0)

	assert.False(t, client.IsEnabled())
	assert.Error(t, client.HealthCheck(context.Background()))
	assert.NoError(t, client.Close())
}
