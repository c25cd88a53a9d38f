package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestWorldResource(t *testing.T) {
	res, err := worldResource(context.Background(), TelemetryOptions{
		ServiceName: "worldstore-test",
		WorldID:     "6f1c2a9e-0000-4000-8000-000000000001",
		WorldName:   "Terra",
		SampleRatio: 0.5,
	})
	require.NoError(t, err)

	set := res.Set()
	for key, want := range map[attribute.Key]string{
		"service.name": "worldstore-test",
		"world.id":     "6f1c2a9e-0000-4000-8000-000000000001",
		"world.name":   "Terra",
	} {
		value, ok := set.Value(key)
		require.True(t, ok, "атрибут %s", key)
		assert.Equal(t, want, value.AsString())
	}

	_, ok := set.Value("process.pid")
	assert.True(t, ok)
}
