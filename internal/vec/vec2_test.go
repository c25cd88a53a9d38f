package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegionCoordsNearZero(t *testing.T) {
	cases := []struct {
		chunk  int
		region int
		local  int
	}{
		{0, 0, 0},
		{31, 0, 31},
		{32, 1, 0},
		{-1, -1, 31},
		{-32, -1, 0},
		{-33, -2, 31},
		{-64, -2, 0},
	}

	for _, c := range cases {
		v := Vec2{X: c.chunk, Y: c.chunk}
		assert.Equal(t, Vec2{X: c.region, Y: c.region}, v.ToRegionCoords(), "регион для %d", c.chunk)
		assert.Equal(t, Vec2{X: c.local, Y: c.local}, v.LocalInRegion(), "локальная позиция для %d", c.chunk)
	}
}

func TestRegionCoordsSymmetry(t *testing.T) {
	for x := -100; x <= 100; x += 7 {
		base := Vec2{X: x, Y: -x}
		for k := -3; k <= 3; k++ {
			shifted := Vec2{X: x - RegionSize*k, Y: -x - RegionSize*k}

			assert.Equal(t, base.LocalInRegion(), shifted.LocalInRegion())
			assert.Equal(t, base.ToRegionCoords().X-k, shifted.ToRegionCoords().X)
			assert.Equal(t, base.ToRegionCoords().Y-k, shifted.ToRegionCoords().Y)
		}
	}
}

func TestFromRegion(t *testing.T) {
	for _, v := range []Vec2{{X: 0, Y: 0}, {X: -1, Y: 45}, {X: -33, Y: -1000}, {X: 1 << 20, Y: -(1 << 20)}} {
		assert.Equal(t, v, FromRegion(v.ToRegionCoords(), v.LocalInRegion()))
	}
}
