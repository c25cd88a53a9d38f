package vec

import "fmt"

const (
	// RegionSizeBit логарифм размера региона в чанках
	RegionSizeBit = 5
	// RegionSize сторона региона в чанках
	RegionSize = 1 << RegionSizeBit
)

// Vec2 представляет 2D координаты (X, Z чанка или региона)
type Vec2 struct {
	X, Y int
}

// ToRegionCoords преобразует координаты чанка в координаты региона.
// Арифметический сдвиг = деление с округлением вниз, поэтому -1 попадает в регион -1.
func (v Vec2) ToRegionCoords() Vec2 {
	return Vec2{X: v.X >> RegionSizeBit, Y: v.Y >> RegionSizeBit} // Деление на 32
}

// LocalInRegion возвращает локальные координаты чанка внутри региона, всегда в [0, RegionSize)
func (v Vec2) LocalInRegion() Vec2 {
	return Vec2{X: v.X & (RegionSize - 1), Y: v.Y & (RegionSize - 1)} // Модуль 32
}

// FromRegion восстанавливает глобальные координаты чанка из региона и локальной позиции
func FromRegion(region, local Vec2) Vec2 {
	return Vec2{
		X: region.X<<RegionSizeBit + local.X,
		Y: region.Y<<RegionSizeBit + local.Y,
	}
}

// String возвращает представление "(x, z)"
func (v Vec2) String() string {
	return fmt.Sprintf("(%d, %d)", v.X, v.Y)
}
