package cpu

import "math"

func i64bitsToFloat64(v uint64) float64    { return math.Float64frombits(v) }
func float64ToI64Bits(f float64) uint64    { return math.Float64bits(f) }
func i32bitsToFloat32(v uint32) float32    { return math.Float32frombits(v) }
func float32ToI32Bits(f float32) uint32    { return math.Float32bits(f) }
