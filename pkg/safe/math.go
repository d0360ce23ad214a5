package safe

import (
	"math"
)

// Share quantities are plain int64 throughout the engine. These helpers panic on
// overflow instead of silently wrapping; the scheduler loop boundary recovers and
// logs, so a corrupted quantity can never reach the ledger.

// Add performs int64 addition and panics on overflow/underflow.
func Add(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("QTY_ADD_OVERFLOW")
	}
	return a + b
}

// Sub performs int64 subtraction and panics on overflow/underflow.
func Sub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("QTY_SUB_OVERFLOW")
	}
	return a - b
}

// Mul performs int64 multiplication and panics on overflow/underflow.
func Mul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > 0 {
		if b > 0 {
			if a > math.MaxInt64/b {
				panic("QTY_MUL_OVERFLOW")
			}
		} else {
			if b < math.MinInt64/a {
				panic("QTY_MUL_OVERFLOW")
			}
		}
	} else {
		if b > 0 {
			if a < math.MinInt64/b {
				panic("QTY_MUL_OVERFLOW")
			}
		} else {
			if a < math.MaxInt64/b {
				panic("QTY_MUL_OVERFLOW")
			}
		}
	}
	return a * b
}
