/*
Package bitint provides the power-of-two helpers used to size and index
the sample windows fed to the spectral analyzer. A radix-2 FFT only works
on window lengths that are exact powers of two, so every buffer size in
the pipeline is validated (or rounded up) here.

Design Principles:
- Zero Allocations: All operations use stack memory only
- Predictable Performance: O(1) constant time operations
- Real-Time Safe: No locks, syscalls, or blocking operations

Usage:

	// Round a requested window up to something the FFT can use
	size := bitint.NextPowerOfTwo(200) // Returns 256

	// Reject a configured window the FFT cannot use
	if !bitint.IsPowerOfTwo(size) { ... }

	// Number of butterfly stages / bit-reversal width
	stages := bitint.Log2(256) // Returns 8

----------------------------------------------------------------------

What this code does:

	NextPowerOfTwo returns the next power of 2 greater than or
	equal to size. The subtraction (size-1) keeps exact powers of
	two unchanged: bits.Len(7) = 3 and 1<<3 = 8, whereas
	bits.Len(8) = 4 would incorrectly double the input.

	ReverseBits mirrors the low `width` bits of an index. The FFT's
	input permutation sends sample i to position ReverseBits(i, log2 N).
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
//
// Examples:
//
//	Input  Output  Explanation
//	4      4      Already power of 2 (preserved)
//	5      8      Next power after 5
//	0      1      Handle zero case
//	-1     1      Handle negative case
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo checks if n is a power of 2 using bit manipulation.
// Powers of 2 have exactly one bit set, so n&(n-1) clears it to zero.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   Not positive
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns the base-2 logarithm of a power of two. For other values it
// returns the position of the highest set bit, and 0 for n <= 1.
func Log2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n)) - 1
}

// ReverseBits reverses the lowest width bits of i.
func ReverseBits(i, width int) int {
	if width <= 0 {
		return 0
	}
	return int(bits.Reverse(uint(i)) >> (bits.UintSize - width))
}
