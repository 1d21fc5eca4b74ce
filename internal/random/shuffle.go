package random

// Shuffle returns a Fisher–Yates permutation of 0..n-1, walking i from n-1
// down to 1 and swapping with j drawn from [0,i].
func Shuffle(src Source, n int) []int {
	if n <= 0 {
		return []int{}
	}

	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := Index(src, i+1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
