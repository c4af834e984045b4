package utils

// TruncatedMean returns the integer-truncated average of the samples, 0 when
// there are none.
func TruncatedMean(samples []int) int {
	if len(samples) == 0 {
		return 0
	}
	sum := 0
	for _, s := range samples {
		sum += s
	}
	return sum / len(samples)
}
