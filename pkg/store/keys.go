package store

// PairKey names the individual chat between two users independently of order.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}
