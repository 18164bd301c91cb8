package poll

// MapsEqual reports whether two unordered key-value mirrors hold the same
// key set with the same value per key. It short-circuits on a size mismatch
// before any element-wise comparison. Insertion order is irrelevant.
func MapsEqual[K, V comparable](a, b map[K]V) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}

// SetsEqual reports whether two identity sets have the same membership.
// It short-circuits on a size mismatch before element-wise comparison.
func SetsEqual[K comparable](a, b map[K]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
