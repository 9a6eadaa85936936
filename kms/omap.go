package kms

// mapCap bounds every object map in a transaction. Real hardware exposes a
// handful of CRTCs and connectors and at most a few planes per CRTC, so 16
// entries is generous; exceeding it is a programming error.
const mapCap = 16

// Map is a small ordered map keyed by kernel handles. Iteration follows
// insertion order, which keeps atomic change batches and diagnostics stable
// across runs. The zero Map is ready to use.
type Map[K comparable, V any] struct {
	keys [mapCap]K
	vals [mapCap]V
	n    int
}

func (m *Map[K, V]) Len() int { return m.n }

func (m *Map[K, V]) Get(k K) (V, bool) {
	for i := 0; i < m.n; i++ {
		if m.keys[i] == k {
			return m.vals[i], true
		}
	}
	var zero V
	return zero, false
}

func (m *Map[K, V]) Contains(k K) bool {
	_, ok := m.Get(k)
	return ok
}

func (m *Map[K, V]) Set(k K, v V) {
	for i := 0; i < m.n; i++ {
		if m.keys[i] == k {
			m.vals[i] = v
			return
		}
	}
	if m.n == mapCap {
		panic("kms: object map overflow")
	}
	m.keys[m.n] = k
	m.vals[m.n] = v
	m.n++
}

func (m *Map[K, V]) Delete(k K) {
	for i := 0; i < m.n; i++ {
		if m.keys[i] == k {
			copy(m.keys[i:], m.keys[i+1:m.n])
			copy(m.vals[i:], m.vals[i+1:m.n])
			m.n--
			var zk K
			var zv V
			m.keys[m.n] = zk
			m.vals[m.n] = zv
			return
		}
	}
}

// Each calls f for every entry in insertion order. f may mutate the value
// through pointers but must not add or remove entries.
func (m *Map[K, V]) Each(f func(k K, v V)) {
	for i := 0; i < m.n; i++ {
		f(m.keys[i], m.vals[i])
	}
}

func (m *Map[K, V]) Keys() []K {
	out := make([]K, m.n)
	copy(out, m.keys[:m.n])
	return out
}
