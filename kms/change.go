package kms

// Change is a batched set of property writes, keyed by kernel object. It is
// built up by the transaction diff and submitted to the kernel as a single
// atomic operation. Writes for the same object are grouped; within an
// object, a later write to the same property replaces the earlier one.
type Change struct {
	objs []changeObject
}

type changeObject struct {
	id    uint32
	props []propWrite
}

type propWrite struct {
	prop  PropertyID
	value uint64
}

// Set appends one property write. Setting a property with id PropertyNone
// is a no-op; property discovery leaves optional properties (e.g.
// VRR_ENABLED on old kernels) at PropertyNone so callers don't have to
// guard every write.
func (c *Change) Set(obj ObjectHandle, prop PropertyID, value uint64) {
	if prop == PropertyNone {
		return
	}
	id := obj.Raw()
	for i := range c.objs {
		if c.objs[i].id != id {
			continue
		}
		for j := range c.objs[i].props {
			if c.objs[i].props[j].prop == prop {
				c.objs[i].props[j].value = value
				return
			}
		}
		c.objs[i].props = append(c.objs[i].props, propWrite{prop, value})
		return
	}
	c.objs = append(c.objs, changeObject{id: id, props: []propWrite{{prop, value}}})
}

// Len returns the total number of property writes in the batch.
func (c *Change) Len() int {
	n := 0
	for i := range c.objs {
		n += len(c.objs[i].props)
	}
	return n
}

func (c *Change) Empty() bool { return c.Len() == 0 }

// Each visits every write in object, then insertion, order.
func (c *Change) Each(f func(obj uint32, prop PropertyID, value uint64)) {
	for i := range c.objs {
		for _, p := range c.objs[i].props {
			f(c.objs[i].id, p.prop, p.value)
		}
	}
}

// Value reports the pending write for (obj, prop), if any.
func (c *Change) Value(obj ObjectHandle, prop PropertyID) (uint64, bool) {
	id := obj.Raw()
	for i := range c.objs {
		if c.objs[i].id != id {
			continue
		}
		for _, p := range c.objs[i].props {
			if p.prop == prop {
				return p.value, true
			}
		}
	}
	return 0, false
}

// arrays flattens the batch into the four parallel arrays of
// struct drm_mode_atomic.
func (c *Change) arrays() (objs []uint32, counts []uint32, props []uint32, values []uint64) {
	for i := range c.objs {
		objs = append(objs, c.objs[i].id)
		counts = append(counts, uint32(len(c.objs[i].props)))
		for _, p := range c.objs[i].props {
			props = append(props, uint32(p.prop))
			values = append(values, p.value)
		}
	}
	return
}
