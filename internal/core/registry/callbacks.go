package registry

// callbacks is an ordered list of handlers that can be removed by handle.
type callbacks[F any] struct {
	next  int
	items []callback[F]
}

type callback[F any] struct {
	id int
	fn F
}

func (c *callbacks[F]) add(fn F) func() {
	c.next++
	id := c.next
	c.items = append(c.items, callback[F]{id: id, fn: fn})
	return func() {
		for i, it := range c.items {
			if it.id == id {
				c.items = append(c.items[:i:i], c.items[i+1:]...)
				return
			}
		}
	}
}

// snapshot lets handlers unregister themselves while being invoked.
func (c *callbacks[F]) snapshot() []F {
	out := make([]F, len(c.items))
	for i, it := range c.items {
		out[i] = it.fn
	}
	return out
}
