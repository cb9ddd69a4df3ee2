//go:build darwin || windows

package bluetooth

// write returns once the printer has acknowledged the chunk. The OS stack
// splits a write request longer than the MTU, so no cap applies.
func (c *characteristic) write(p []byte) (int, error) {
	return c.ch.Write(p)
}

func (c *characteristic) MaxWriteLen() int { return 0 }
