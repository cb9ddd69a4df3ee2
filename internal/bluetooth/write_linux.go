//go:build linux

package bluetooth

// BlueZ only offers write commands here. They are not acknowledged and must
// fit one ATT packet, so MaxWriteLen follows the negotiated MTU and chunks are
// capped to it.
func (c *characteristic) write(p []byte) (int, error) {
	return c.ch.WriteWithoutResponse(p)
}

func (c *characteristic) MaxWriteLen() int {
	mtu, err := c.ch.GetMTU()
	if err != nil {
		return 0
	}
	return chunkLimit(mtu)
}
