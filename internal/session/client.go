package session

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/san-kum/olfacto/internal/rig"
)

// Client writes protocol messages. It is used by the send command and tests.
type Client struct {
	w     io.Writer
	order binary.ByteOrder
}

func NewClient(w io.Writer, order binary.ByteOrder) *Client {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Client{w: w, order: order}
}

// Configure sends the count, identity and dilution messages.
func (c *Client) Configure(odorants []rig.Odorant) error {
	head := make([]byte, 4)
	c.order.PutUint32(head, uint32(int32(len(odorants))))
	if _, err := c.w.Write(head); err != nil {
		return err
	}

	ids := make([]byte, 4*len(odorants))
	dil := make([]byte, 4*len(odorants))
	for i, o := range odorants {
		c.order.PutUint32(ids[4*i:], uint32(o.ID))
		c.order.PutUint32(dil[4*i:], uint32(o.Dilution))
	}
	if _, err := c.w.Write(ids); err != nil {
		return err
	}
	_, err := c.w.Write(dil)
	return err
}

// Send writes one vector of log10 concentrations.
func (c *Client) Send(logConcentrations []float64) error {
	buf := make([]byte, 8*len(logConcentrations))
	for i, x := range logConcentrations {
		c.order.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	_, err := c.w.Write(buf)
	return err
}
