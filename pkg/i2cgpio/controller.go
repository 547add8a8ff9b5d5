package i2cgpio

import (
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

// MissHandler is told when an address byte names an address with no device.
// read is the direction flag of the address byte.
type MissHandler func(addr i2c.Address, read bool)

// transaction is the device transaction opened on the registry. The zero
// value means no transaction is open.
type transaction struct {
	addr i2c.Address
	open bool
}

// controller gives meaning to the bytes the line decoder assembles: address
// bytes open transactions and select the direction, data bytes go to the
// addressed device.
type controller struct {
	reg  i2c.Registry
	log  *slog.Logger
	miss MissHandler

	state TransferState
	role  Transmitter

	// target is the address of the last address byte, even when nothing
	// answers it. tx is what the registry was actually told about.
	target i2c.Address
	read   bool
	tx     transaction
}

// consumeByte handles a fully received byte. When the byte starts a read, the
// first byte to transmit is returned with load set.
func (c *controller) consumeByte(b uint8) (next uint8, load bool) {
	switch c.state {
	case TransferIdle:
		addr := i2c.Address(b >> 1)
		c.target = addr
		c.read = b&1 == 1

		c.log.Debug("address byte", "address", addr.String(), "read", c.read)

		if !c.reg.HasDevice(addr) {
			c.setState(TransferInvalid)
			c.role = TransmitterMaster
			if c.miss != nil {
				c.miss(addr, c.read)
			}
			return 0, false
		}

		c.begin(addr)

		if c.read {
			c.setState(TransferSendData)
			c.role = TransmitterSlave
			return c.reg.Read(addr), true
		}
		c.setState(TransferReceiveAddress)
		c.role = TransmitterMaster

	case TransferReceiveAddress:
		c.log.Debug("receive address", "value", fmt.Sprintf("%#02x", b))
		c.reg.Write(c.target, b)
		if c.read {
			c.setState(TransferSendData)
		} else {
			c.setState(TransferReceiveData)
		}

	case TransferReceiveData:
		c.log.Debug("receive data", "value", fmt.Sprintf("%#02x", b))
		c.reg.Write(c.target, b)
	}

	return 0, false
}

// begin opens a transaction on addr when none is open. After a repeated
// start naming another device the open transaction moves to that address
// without a stop or start; the final stop condition ends it there.
func (c *controller) begin(addr i2c.Address) {
	if c.tx.open {
		c.tx.addr = addr
		return
	}
	c.reg.Start(addr)
	c.tx = transaction{addr: addr, open: true}
}

// nextByte fetches the next byte to transmit.
func (c *controller) nextByte() uint8 {
	b := c.reg.Read(c.target)
	c.log.Debug("next byte", "value", fmt.Sprintf("%#02x", b))
	return b
}

// restart handles a repeated start: the next byte is an address byte again
// but the open transaction survives.
func (c *controller) restart() {
	c.setState(TransferIdle)
}

// endTransaction closes the open transaction, if any.
func (c *controller) endTransaction() {
	c.log.Debug("end of transfer", "open", c.tx.open)

	if c.tx.open {
		c.reg.Stop(c.tx.addr)
	}
	c.tx = transaction{}
	c.setState(TransferIdle)
	c.role = TransmitterMaster
}

func (c *controller) setState(s TransferState) {
	if s != c.state {
		c.log.Debug("transfer state", "from", c.state, "to", s)
		c.state = s
	}
}
