package i2cgpio

import "fmt"

// State is the line decoder state. It tracks where the endpoint is within a
// byte frame: shifting bits in, acknowledging, or shifting bits out.
type State uint8

const (
	StateIdle State = iota
	StateReceive
	StateReceiveWait
	StateTransmitStart
	StateTransmit
	StateAcknowledge
	StateTransAcknowledge
	StateTransmitWait
)

var stateNames = map[State]string{
	StateIdle:             "Idle",
	StateReceive:          "Receive",
	StateReceiveWait:      "ReceiveWait",
	StateTransmitStart:    "TransmitStart",
	StateTransmit:         "Transmit",
	StateAcknowledge:      "Acknowledge",
	StateTransAcknowledge: "TransAcknowledge",
	StateTransmitWait:     "TransmitWait",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

// TransferState is the byte-level state of the transfer controller.
type TransferState uint8

const (
	TransferIdle TransferState = iota
	TransferReceiveAddress
	TransferReceiveData
	TransferSendData
	TransferInvalid
)

var transferNames = map[TransferState]string{
	TransferIdle:           "Idle",
	TransferReceiveAddress: "ReceiveAddress",
	TransferReceiveData:    "ReceiveData",
	TransferSendData:       "SendData",
	TransferInvalid:        "Invalid",
}

func (s TransferState) String() string {
	if name, ok := transferNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TransferState(%d)", s)
}

// Transmitter identifies which side produces the data bits of the current
// byte.
type Transmitter uint8

const (
	// TransmitterMaster means the external driver sends and the endpoint
	// receives and acknowledges.
	TransmitterMaster Transmitter = iota
	// TransmitterSlave means the endpoint shifts out bytes read from the
	// addressed device.
	TransmitterSlave
)

func (t Transmitter) String() string {
	switch t {
	case TransmitterMaster:
		return "master"
	case TransmitterSlave:
		return "slave"
	}
	return fmt.Sprintf("Transmitter(%d)", t)
}
