package printer

import "fmt"

// State is a step of one print invocation.
type State int

const (
	StateIdle State = iota
	StateRequestingDevice
	StateConnectingGATT
	StateDiscoveringService
	StateDiscoveringCharacteristic
	StateEncoding
	StateTransmitting
	StateDisconnecting
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                      "IDLE",
	StateRequestingDevice:          "REQUESTING_DEVICE",
	StateConnectingGATT:            "CONNECTING_GATT",
	StateDiscoveringService:        "DISCOVERING_SERVICE",
	StateDiscoveringCharacteristic: "DISCOVERING_CHARACTERISTIC",
	StateEncoding:                  "ENCODING",
	StateTransmitting:              "TRANSMITTING",
	StateDisconnecting:             "DISCONNECTING",
	StateDone:                      "DONE",
	StateFailed:                    "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }
