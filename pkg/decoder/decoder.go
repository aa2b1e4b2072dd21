package decoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrUnknownEvent = errors.New("event signature not found in ABI")

// ABIWrapper wraps the decoding logic using go-ethereum's ABI parser.
type ABIWrapper struct {
	parsedABI abi.ABI
}

// NewFromJSON creates a decoder from a JSON ABI string
func NewFromJSON(jsonStr string) (*ABIWrapper, error) {
	parsed, err := abi.JSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, err
	}
	return &ABIWrapper{parsedABI: parsed}, nil
}

// MustFromJSON is NewFromJSON for ABIs compiled into the binary.
func MustFromJSON(jsonStr string) *ABIWrapper {
	w, err := NewFromJSON(jsonStr)
	if err != nil {
		panic(fmt.Sprintf("decoder: invalid abi: %v", err))
	}
	return w
}

// ABI exposes the parsed ABI for packing calls.
func (w *ABIWrapper) ABI() *abi.ABI {
	return &w.parsedABI
}

// EventID returns topic0 of the named event.
func (w *ABIWrapper) EventID(name string) (common.Hash, error) {
	ev, ok := w.parsedABI.Events[name]
	if !ok {
		return common.Hash{}, fmt.Errorf("event %s not in abi", name)
	}
	return ev.ID, nil
}

// DecodedLog contains parsed human-readable data from a transaction log.
type DecodedLog struct {
	Name   string                 // Event name (e.g., LaunchCreated)
	Inputs map[string]interface{} // Parameter key-value pairs
}

// Decode parses a single Log
func (w *ABIWrapper) Decode(log types.Log) (*DecodedLog, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}

	event, err := w.parsedABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, ErrUnknownEvent
	}

	result := &DecodedLog{
		Name:   event.Name,
		Inputs: make(map[string]interface{}),
	}

	// Data carries the non-indexed parameters
	if len(log.Data) > 0 {
		if err := w.parsedABI.UnpackIntoMap(result.Inputs, event.Name, log.Data); err != nil {
			return nil, err
		}
	}

	var indexedArgs abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexedArgs = append(indexedArgs, arg)
		}
	}

	// Topics[0] is the signature, the rest are indexed parameters
	if len(log.Topics)-1 != len(indexedArgs) {
		return nil, fmt.Errorf("topic count mismatch: expected %d, got %d", len(indexedArgs), len(log.Topics)-1)
	}

	if err := abi.ParseTopicsIntoMap(result.Inputs, indexedArgs, log.Topics[1:]); err != nil {
		return nil, err
	}

	return result, nil
}

// LaunchCreated is the typed form of the factory creation event.
type LaunchCreated struct {
	Launch   common.Address
	Creator  common.Address
	Token    common.Address
	Name     string
	Symbol   string
	ImageURI string
}

// DecodeLaunchCreated decodes a LaunchCreated log emitted by the factory.
func (w *ABIWrapper) DecodeLaunchCreated(log types.Log) (*LaunchCreated, error) {
	d, err := w.Decode(log)
	if err != nil {
		return nil, err
	}
	if d.Name != LaunchCreatedEvent {
		return nil, fmt.Errorf("unexpected event %s", d.Name)
	}

	out := &LaunchCreated{}
	var ok bool
	if out.Launch, ok = d.Inputs["launch"].(common.Address); !ok {
		return nil, fmt.Errorf("launch: unexpected type %T", d.Inputs["launch"])
	}
	if out.Creator, ok = d.Inputs["creator"].(common.Address); !ok {
		return nil, fmt.Errorf("creator: unexpected type %T", d.Inputs["creator"])
	}
	if out.Token, ok = d.Inputs["token"].(common.Address); !ok {
		return nil, fmt.Errorf("token: unexpected type %T", d.Inputs["token"])
	}
	out.Name, _ = d.Inputs["name"].(string)
	out.Symbol, _ = d.Inputs["symbol"].(string)
	out.ImageURI, _ = d.Inputs["imageURI"].(string)
	return out, nil
}
