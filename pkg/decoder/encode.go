package decoder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EncodeLaunchCreated builds the raw log a factory would emit for ev.
// Used for fixtures and local replays.
func (w *ABIWrapper) EncodeLaunchCreated(factory common.Address, ev LaunchCreated, blockNumber uint64) (types.Log, error) {
	event := w.parsedABI.Events[LaunchCreatedEvent]
	data, err := event.Inputs.NonIndexed().Pack(ev.Name, ev.Symbol, ev.ImageURI)
	if err != nil {
		return types.Log{}, err
	}
	return types.Log{
		Address: factory,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(ev.Launch.Bytes()),
			common.BytesToHash(ev.Creator.Bytes()),
			common.BytesToHash(ev.Token.Bytes()),
		},
		Data:        data,
		BlockNumber: blockNumber,
	}, nil
}
