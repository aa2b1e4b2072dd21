package launch

import (
	"math/big"
	"testing"

	"github.com/84hero/launch-indexer/pkg/decoder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	factory   = common.HexToAddress("0xfac7")
	factoryEv = decoder.MustFromJSON(decoder.FactoryABI)
)

func addr(s string) common.Address { return common.HexToAddress(s) }

func creationLog(t *testing.T, key common.Address, name string, block uint64, index uint) types.Log {
	t.Helper()
	l, err := factoryEv.EncodeLaunchCreated(factory, decoder.LaunchCreated{
		Launch:   key,
		Creator:  addr("0xc0ffee"),
		Token:    addr("0x70ce"),
		Name:     name,
		Symbol:   "SYM",
		ImageURI: "ipfs://" + name,
	}, block)
	require.NoError(t, err)
	l.Index = index
	return l
}

func entity(key string, block, ts uint64) Entity {
	e := NewEntity(Creation{Key: addr(key), Creator: addr("0xc0ffee"), Name: key, BlockNumber: block, Timestamp: ts})
	return e
}

func keys(entities []Entity) []common.Address {
	out := make([]common.Address, len(entities))
	for i, e := range entities {
		out[i] = e.Key
	}
	return out
}

func bi(v int64) *big.Int { return big.NewInt(v) }
