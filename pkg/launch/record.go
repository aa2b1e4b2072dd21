package launch

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SchemaVersion tags every persisted record.
const SchemaVersion = 1

var ErrInvalidRecord = errors.New("invalid cache record")

// Record is the persisted form of an Entity. Ledger-scale numbers are decimal
// strings so nothing loses precision on the way through JSON.
type Record struct {
	SchemaVersion    int    `json:"schemaVersion"`
	EntityKey        string `json:"entityKey"`
	Creator          string `json:"creator"`
	Token            string `json:"token"`
	Name             string `json:"name"`
	Symbol           string `json:"symbol"`
	ImageRef         string `json:"imageRef"`
	Finalized        bool   `json:"finalized"`
	TradingPool      string `json:"tradingPool,omitempty"`
	FeeSplitter      string `json:"feeSplitter,omitempty"`
	StakingVault     string `json:"stakingVault,omitempty"`
	Sold             string `json:"sold"`
	TotalSaleSupply  string `json:"totalSaleSupply"`
	UnitPrice        string `json:"unitPrice"`
	RemainingForSale string `json:"remainingForSale"`
	CreatedAtBlock   string `json:"createdAtBlock,omitempty"`
	CreatedAtTime    string `json:"createdAtTime,omitempty"`
	LastUpdatedAt    int64  `json:"lastUpdatedAt"`
}

// ToRecord converts an entity to its persisted form.
func ToRecord(e Entity) Record {
	r := Record{
		SchemaVersion:    SchemaVersion,
		EntityKey:        addrString(e.Key),
		Creator:          addrString(e.Creator),
		Token:            addrString(e.Token),
		Name:             e.Name,
		Symbol:           e.Symbol,
		ImageRef:         e.ImageRef,
		Finalized:        e.Finalized,
		TradingPool:      optionalAddr(e.TradingPool),
		FeeSplitter:      optionalAddr(e.FeeSplitter),
		StakingVault:     optionalAddr(e.StakingVault),
		Sold:             intString(e.Sold),
		TotalSaleSupply:  intString(e.TotalSaleSupply),
		UnitPrice:        intString(e.UnitPrice),
		RemainingForSale: intString(e.RemainingForSale),
		LastUpdatedAt:    e.LastUpdatedAt,
	}
	if e.CreatedAtBlock > 0 {
		r.CreatedAtBlock = strconv.FormatUint(e.CreatedAtBlock, 10)
	}
	if e.CreatedAtTime > 0 {
		r.CreatedAtTime = strconv.FormatUint(e.CreatedAtTime, 10)
	}
	return r
}

// Entity validates the record and converts it back.
func (r Record) Entity() (Entity, error) {
	if r.SchemaVersion != SchemaVersion {
		return Entity{}, fmt.Errorf("%w: schema version %d", ErrInvalidRecord, r.SchemaVersion)
	}
	key, err := parseAddr(r.EntityKey, true)
	if err != nil {
		return Entity{}, fmt.Errorf("%w: entityKey: %v", ErrInvalidRecord, err)
	}

	e := Entity{
		Key:           key,
		Name:          r.Name,
		Symbol:        r.Symbol,
		ImageRef:      r.ImageRef,
		Finalized:     r.Finalized,
		LastUpdatedAt: r.LastUpdatedAt,
	}

	addrs := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"creator", r.Creator, &e.Creator},
		{"token", r.Token, &e.Token},
		{"tradingPool", r.TradingPool, &e.TradingPool},
		{"feeSplitter", r.FeeSplitter, &e.FeeSplitter},
		{"stakingVault", r.StakingVault, &e.StakingVault},
	}
	for _, a := range addrs {
		if *a.dst, err = parseAddr(a.raw, false); err != nil {
			return Entity{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, a.name, err)
		}
	}

	ints := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"sold", r.Sold, &e.Sold},
		{"totalSaleSupply", r.TotalSaleSupply, &e.TotalSaleSupply},
		{"unitPrice", r.UnitPrice, &e.UnitPrice},
		{"remainingForSale", r.RemainingForSale, &e.RemainingForSale},
	}
	for _, n := range ints {
		if *n.dst, err = parseInt(n.raw); err != nil {
			return Entity{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, n.name, err)
		}
	}

	if e.CreatedAtBlock, err = parseUint(r.CreatedAtBlock); err != nil {
		return Entity{}, fmt.Errorf("%w: createdAtBlock: %v", ErrInvalidRecord, err)
	}
	if e.CreatedAtTime, err = parseUint(r.CreatedAtTime); err != nil {
		return Entity{}, fmt.Errorf("%w: createdAtTime: %v", ErrInvalidRecord, err)
	}
	return e, nil
}

// EncodeEntities serializes entities as a JSON array of records.
func EncodeEntities(entities []Entity) ([]byte, error) {
	records := make([]Record, len(entities))
	for i, e := range entities {
		records[i] = ToRecord(e)
	}
	return json.Marshal(records)
}

// DecodeEntities parses a persisted array record by record. Records that fail
// validation, or repeat an earlier key, are skipped and reported in dropped.
// An error is returned only when data is not a JSON array at all.
func DecodeEntities(data []byte) (entities []Entity, dropped []error, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode entity list: %w", err)
	}

	seen := make(map[common.Address]struct{}, len(raw))
	entities = make([]Entity, 0, len(raw))
	for i, msg := range raw {
		var r Record
		if err := json.Unmarshal(msg, &r); err != nil {
			dropped = append(dropped, fmt.Errorf("record %d: %w: %v", i, ErrInvalidRecord, err))
			continue
		}
		e, err := r.Entity()
		if err != nil {
			dropped = append(dropped, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if _, dup := seen[e.Key]; dup {
			dropped = append(dropped, fmt.Errorf("record %d: %w: duplicate key %s", i, ErrInvalidRecord, e.Key.Hex()))
			continue
		}
		seen[e.Key] = struct{}{}
		entities = append(entities, e)
	}
	return entities, dropped, nil
}

func addrString(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func optionalAddr(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return addrString(a)
}

func parseAddr(s string, required bool) (common.Address, error) {
	if s == "" {
		if required {
			return common.Address{}, errors.New("missing")
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not an address: %q", s)
	}
	a := common.HexToAddress(s)
	if required && a == (common.Address{}) {
		return common.Address{}, errors.New("zero address")
	}
	return a, nil
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseInt(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal: %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative: %q", s)
	}
	return v, nil
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
