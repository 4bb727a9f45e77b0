package ledger

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// attrs builds event attributes from alternating keys and values. Values
// may be strings, addresses, hashes, big integers, uint64 or bool.
func attrs(kv ...any) map[string]string {
	out := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		switch v := kv[i+1].(type) {
		case string:
			out[key] = v
		case common.Address:
			out[key] = v.Hex()
		case common.Hash:
			out[key] = v.Hex()
		case *big.Int:
			out[key] = domain.BigOrZero(v).String()
		case uint64:
			out[key] = strconv.FormatUint(v, 10)
		case bool:
			out[key] = strconv.FormatBool(v)
		case domain.PoolStatus:
			out[key] = v.String()
		}
	}
	return out
}

func (tx *txn) emit(typ domain.EventType, kv ...any) {
	tx.events = append(tx.events, domain.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: tx.now,
		Attrs:     attrs(kv...),
	})
}
