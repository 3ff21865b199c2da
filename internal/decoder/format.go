package decoder

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case common.Address:
		return v.Hex()
	case *common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case *big.Int:
		return v.String()
	case big.Int:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	case []byte:
		return hexutil.Encode(v)
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return fmt.Sprintf("%d", v)
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		buf := make([]byte, rv.Len())
		for i := range buf {
			buf[i] = byte(rv.Index(i).Uint())
		}
		return hexutil.Encode(buf)
	}
	return fmt.Sprintf("%v", value)
}
