package unlock

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

// payloadVersion 解锁消息编码版本
const payloadVersion = 1

// encodeUnlockPayload 解锁请求的确定性编码
// 版本(1) + 源链(2) + 目标链(2) + 订单数(2) + 订单哈希×N(32)。
// 证明网络对 payload 整体签名，字段顺序不可变。
func encodeUnlockPayload(route types.Route, hashes []common.Hash) []byte {
	buf := make([]byte, 0, 7+32*len(hashes))

	buf = append(buf, payloadVersion)

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(route.Src))
	buf = append(buf, u16[:]...)
	binary.BigEndian.PutUint16(u16[:], uint16(route.Dst))
	buf = append(buf, u16[:]...)

	binary.BigEndian.PutUint16(u16[:], uint16(len(hashes)))
	buf = append(buf, u16[:]...)

	for _, h := range hashes {
		buf = append(buf, h.Bytes()...)
	}

	return buf
}
