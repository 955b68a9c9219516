package zaplink

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/sqids/sqids-go"
)

const codeAlphabet = "k3G7QAe51FCsiWrNOYBUwM6XzZvdLT4j9JhyHKg2cVbxfERq0mSoI8lDpunPat"

// Codec 把自增 ID 编码成短码。
//
// 只编码 ID 的话短码可以被顺序枚举；这里把 ID 和一个随机数一起编码，
// 唯一性仍然由 ID 保证，但相邻 ID 的短码之间没有规律。
type Codec struct {
	sq *sqids.Sqids
}

func NewCodec(minLength int) (*Codec, error) {
	if minLength < 0 || minLength > 255 {
		return nil, fmt.Errorf("sqids: min length %d out of range", minLength)
	}
	sq, err := sqids.New(sqids.Options{
		Alphabet:  codeAlphabet,
		MinLength: uint8(minLength),
	})
	if err != nil {
		return nil, fmt.Errorf("sqids init: %w", err)
	}
	return &Codec{sq: sq}, nil
}

func (c *Codec) Encode(id uint64) (string, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return c.sq.Encode([]uint64{id, uint64(binary.BigEndian.Uint16(b[:]))})
}

// DecodeID 取回短码中的 ID；短码不是本 Codec 生成的返回 false。
func (c *Codec) DecodeID(code string) (uint64, bool) {
	nums := c.sq.Decode(code)
	if len(nums) != 2 {
		return 0, false
	}
	return nums[0], true
}
