package ethereum

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Function selectors used by the reader.
var (
	selectorResolver  = []byte{0x01, 0x78, 0xb8, 0xbf} // resolver(bytes32)
	selectorAddr      = []byte{0x3b, 0x3b, 0x57, 0xde} // addr(bytes32)
	selectorBalanceOf = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
)

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// Namehash implements the EIP-137 name hash of a normalized ENS name.
func Namehash(name string) [32]byte {
	var node [32]byte
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		copy(node[:], keccak256(node[:], keccak256([]byte(labels[i]))))
	}
	return node
}

func encodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return b, nil
}

// parseQuantity decodes a JSON-RPC hex quantity such as "0x1bc16d674ec80000".
func parseQuantity(s string) (*big.Int, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return v, nil
}

// callData packs a selector with one 32-byte word.
func callData(selector []byte, word [32]byte) []byte {
	out := make([]byte, 0, 36)
	out = append(out, selector...)
	return append(out, word[:]...)
}

// addressWord left-pads a 20-byte address into an ABI word.
func addressWord(address string) ([32]byte, error) {
	var w [32]byte
	b, err := decodeHex(address)
	if err != nil {
		return w, err
	}
	if len(b) != 20 {
		return w, fmt.Errorf("address %s is not 20 bytes", address)
	}
	copy(w[12:], b)
	return w, nil
}

// wordAddress reads the address held in the first returned word.
func wordAddress(ret []byte) string {
	if len(ret) < 32 {
		return ""
	}
	return encodeHex(ret[12:32])
}

// wordUint reads the first returned word as an unsigned integer.
func wordUint(ret []byte) *big.Int {
	if len(ret) < 32 {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(ret[:32])
}

func isZeroAddress(addr string) bool {
	return addr == "" || strings.TrimLeft(strings.TrimPrefix(addr, "0x"), "0") == ""
}
