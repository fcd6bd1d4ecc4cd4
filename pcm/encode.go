package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrOddLength = errors.New("pcm16 payload has odd byte count")

// Bytes returns the little-endian byte representation of frame.
func Bytes(frame []int16) []byte {
	data := make([]byte, len(frame)*BytesPerSample)
	for i, s := range frame {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// Encode serializes a frame to padded standard base64 of its s16le bytes.
func Encode(frame []int16) string {
	return base64.StdEncoding.EncodeToString(Bytes(frame))
}

// EncodeBytes encodes s16le PCM that is already in wire byte order.
func EncodeBytes(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode reverses Encode.
func Decode(chunk string) ([]int16, error) {
	data, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d", ErrOddLength, len(data))
	}
	frame := make([]int16, len(data)/BytesPerSample)
	for i := range frame {
		frame[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return frame, nil
}

// ChunkBytes is the decoded size of a padded base64 chunk, without decoding it.
func ChunkBytes(chunk string) int {
	n := base64.StdEncoding.DecodedLen(len(chunk))
	for i := len(chunk) - 1; i >= 0 && i >= len(chunk)-2 && chunk[i] == '='; i-- {
		n--
	}
	return n
}
