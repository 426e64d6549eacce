package recording

import "encoding/binary"

// pcmDecoder turns little-endian s16 byte reads into mono samples. Bytes of a
// partial frame at the end of a read are carried into the next call.
type pcmDecoder struct {
	channels int
	carry    []byte
}

func newPCMDecoder(channels int) *pcmDecoder {
	if channels <= 0 {
		channels = 1
	}
	return &pcmDecoder{channels: channels}
}

func (d *pcmDecoder) decode(data []byte) []int16 {
	if len(d.carry) > 0 {
		data = append(d.carry, data...)
		d.carry = nil
	}

	frameBytes := 2 * d.channels
	whole := len(data) - len(data)%frameBytes
	if whole < len(data) {
		d.carry = append([]byte(nil), data[whole:]...)
	}

	samples := make([]int16, 0, whole/frameBytes)
	for i := 0; i < whole; i += frameBytes {
		if d.channels == 1 {
			samples = append(samples, int16(binary.LittleEndian.Uint16(data[i:])))
			continue
		}
		var sum int
		for c := 0; c < d.channels; c++ {
			sum += int(int16(binary.LittleEndian.Uint16(data[i+2*c:])))
		}
		samples = append(samples, int16(sum/d.channels))
	}
	return samples
}

// EncodePCM encodes samples as little-endian s16 bytes.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// DecodePCM decodes little-endian s16 mono bytes. A trailing odd byte is ignored.
func DecodePCM(data []byte) []int16 {
	return newPCMDecoder(1).decode(data)
}
