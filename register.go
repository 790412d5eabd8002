package scservo

import "context"

// ReadU8 reads a single byte register (spec §4.4).
func (b *Bus) ReadU8(ctx context.Context, id int, address byte) (uint8, CommResult, StatusError, error) {
	data, result, status, err := b.ReadRegister(ctx, id, address, 1)
	if result != Success || len(data) < 1 {
		return 0, result, status, err
	}
	return data[0], Success, status, nil
}

// ReadU16 reads a 2-byte register, composed under the bus's endianness
// policy (spec §4.4).
func (b *Bus) ReadU16(ctx context.Context, id int, address byte) (uint16, CommResult, StatusError, error) {
	data, result, status, err := b.ReadRegister(ctx, id, address, 2)
	if result != Success || len(data) < 2 {
		return 0, result, status, err
	}
	return b.codec.DecodeWord(data), Success, status, nil
}

// ReadU32 reads a 4-byte register as two independently-endian-composed
// 16-bit words, low word first (spec §4.4).
func (b *Bus) ReadU32(ctx context.Context, id int, address byte) (uint32, CommResult, StatusError, error) {
	data, result, status, err := b.ReadRegister(ctx, id, address, 4)
	if result != Success || len(data) < 4 {
		return 0, result, status, err
	}
	return b.codec.DecodeDWord(data), Success, status, nil
}

// WriteU8 writes a single byte register.
func (b *Bus) WriteU8(ctx context.Context, id int, address byte, value uint8) (CommResult, StatusError, error) {
	return b.WriteRegister(ctx, id, address, []byte{value})
}

// WriteU16 writes a 2-byte register, decomposed under the bus's
// endianness policy.
func (b *Bus) WriteU16(ctx context.Context, id int, address byte, value uint16) (CommResult, StatusError, error) {
	return b.WriteRegister(ctx, id, address, b.codec.EncodeWord(value))
}

// WriteU32 writes a 4-byte register as two independently-endian-encoded
// 16-bit words, low word first.
func (b *Bus) WriteU32(ctx context.Context, id int, address byte, value uint32) (CommResult, StatusError, error) {
	return b.WriteRegister(ctx, id, address, b.codec.EncodeDWord(value))
}
