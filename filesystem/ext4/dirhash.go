package ext4

import "github.com/ext4view/ext4view/filesystem/ext4/md4"

// teaDelta is the golden-ratio constant the TEA directory hash mixes in on
// every round.
const teaDelta uint32 = 0x9E3779B9

// TEATransform runs 16 rounds of the Tiny Encryption Algorithm's mixing
// step over buf, folding in), and returns the updated accumulator. It is
// exported for testing against known vectors.
func TEATransform(buf [4]uint32, in []uint32) [4]uint32 {
	var sum uint32
	b0, b1 := buf[0], buf[1]
	a, b, c, d := in[0], in[1], in[2], in[3]
	for n := 0; n < 16; n++ {
		sum += teaDelta
		b0 += ((b1 << 4) + a) ^ (b1 + sum) ^ ((b1 >> 5) + b)
		b1 += ((b0 << 4) + c) ^ (b0 + sum) ^ ((b0 >> 5) + d)
	}
	return [4]uint32{buf[0] + b0, buf[1] + b1, buf[2], buf[3]}
}

// str2hashbuf packs msg into num 32-bit words, 4 bytes per word, using the
// padding scheme ext4's directory hash uses so that names shorter than
// num*4 bytes still fill the buffer deterministically. Bytes are widened
// signed or unsigned according to signed, matching the two on-disk hash
// variants that differ only in this regard.
func str2hashbuf(msg string, num int, signed bool) []uint32 {
	var out [8]uint32
	length := len(msg)
	if length > num*4 {
		length = num * 4
	}

	pad := uint32(len(msg)&0xff) * 0x01010101

	val := pad
	wordsWritten := 0
	for i := 0; i < length; i++ {
		var byteVal uint32
		if signed {
			byteVal = uint32(int32(int8(msg[i])))
		} else {
			byteVal = uint32(msg[i])
		}
		if i%4 == 0 {
			val = pad
		}
		val = byteVal + (val << 8)
		if i%4 == 3 {
			out[wordsWritten] = val
			wordsWritten++
			val = pad
		}
	}
	if wordsWritten < num {
		out[wordsWritten] = val
		wordsWritten++
	}
	for wordsWritten < num {
		out[wordsWritten] = pad
		wordsWritten++
	}
	return out[:num]
}

// dirHash computes the major (and, for algorithms that produce one, minor)
// hash of a directory entry name under the filesystem's configured HTree
// hash algorithm and seed, per the htree glossary entry: entries in an
// HTree index are sorted ascending by this value.
func dirHash(name string, algorithm hashAlgorithm, seed [4]uint32) (major, minor uint32, err error) {
	if name == "" {
		return 0, 0, newErr(KindCorrupt, "cannot hash an empty directory entry name")
	}

	switch algorithm {
	case hashHalfMD4, hashHalfMD4Unsigned:
		signed := algorithm == hashHalfMD4
		buf := seed
		if buf == ([4]uint32{}) {
			buf = [4]uint32{0x67452301, 0xefcdab89, 0x98badcfe, 0x10325476}
		}
		remaining := len(name)
		pos := 0
		for {
			chunk := name[pos:]
			in := str2hashbuf(chunk, 8, signed)
			buf = md4.Transform(buf, in)
			if remaining <= 32 {
				break
			}
			remaining -= 32
			pos += 32
		}
		return buf[1] &^ 1, buf[2], nil

	case hashTea, hashTeaUnsigned:
		signed := algorithm == hashTea
		buf := seed
		if buf == ([4]uint32{}) {
			buf = [4]uint32{0x67452301, 0xefcdab89, 0x98badcfe, 0x10325476}
		}
		remaining := len(name)
		pos := 0
		for {
			chunk := name[pos:]
			in := str2hashbuf(chunk, 4, signed)
			buf = TEATransform(buf, in)
			if remaining <= 16 {
				break
			}
			remaining -= 16
			pos += 16
		}
		return buf[0], buf[1], nil

	case hashLegacy, hashLegacyUnsigned:
		return legacyHash(name, algorithm == hashLegacy), 0, nil

	default:
		return 0, 0, newErr(KindIncompatible, "unsupported HTree hash algorithm %d", algorithm)
	}
}

// legacyHash implements the original (pre-HTree) ext2 directory hash, kept
// for images created with dx_hash algorithm 0 or 3.
func legacyHash(name string, signed bool) uint32 {
	var hash, hash0, hash1 uint32 = 0, 0x12a3fe2d, 0x37abe8f9
	for i := 0; i < len(name); i++ {
		var c uint32
		if signed {
			c = uint32(int32(int8(name[i])))
		} else {
			c = uint32(name[i])
		}
		hash = hash1 + (hash0 ^ (c * 7152373))
		if hash&0x80000000 != 0 {
			hash -= 0x7fffffff
		}
		hash1 = hash0
		hash0 = hash
	}
	return hash0 << 1
}
