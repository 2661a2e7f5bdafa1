package ext4

import "testing"

func TestTEATransformDeterministic(t *testing.T) {
	buf := [4]uint32{1, 2, 3, 4}
	in := []uint32{5, 6, 7, 8}
	a := TEATransform(buf, in)
	b := TEATransform(buf, in)
	if a != b {
		t.Errorf("TEATransform not deterministic: %v vs %v", a, b)
	}
}

func TestStr2HashbufPadsShortNames(t *testing.T) {
	out := str2hashbuf("abc", 8, true)
	if len(out) != 8 {
		t.Fatalf("got %d words, want 8", len(out))
	}
}

func TestStr2HashbufTruncatesLongNames(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	out := str2hashbuf(string(long), 4, true)
	if len(out) != 4 {
		t.Fatalf("got %d words, want 4", len(out))
	}
}

func TestDirHashHalfMD4IsDeterministic(t *testing.T) {
	seed := [4]uint32{0x333fa1eb, 0x588c456e, 0xb81cd1d3, 0x43cd0e01}
	major1, minor1, err := dirHash("abc", hashHalfMD4, seed)
	if err != nil {
		t.Fatal(err)
	}
	major2, minor2, err := dirHash("abc", hashHalfMD4, seed)
	if err != nil {
		t.Fatal(err)
	}
	if major1 != major2 || minor1 != minor2 {
		t.Errorf("dirHash not deterministic: (%#x,%#x) vs (%#x,%#x)", major1, minor1, major2, minor2)
	}
}

func TestDirHashRejectsEmptyName(t *testing.T) {
	if _, _, err := dirHash("", hashHalfMD4, [4]uint32{}); err == nil {
		t.Fatal("expected error hashing an empty name")
	}
}

func TestDirHashRejectsUnknownAlgorithm(t *testing.T) {
	if _, _, err := dirHash("x", hashAlgorithm(0x7f), [4]uint32{}); err == nil {
		t.Fatal("expected error for unsupported hash algorithm")
	}
}

func TestDirHash255ByteNameDoesNotPanic(t *testing.T) {
	name := make([]byte, 255)
	for i := range name {
		name[i] = byte('a' + i%26)
	}
	if _, _, err := dirHash(string(name), hashHalfMD4, [4]uint32{}); err != nil {
		t.Fatal(err)
	}
}

// The following vectors pin dirHash against known half-MD4 outputs: one
// keyed by the htree_seed a mkfs.ext4-created filesystem typically carries
// (the 16 bytes of UUID 333fa1eb-588c-456e-b81c-d1d343cd0e01 read as four
// little-endian words, as superblockFromBytes reads the seed), one with the
// all-zero seed that dirHash substitutes with MD4's standard initial
// state, and one over a 255-byte (the maximum) name.
func TestDirHashHalfMD4KnownVectorWithSeed(t *testing.T) {
	seed := [4]uint32{0xeba13f33, 0x6e458c58, 0xd3d11cb8, 0x010ecd43}
	major, _, err := dirHash("abc", hashHalfMD4, seed)
	if err != nil {
		t.Fatal(err)
	}
	if major != 0x25783134 {
		t.Errorf("dirHash(abc) major = %#x, want %#x", major, 0x25783134)
	}
}

func TestDirHashHalfMD4KnownVectorZeroSeed(t *testing.T) {
	major, _, err := dirHash("abc", hashHalfMD4, [4]uint32{})
	if err != nil {
		t.Fatal(err)
	}
	if major != 0xD196A868 {
		t.Errorf("dirHash(abc) major = %#x, want %#x", major, 0xD196A868)
	}
}

func TestDirHashHalfMD4KnownVector255ByteName(t *testing.T) {
	name := make([]byte, 255)
	for i := range name {
		const alphanum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		name[i] = alphanum[i%len(alphanum)]
	}
	seed := [4]uint32{0xeba13f33, 0x6e458c58, 0xd3d11cb8, 0x010ecd43}
	major, _, err := dirHash(string(name), hashHalfMD4, seed)
	if err != nil {
		t.Fatal(err)
	}
	if major != 0xE40E82E0 {
		t.Errorf("dirHash(255-byte name) major = %#x, want %#x", major, 0xE40E82E0)
	}
}
