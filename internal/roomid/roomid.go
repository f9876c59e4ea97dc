// Package roomid generates sortable identifiers for rooms and race rounds.
// IDs are UUIDv7 values encoded as 26-character Crockford base32 strings, so
// they sort by creation time and are safe to put in URLs and log lines.
package roomid

import (
	"crypto/rand"
	"fmt"
	"time"
)

const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// RandSource supplies the random tail of an ID. Injected by tests that need
// reproducible identifiers; nil means crypto/rand.
type RandSource interface {
	Intn(n int) int
}

// Generator produces ids with a configurable random source.
type Generator struct {
	randSource RandSource
}

func NewGenerator(randSource RandSource) *Generator {
	return &Generator{randSource: randSource}
}

// New creates an id using crypto/rand.
func New() string {
	return NewGenerator(nil).Generate()
}

// Generate creates a new id from the generator's source.
func (g *Generator) Generate() string {
	return encodeBase32(g.uuidv7())
}

func (g *Generator) uuidv7() [16]byte {
	var id [16]byte

	// 48-bit millisecond timestamp, then version 7 and variant bits over
	// random data.
	now := time.Now().UnixMilli()
	id[0] = byte(now >> 40)
	id[1] = byte(now >> 32)
	id[2] = byte(now >> 24)
	id[3] = byte(now >> 16)
	id[4] = byte(now >> 8)
	id[5] = byte(now)

	if g.randSource != nil {
		for i := 6; i < 16; i++ {
			id[i] = byte(g.randSource.Intn(256))
		}
	} else {
		if _, err := rand.Read(id[6:]); err != nil {
			panic("roomid: failed to read random bytes: " + err.Error())
		}
	}

	id[6] = (id[6] & 0x0f) | 0x70
	id[8] = (id[8] & 0x3f) | 0x80

	return id
}

func encodeBase32(data [16]byte) string {
	result := make([]byte, 26)

	for i := 0; i < 26; i++ {
		bitOffset := i * 5
		byteIndex := bitOffset / 8
		bitIndex := bitOffset % 8

		var value uint8
		if byteIndex < 16 {
			if bitIndex <= 3 {
				value = (data[byteIndex] >> (3 - bitIndex)) & 0x1f
			} else {
				value = (data[byteIndex] << (bitIndex - 3)) & 0x1f
				if byteIndex+1 < 16 {
					value |= data[byteIndex+1] >> (11 - bitIndex)
				}
			}
		}

		result[i] = alphabet[value]
	}

	return string(result)
}

// Validate checks that id is a well-formed 26-character base32 identifier.
func Validate(id string) error {
	if len(id) != 26 {
		return fmt.Errorf("room id must be exactly 26 characters, got %d", len(id))
	}

	// A 128-bit value encoded into 130 bits cannot start above '7'.
	if id[0] > '7' {
		return fmt.Errorf("room id first character must be 0-7, got %c", id[0])
	}

	for i := 0; i < len(id); i++ {
		if !validChar(id[i]) {
			return fmt.Errorf("invalid character %c at position %d", id[i], i)
		}
	}

	return nil
}

func validChar(c byte) bool {
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] == c {
			return true
		}
	}
	return false
}
