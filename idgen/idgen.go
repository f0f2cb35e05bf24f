// Package idgen provides pluggable ID generation for domdrive.
//
// Session names, network correlation ids, sequence run ids and screenshot
// file names are all produced by a Generator, so the ID strategy is a
// startup-time decision rather than a compile-time one.
package idgen

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
// Short and URL-safe; used for session names and file names.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID
// (e.g. "sess_", "req_", "run_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Timestamped returns a Generator that produces IDs in the format
// "20060102T150405Z_<suffix>". Lexical order follows creation time, which
// keeps screenshot directories readable.
func Timestamped(gen Generator) Generator {
	return func() string {
		return time.Now().UTC().Format("20060102T150405Z") + "_" + gen()
	}
}

// Session is the generator used when a caller opens a session without a name.
var Session Generator = Prefixed("sess_", NanoID(10))

// Correlation is the generator used to pair network requests with their
// responses inside a collector.
var Correlation Generator = Prefixed("req_", NanoID(12))

// Run identifies one sequence execution. UUIDv7 keeps run ids sortable by
// start time across sessions and restarts.
var Run Generator = UUIDv7()
