package schedule

import (
	"encoding/hex"
	"time"

	"github.com/minio/highwayhash"
)

// smearKey is a fixed 32 bytes (as required by HighwayHash) read from /dev/random.
// DO NOT MODIFY this value: event start offsets must be stable across restarts
// and re-deliveries.
var smearKey, _ = hex.DecodeString("9d2fb53a771c6e08c41e0fab93d07635215aee9f0dc9e2b70a3fd1c45b68d714")

// Smear returns a stable pseudo-random offset in [0, bound] for the given
// identity. The same identity always yields the same offset, so re-parsing an
// event reproduces its effective start exactly, while distinct identities
// spread across the window.
func Smear(identity string, bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	var sum = highwayhash.Sum64([]byte(identity), smearKey)
	return time.Duration(sum % (uint64(bound) + 1))
}
