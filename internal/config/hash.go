package config

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint returns a BLAKE3 hash identifying what a run executes: the
// dispatch mode and the command template. Runs over the same template share a
// fingerprint regardless of worker count or skip settings.
func (c *Config) Fingerprint() string {
	h := blake3.New()
	_, _ = h.Write([]byte(c.Mode().String()))
	for _, arg := range c.Command {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(arg))
	}
	return hex.EncodeToString(h.Sum(nil))
}
