package acquire

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// VerifyChecksum checks a file against a "algo:hex" spec. Supported algos are
// sha256, blake3 and md5. An empty spec verifies nothing.
func VerifyChecksum(path, spec string) error {
	if spec == "" {
		return nil
	}
	algo, want, found := strings.Cut(spec, ":")
	if !found {
		return fmt.Errorf("malformed checksum %q, want algo:hex", spec)
	}

	var h hash.Hash
	switch algo {
	case "sha256":
		h = sha256.New()
	case "blake3":
		h = blake3.New()
	case "md5":
		h = md5.New()
	default:
		return fmt.Errorf("unsupported checksum algorithm %q", algo)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for checksum: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("checksum mismatch for %s: got %s:%s, want %s", path, algo, got, spec)
	}
	return nil
}
