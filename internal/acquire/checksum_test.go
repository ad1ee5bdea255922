package acquire

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeebo/blake3"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestVerifyChecksum(t *testing.T) {
	data := []byte("archive payload bytes")
	path := writeTempFile(t, data)

	sha := sha256.Sum256(data)
	md := md5.Sum(data)
	bl := blake3.Sum256(data)

	cases := []struct {
		name string
		spec string
		ok   bool
	}{
		{"empty spec verifies nothing", "", true},
		{"sha256 match", "sha256:" + hex.EncodeToString(sha[:]), true},
		{"sha256 uppercase match", "sha256:" + strings.ToUpper(hex.EncodeToString(sha[:])), true},
		{"md5 match", "md5:" + hex.EncodeToString(md[:]), true},
		{"blake3 match", "blake3:" + hex.EncodeToString(bl[:]), true},
		{"sha256 mismatch", "sha256:" + strings.Repeat("ab", 32), false},
		{"unknown algo", "crc32:deadbeef", false},
		{"malformed spec", "deadbeef", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyChecksum(path, tc.spec)
			if tc.ok && err != nil {
				t.Errorf("VerifyChecksum(%q) = %v, want nil", tc.spec, err)
			}
			if !tc.ok && err == nil {
				t.Errorf("VerifyChecksum(%q) = nil, want error", tc.spec)
			}
		})
	}
}

func TestVerifyChecksumMissingFile(t *testing.T) {
	err := VerifyChecksum(filepath.Join(t.TempDir(), "absent"), "sha256:"+strings.Repeat("00", 32))
	if err == nil {
		t.Fatal("want error for missing file")
	}
}
