package esgf

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/INLOpen/cmip6kit/core"
)

// VerifyChecksum hashes path with kind (SHA256 when empty, or MD5) and
// compares it with want. A difference is reported as core.ErrChecksumMismatch.
func VerifyChecksum(path, want, kind string) error {
	var h hash.Hash
	switch strings.ToUpper(kind) {
	case "", "SHA256":
		h = sha256.New()
	case "MD5":
		h = md5.New()
	default:
		return fmt.Errorf("unsupported checksum type %q", kind)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, strings.TrimSpace(want)) {
		return fmt.Errorf("%s: got %s, want %s: %w", path, got, want, core.ErrChecksumMismatch)
	}
	return nil
}
