package checksum

import (
	"strings"

	"github.com/objectfs/streamfs/pkg/errors"
)

// Algorithm identifies one supported digest.
type Algorithm int

const (
	MD5 Algorithm = iota + 1
	CKSUM
	ADLER32
	CRC32
	CVMFS
)

// canonical is the order records are written in.
var canonical = []Algorithm{CKSUM, ADLER32, CRC32, MD5, CVMFS}

// Names lists the supported algorithm names.
func Names() []string {
	return []string{"MD5", "ADLER32", "CKSUM", "CRC32", "CVMFS"}
}

// All returns every supported algorithm in canonical record order.
func All() []Algorithm {
	out := make([]Algorithm, len(canonical))
	copy(out, canonical)
	return out
}

func (a Algorithm) String() string {
	switch a {
	case MD5:
		return "MD5"
	case CKSUM:
		return "CKSUM"
	case ADLER32:
		return "ADLER32"
	case CRC32:
		return "CRC32"
	case CVMFS:
		return "CVMFS"
	default:
		return "UNKNOWN"
	}
}

// Size is the digest length in bytes. CVMFS descriptors have no fixed
// length and report 0.
func (a Algorithm) Size() int {
	switch a {
	case MD5:
		return 16
	case CKSUM, ADLER32, CRC32:
		return 4
	default:
		return 0
	}
}

// ParseAlgorithm resolves a case-insensitive algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "MD5":
		return MD5, nil
	case "CKSUM":
		return CKSUM, nil
	case "ADLER32":
		return ADLER32, nil
	case "CRC32":
		return CRC32, nil
	case "CVMFS":
		return CVMFS, nil
	}
	return 0, errors.Newf(errors.ErrCodeUnsupported, "unsupported checksum algorithm %q", name).
		WithComponent("checksum")
}

// Size returns the digest length for name, or an UNSUPPORTED error.
func Size(name string) (int, error) {
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return 0, err
	}
	return alg.Size(), nil
}
