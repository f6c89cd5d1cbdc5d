package vouchers

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"
)

// Unambiguous uppercase alphabet: no 0/O or 1/I.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode builds a voucher code such as "SUMMER-7QK2M9" from the title's leading letters.
func GenerateCode(title string) (string, error) {
	prefix := codePrefix(title)
	suffix := make([]byte, 6)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}
	return prefix + "-" + string(suffix), nil
}

func codePrefix(title string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(title) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			if b.Len() == 6 {
				break
			}
		}
	}
	if b.Len() < 2 {
		return "VCH"
	}
	return b.String()
}

// NormalizeCode uppercases and trims a user-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
