package compare

import "strings"

// BarcodeValid reports whether code is a plausible EAN-13, UPC-A or EAN-8
// barcode. Hyphens and spaces are ignored, and 2 or 5 digit add-on codes
// are dropped before the checksum is verified.
func BarcodeValid(code string) bool {
	digits := strings.NewReplacer("-", "", " ", "").Replace(code)
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	switch {
	case len(digits) > 16:
		digits = digits[:len(digits)-5]
	case len(digits) > 13:
		digits = digits[:len(digits)-2]
	}
	switch len(digits) {
	case 8, 12, 13:
	default:
		return false
	}
	return eanChecksum(digits)
}

// Barcodes splits a multi-barcode field into its trimmed entries.
func Barcodes(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func eanChecksum(digits string) bool {
	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return sum%10 == 0
}
