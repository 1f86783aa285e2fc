package security

import "regexp"

var cardNumberPattern = regexp.MustCompile(`^[0-9]{12,19}$`)

// ValidCardNumber checks length and the Luhn mod-10 checksum.
// The number must already be stripped of spaces and dashes.
func ValidCardNumber(number string) bool {
	if !cardNumberPattern.MatchString(number) {
		return false
	}
	return passesLuhn(number)
}

func passesLuhn(number string) bool {
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		n := int(number[i] - '0')
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}

// LuhnCheckDigit returns the digit that makes partial+digit pass ValidCardNumber.
func LuhnCheckDigit(partial string) byte {
	sum := 0
	double := true
	for i := len(partial) - 1; i >= 0; i-- {
		n := int(partial[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return byte('0' + (10-sum%10)%10)
}
