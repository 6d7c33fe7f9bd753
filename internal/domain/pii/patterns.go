package pii

import "regexp"

// builtinPattern pairs a kind with its compiled regex and an optional
// post-match validator (checksum, range check) that filters false
// positives the regex alone can't exclude.
type builtinPattern struct {
	kind      Kind
	re        *regexp.Regexp
	validator func(match string) bool
}

// ipOctet matches a single 0-255 decimal octet, rejecting triple-digit
// overflow like "999" at the regex level.
const ipOctet = `(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)`

var builtinPatterns = []builtinPattern{
	{
		kind: Email,
		re:   regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	},
	{
		kind:      Phone,
		re:        regexp.MustCompile(`\b(?:\+?\d[\d\-. ]{7,14}\d)\b`),
		validator: validatePhone,
	},
	{
		kind:      CreditCard,
		re:        regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
		validator: validateLuhn,
	},
	{
		kind: SSN,
		re:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	},
	{
		kind: IBAN,
		re:   regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
	},
	{
		kind: IP,
		re:   regexp.MustCompile(`\b` + ipOctet + `\.` + ipOctet + `\.` + ipOctet + `\.` + ipOctet + `\b`),
	},
	{
		// 7-9 digits, not 6-9, to cut false positives (spec §4.2).
		kind: Passport,
		re:   regexp.MustCompile(`\b[A-Z]{0,2}\d{7,9}\b`),
	},
	{
		kind: DOB,
		re:   regexp.MustCompile(`\b(?:19|20)\d{2}-(?:0[1-9]|1[0-2])-(?:0[1-9]|[12]\d|3[01])\b`),
	},
	{
		kind:      INN,
		re:        regexp.MustCompile(`\b\d{10}(?:\d{2})?\b`),
		validator: validateINN,
	},
	{
		kind:      SNILS,
		re:        regexp.MustCompile(`\b\d{3}-\d{3}-\d{3} \d{2}\b`),
		validator: validateSNILS,
	},
}

// validatePhone rejects matches that, once punctuation is stripped, don't
// land in a plausible 7-15 digit phone-number length.
func validatePhone(match string) bool {
	digits := 0
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 7 && digits <= 15
}

// validateLuhn implements the Luhn checksum used by credit card numbers.
func validateLuhn(match string) bool {
	var digits []int
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	parity := len(digits) % 2
	for i, d := range digits {
		if i%2 == parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// validateINN implements the Russian taxpayer INN control-digit checksum
// for both 10-digit (legal entity) and 12-digit (individual) forms.
func validateINN(match string) bool {
	digits := onlyDigits(match)
	switch len(digits) {
	case 10:
		coeffs := []int{2, 4, 10, 3, 5, 9, 4, 6, 8}
		return innCheckDigit(digits[:9], coeffs) == digits[9]
	case 12:
		coeffs1 := []int{7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
		coeffs2 := []int{3, 7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
		return innCheckDigit(digits[:10], coeffs1) == digits[10] &&
			innCheckDigit(digits[:11], coeffs2) == digits[11]
	default:
		return false
	}
}

func innCheckDigit(digits []int, coeffs []int) int {
	sum := 0
	for i, c := range coeffs {
		sum += c * digits[i]
	}
	return (sum % 11) % 10
}

// validateSNILS implements the Russian SNILS control-sum checksum.
func validateSNILS(match string) bool {
	digits := onlyDigits(match)
	if len(digits) != 11 {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		sum += digits[i] * (9 - i)
	}
	control := digits[9]*10 + digits[10]
	var expected int
	switch {
	case sum < 100:
		expected = sum
	case sum == 100 || sum == 101:
		expected = 0
	default:
		expected = sum % 101
		if expected == 100 {
			expected = 0
		}
	}
	return control == expected
}

func onlyDigits(s string) []int {
	var out []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, int(r-'0'))
		}
	}
	return out
}
