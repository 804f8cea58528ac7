// Package oib validates Croatian personal identification numbers (OIB)
// using the ISO 7064 MOD 11-10 check digit.
package oib

const Length = 11

// Valid reports whether s is an 11-digit OIB with a correct check digit.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < Length; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	check, ok := CheckDigit(s[:Length-1])
	return ok && check == s[Length-1]
}

// CheckDigit computes the check digit for the first ten digits of an OIB.
func CheckDigit(first10 string) (byte, bool) {
	if len(first10) != Length-1 {
		return 0, false
	}
	control := 10
	for i := 0; i < len(first10); i++ {
		c := first10[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		control = (control + int(c-'0')) % 10
		if control == 0 {
			control = 10
		}
		control = (control * 2) % 11
	}
	check := 11 - control
	if check == 10 {
		check = 0
	}
	return byte('0' + check), true
}
