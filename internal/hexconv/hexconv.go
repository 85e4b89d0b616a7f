package hexconv

// Halfbyte maps an ASCII character into its hexadecimal value. Characters not
// being hex digits are mapped into 0xFF.
var Halfbyte = func() (table [256]byte) {
	for i := range table {
		table[i] = 0xFF
	}

	for c := '0'; c <= '9'; c++ {
		table[c] = byte(c - '0')
	}

	for c := 'a'; c <= 'f'; c++ {
		table[c] = byte(c-'a') + 10
		table[c-'a'+'A'] = byte(c-'a') + 10
	}

	return table
}()

// Valid reports whether the character is a hex digit.
func Valid(char byte) bool {
	return Halfbyte[char] != 0xFF
}
