package util

import "strings"

// StripANSI removes terminal escape sequences (CSI, OSC and the string
// sequences DCS, APC, PM) and C0 controls other than tab from s. Shells
// started with a login profile often color their output; captured command
// output must compare as plain text.
func StripANSI(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool { return r < 0x20 && r != '\t' }) {
		return s
	}
	const (
		normal = iota
		esc
		csi
		str
	)
	var b strings.Builder
	state := normal
	strEsc := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case normal:
			switch {
			case c == 0x1b:
				state = esc
			case c >= 0x20 || c == '\t':
				b.WriteByte(c)
			}
		case esc:
			switch c {
			case '[':
				state = csi
			case ']', 'P', '_', '^':
				state, strEsc = str, false
			default:
				state = normal
			}
		case csi:
			if c >= 0x40 && c <= 0x7e {
				state = normal
			}
		case str:
			switch {
			case c == 0x07:
				state = normal
			case strEsc:
				if c == '\\' {
					state = normal
				}
				strEsc = false
			case c == 0x1b:
				strEsc = true
			}
		}
	}
	return b.String()
}
