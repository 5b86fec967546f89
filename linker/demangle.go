package linker

import "strings"

// demangle turns a mangled Rust symbol into its path form for
// diagnostics. Names produced by other frontends pass through
// unchanged. Only the legacy _ZN scheme needs handling here; the v0
// scheme is rewritten to legacy by the frontends that target BPF.
func demangle(name string) string {
	if !strings.HasPrefix(name, "_ZN") {
		return name
	}

	// Format: _ZN<len><segment><len><segment>...E
	s := name[3:]
	var parts []string

	for len(s) > 0 && s[0] != 'E' {
		lenEnd := 0
		for lenEnd < len(s) && s[lenEnd] >= '0' && s[lenEnd] <= '9' {
			lenEnd++
		}
		if lenEnd == 0 {
			break
		}

		length := 0
		for i := 0; i < lenEnd; i++ {
			length = length*10 + int(s[i]-'0')
		}
		s = s[lenEnd:]

		if length > len(s) {
			break
		}

		part := s[:length]
		s = s[length:]

		// drop the trailing hash segment (17 chars, 'h' then hex)
		if len(part) == 17 && part[0] == 'h' && isHex(part[1:]) {
			continue
		}
		// segments with embedded punctuation come $-escaped
		part = unescapeSegment(part)
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return name
	}
	return strings.Join(parts, "::")
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// unescapeSegment rewrites the $...$ escapes the legacy mangler uses
// for characters that cannot appear in symbol names.
func unescapeSegment(s string) string {
	if !strings.Contains(s, "$") && !strings.Contains(s, ".") {
		return s
	}
	replacer := strings.NewReplacer(
		"$SP$", "@",
		"$BP$", "*",
		"$RF$", "&",
		"$LT$", "<",
		"$GT$", ">",
		"$LP$", "(",
		"$RP$", ")",
		"$C$", ",",
		"$u20$", " ",
		"$u27$", "'",
		"$u5b$", "[",
		"$u5d$", "]",
		"$u7b$", "{",
		"$u7d$", "}",
		"$u3b$", ";",
		"$u2b$", "+",
		"..", "::",
	)
	return replacer.Replace(s)
}
