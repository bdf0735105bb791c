package storage

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	fallbackName  = "image"
	maxNameRunes  = 100
	maxExtRunes   = 10
	replacementCh = '_'
)

// SanitizeName turns a caller-supplied filename into a single safe path
// component. The result is NFC-normalized, keeps letters, digits, '.', '-' and
// '_', and never starts with a dot.
func SanitizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return fallbackName
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune(replacementCh)
		}
	}
	cleaned := strings.TrimLeft(b.String(), ".")
	if strings.Trim(cleaned, "._-") == "" {
		return fallbackName
	}
	return truncateName(cleaned)
}

func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) <= maxNameRunes {
		return name
	}
	ext := []rune(filepath.Ext(name))
	if len(ext) > maxExtRunes {
		ext = nil
	}
	stem := runes[:maxNameRunes-len(ext)]
	return string(stem) + string(ext)
}
