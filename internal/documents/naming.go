package documents

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const pdfExt = ".pdf"

// divisionPattern matches a file stem carrying a version suffix, e.g.
// "Spec_Division02".
var divisionPattern = regexp.MustCompile(`(?i)^(.+)_Division(\d+)$`)

// invalidNameChars are rejected in file names on at least one supported
// platform.
const invalidNameChars = `<>:"/\|?*`

// ValidatePDFFileName checks that name is a bare .pdf file name with no
// directory component and no characters invalid in file names.
func ValidatePDFFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: file name is empty", ErrInvalidFileName)
	}
	if !strings.EqualFold(filepath.Ext(name), pdfExt) {
		return fmt.Errorf("%w: %q is not a .pdf file", ErrInvalidFileName, name)
	}
	if path.Base(name) != name || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q contains a directory component", ErrInvalidFileName, name)
	}
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(invalidNameChars, r) {
			return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidFileName, name)
		}
	}
	return nil
}

func isPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), pdfExt)
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ParseDivision splits a file name into its base name and division number
// using the _Division<NN> suffix convention.
func ParseDivision(fileName string) (base string, division int, ok bool) {
	m := divisionPattern.FindStringSubmatch(stem(fileName))
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// StoredFileName is the on-disk name of division n of base.
func StoredFileName(base string, division int) string {
	return fmt.Sprintf("%s_Division%02d%s", base, division, pdfExt)
}

// SanitizeBaseName makes base safe to embed in a stored file name.
func SanitizeBaseName(base string) string {
	var b strings.Builder
	inRun := false
	for _, r := range base {
		if r < 0x20 || unicode.IsSpace(r) || strings.ContainsRune(invalidNameChars, r) {
			if !inRun {
				b.WriteByte('_')
			}
			inRun = true
			continue
		}
		inRun = false
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "Document"
	}
	return out
}

// uploadBaseName derives the logical document name for an uploaded file.
// A name that already carries a division suffix is filed under its base.
func uploadBaseName(fileName string) string {
	if base, _, ok := ParseDivision(fileName); ok {
		return SanitizeBaseName(base)
	}
	return SanitizeBaseName(stem(fileName))
}
