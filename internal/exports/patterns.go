package exports

import (
	"regexp"
	"strings"
)

const ident = `[A-Za-z_$][\w$]*`

var (
	decorationPrefix = regexp.MustCompile(`(?m)^[ \t]*\* `)

	reExportAllPattern = regexp.MustCompile(`(?m)export\s+\*\s+from\s+['"]([^'"]+)['"]`)
	namespaceReExport  = regexp.MustCompile(`(?m)export\s+\*\s+as\s+(` + ident + `)\s+from\s+['"][^'"]+['"]`)
	typeReExportList   = regexp.MustCompile(`(?m)export\s+type\s+\{([^}]*)\}\s*from\s+['"][^'"]+['"]`)
	valueReExportList  = regexp.MustCompile(`(?m)export\s+\{([^}]*)\}\s*from\s+['"][^'"]+['"]`)
	localExportGroup   = regexp.MustCompile(`(?m)export\s+(type\s+)?\{([^}]*)\}(\s*from\b)?`)

	functionPattern  = regexp.MustCompile(`(?m)export\s+(?:declare\s+)?(?:async\s+)?function\s*\*?\s*(` + ident + `)`)
	classPattern     = regexp.MustCompile(`(?m)export\s+(?:declare\s+)?(?:abstract\s+)?class\s+(` + ident + `)`)
	constPattern     = regexp.MustCompile(`(?m)export\s+(?:declare\s+)?(?:const|let|var)\s+(` + ident + `)`)
	typeAliasPattern = regexp.MustCompile(`(?m)export\s+(?:declare\s+)?type\s+(` + ident + `)\s*(?:<[^;]*?>)?\s*=`)
	interfacePattern = regexp.MustCompile(`(?m)export\s+(?:declare\s+)?interface\s+(` + ident + `)`)
	enumPattern      = regexp.MustCompile(`(?m)export\s+(?:declare\s+)?(?:const\s+)?enum\s+(` + ident + `)`)
	namespacePattern = regexp.MustCompile(`(?m)export\s+(?:declare\s+)?(?:namespace|module)\s+(` + ident + `)`)
)

// stripDecoration removes one layer of leading "* " from every line so
// declarations wrapped in doc-comment style blocks are still visible.
func stripDecoration(content string) string {
	return decorationPrefix.ReplaceAllString(content, "")
}

// listEntry is one item of an "export { ... }" list
type listEntry struct {
	name     string
	typeOnly bool
}

// parseExportList splits the inside of an export brace list into entries.
// "type X" marks a type-only entry and "X as Y" exports Y.
func parseExportList(list string) []listEntry {
	var entries []listEntry
	for _, raw := range strings.Split(list, ",") {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}

		entry := listEntry{}
		if rest, ok := strings.CutPrefix(item, "type "); ok {
			entry.typeOnly = true
			item = strings.TrimSpace(rest)
		}

		if idx := strings.Index(item, " as "); idx >= 0 {
			item = strings.TrimSpace(item[idx+len(" as "):])
		}

		if !isIdentifier(item) {
			continue
		}
		entry.name = item
		entries = append(entries, entry)
	}
	return entries
}

var identifierPattern = regexp.MustCompile(`^` + ident + `$`)

func isIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
