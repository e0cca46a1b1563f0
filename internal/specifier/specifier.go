// Package specifier parses npm package specifiers such as
// "@scope/name/subpath@1.2.3" into their name, version and subpath parts.
package specifier

import "strings"

// DefaultVersion is used when a specifier carries no version.
const DefaultVersion = "latest"

// Specifier is a parsed package specifier
type Specifier struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Subpath string `json:"subpath,omitempty"`
}

// Parse splits a specifier string into name, version and subpath.
//
// Scoped packages keep their leading "@": only the second "@" separates the
// version. Parse never fails; unusual input degrades to a best-effort result.
func Parse(s string) Specifier {
	spec := Specifier{Version: DefaultVersion}

	if strings.HasPrefix(s, "@") {
		work := s
		if idx := strings.Index(s[1:], "@"); idx >= 0 {
			at := idx + 1
			work = s[:at]
			spec.Version = s[at+1:]
		}

		parts := strings.Split(work, "/")
		if len(parts) > 2 {
			spec.Name = parts[0] + "/" + parts[1]
			spec.Subpath = strings.Join(parts[2:], "/")
		} else {
			spec.Name = work
		}
		return spec
	}

	base := s
	if at := strings.Index(s, "@"); at >= 0 {
		base = s[:at]
		spec.Version = s[at+1:]
	}

	if slash := strings.Index(base, "/"); slash >= 0 {
		spec.Name = base[:slash]
		spec.Subpath = base[slash+1:]
	} else {
		spec.Name = base
	}

	return spec
}

// ImportPath returns the module path used in an import statement
func (s Specifier) ImportPath() string {
	if s.Subpath == "" {
		return s.Name
	}
	return s.Name + "/" + s.Subpath
}

// String renders the specifier back into "name[/subpath]@version" form.
func (s Specifier) String() string {
	return s.ImportPath() + "@" + s.Version
}
