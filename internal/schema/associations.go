package schema

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/yamlbridge/internal/extension"
)

// ContributionPath is the metadata path of the contribution array.
const ContributionPath = "contributes.yamlValidation"

// Variable placeholders expanded in file patterns.
const (
	AppSettingsHome   = "%APP_SETTINGS_HOME%"
	AppWorkspacesHome = "%APP_WORKSPACES_HOME%"
)

var schemeQualified = regexp.MustCompile(`\w+://`)

// Associations maps a file pattern to the schema URLs that apply to it, in
// contribution order. Duplicates are kept.
type Associations map[string][]string

// Clone returns a deep copy.
func (a Associations) Clone() Associations {
	out := make(Associations, len(a))
	for k, v := range a {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Contribution is one well-formed yamlValidation entry, before normalization.
type Contribution struct {
	FileMatch string `json:"fileMatch"`
	URL       string `json:"url"`
}

// Contributions returns the well-formed entries declared by desc. Entries
// whose fileMatch or url is not a string are skipped.
func Contributions(desc extension.Descriptor) []Contribution {
	arr := desc.Get(ContributionPath)
	if !arr.IsArray() {
		return nil
	}

	var out []Contribution
	arr.ForEach(func(_, entry gjson.Result) bool {
		fileMatch := entry.Get("fileMatch")
		u := entry.Get("url")
		if fileMatch.Type != gjson.String || u.Type != gjson.String {
			return true
		}
		out = append(out, Contribution{FileMatch: fileMatch.Str, URL: u.Str})
		return true
	})
	return out
}

// Compute aggregates the contributions of exts, in order, into a new
// Associations value.
func Compute(exts []extension.Descriptor) Associations {
	assoc := make(Associations)
	for _, ext := range exts {
		for _, c := range Contributions(ext) {
			fileMatch := NormalizeFileMatch(c.FileMatch)
			assoc[fileMatch] = append(assoc[fileMatch], ResolveURL(ext.RootURI, c.URL))
		}
	}
	return assoc
}

// NormalizeFileMatch expands variable placeholders or anchors a bare
// pattern at the root.
func NormalizeFileMatch(fileMatch string) string {
	if strings.HasPrefix(fileMatch, "%") {
		fileMatch = strings.Replace(fileMatch, AppSettingsHome, "/User", 1)
		return strings.Replace(fileMatch, AppWorkspacesHome, "/Workspaces", 1)
	}
	if !strings.HasPrefix(fileMatch, "/") && !schemeQualified.MatchString(fileMatch) {
		return "/" + fileMatch
	}
	return fileMatch
}

// ResolveURL resolves a "./" relative schema URL against the extension root.
// Other URLs are returned unchanged.
//
// When the root path ends in "/" the leading "./" is dropped, otherwise only
// the leading "." is, so "ext://x/" and "ext://x" both yield "ext://x/foo.json"
// for "./foo.json".
func ResolveURL(rootURI, ref string) string {
	if !strings.HasPrefix(ref, "./") {
		return ref
	}

	root, err := url.Parse(rootURI)
	if err != nil {
		return ref
	}

	rel := ref[1:]
	if strings.HasSuffix(root.Path, "/") {
		rel = ref[2:]
	}

	resolved := *root
	resolved.Path = root.Path + rel
	resolved.RawPath = ""
	return resolved.String()
}
