package policy

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

// builtinFS holds the policies every engine starts with. They use the same
// header directives as policy files on disk.
//
//go:embed builtin/*.rego
var builtinFS embed.FS

// GetBuiltinPolicies returns the built-in export policies sorted by name.
// It panics if an embedded policy header is malformed, which a test
// catches.
func GetBuiltinPolicies() []Policy {
	files, err := fs.Glob(builtinFS, "builtin/*.rego")
	if err != nil {
		panic(err)
	}
	sort.Strings(files)

	policies := make([]Policy, 0, len(files))
	for _, file := range files {
		data, err := builtinFS.ReadFile(file)
		if err != nil {
			panic(err)
		}
		p, err := parseRego(path.Base(file), string(data))
		if err != nil {
			panic(fmt.Sprintf("built-in policy %s: %v", file, err))
		}
		p.Source = ""
		policies = append(policies, *p)
	}
	return policies
}
