// Package pkgscan parses package references out of install commands and
// manifests and scores them against registry metadata. It is the
// supply-chain half of the evaluation pipeline: a package that does not
// exist, was published days ago, or whose artifact hash is known malware
// becomes a decision signal.
package pkgscan

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Package identifies one package reference parsed from a command or
// manifest.
type Package struct {
	Name     string `json:"name"`
	Registry string `json:"registry"` // npm or pypi
	Version  string `json:"version,omitempty"`
}

// Key returns the verdict-cache key for the package:
// "registry:name" or "registry:name@version".
func (p Package) Key() string {
	if p.Version != "" {
		return p.Registry + ":" + p.Name + "@" + p.Version
	}
	return p.Registry + ":" + p.Name
}

// Manifest file names the extractor understands.
const (
	manifestPackageJSON  = "package.json"
	manifestRequirements = "requirements.txt"
	manifestPyproject    = "pyproject.toml"
)

// installVerbs maps a package-manager invocation to its registry. The verb is
// the manager name followed by its install subcommand.
var installVerbs = map[string]string{
	"npm install":  "npm",
	"npm i":        "npm",
	"yarn add":     "npm",
	"pnpm add":     "npm",
	"pnpm install": "npm",
	"pip install":  "pypi",
	"pip3 install": "pypi",
}

// flagWithValue lists installer flags that consume the following token.
var flagWithValue = map[string]bool{
	"-r": true, "--requirement": true,
	"-i": true, "--index-url": true,
	"--registry": true, "--prefix": true,
}

// FromCommand parses package references out of a shell command. The command
// may chain several installs with && or ; — each segment is inspected
// independently. Scoped npm packages (@scope/name) are skipped: they are
// treated as private.
func FromCommand(cmd string) []Package {
	var out []Package
	seen := make(map[string]struct{})

	for _, segment := range splitSegments(cmd) {
		tokens := strings.Fields(segment)
		registry, rest := matchInstall(tokens)
		if registry == "" {
			continue
		}
		skipNext := false
		for _, tok := range rest {
			if skipNext {
				skipNext = false
				continue
			}
			if strings.HasPrefix(tok, "-") {
				skipNext = flagWithValue[tok]
				continue
			}
			p, ok := parseRef(tok, registry)
			if !ok {
				continue
			}
			if _, dup := seen[p.Key()]; dup {
				continue
			}
			seen[p.Key()] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// splitSegments breaks a command on the common chaining operators.
var segmentSplit = regexp.MustCompile(`&&|\|\||;|\|`)

func splitSegments(cmd string) []string {
	return segmentSplit.Split(cmd, -1)
}

// matchInstall recognises an installer invocation at the start of a command
// segment, tolerating leading env assignments and sudo. It returns the
// registry and the tokens following the install verb.
func matchInstall(tokens []string) (string, []string) {
	// Skip env assignments and sudo.
	i := 0
	for i < len(tokens) && (tokens[i] == "sudo" || strings.Contains(tokens[i], "=")) {
		i++
	}
	if i+1 >= len(tokens) {
		return "", nil
	}
	verb := tokens[i] + " " + tokens[i+1]
	registry, ok := installVerbs[verb]
	if !ok {
		return "", nil
	}
	return registry, tokens[i+2:]
}

// parseRef parses one package token into a Package. Returns false for scoped
// npm names, URLs, and local paths.
func parseRef(tok, registry string) (Package, bool) {
	if strings.HasPrefix(tok, "@") {
		return Package{}, false // scoped: treated as private
	}
	if strings.Contains(tok, "://") || strings.HasPrefix(tok, ".") || strings.HasPrefix(tok, "/") {
		return Package{}, false
	}

	name, version := tok, ""
	switch registry {
	case "npm":
		if i := strings.LastIndexByte(tok, '@'); i > 0 {
			name, version = tok[:i], tok[i+1:]
		}
	case "pypi":
		for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<"} {
			if i := strings.Index(tok, sep); i > 0 {
				name, version = tok[:i], ""
				if sep == "==" {
					version = tok[i+2:]
				}
				break
			}
		}
		// Strip extras: requests[socks].
		if i := strings.IndexByte(name, '['); i > 0 {
			name = name[:i]
		}
	}
	if name == "" {
		return Package{}, false
	}
	return Package{Name: name, Registry: registry, Version: version}, true
}

// FromManifest parses package references out of a known manifest file. The
// path selects the format; unknown manifests yield nil.
func FromManifest(path, content string) []Package {
	base := path
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		base = path[i+1:]
	}
	switch base {
	case manifestPackageJSON:
		return fromPackageJSON(content)
	case manifestRequirements:
		return fromRequirements(content)
	case manifestPyproject:
		return fromPyproject(content)
	default:
		return nil
	}
}

// fromPackageJSON reads dependencies and devDependencies.
func fromPackageJSON(content string) []Package {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &manifest); err != nil {
		return nil
	}

	var out []Package
	for _, deps := range []map[string]string{manifest.Dependencies, manifest.DevDependencies} {
		for name, version := range deps {
			if strings.HasPrefix(name, "@") {
				continue
			}
			out = append(out, Package{Name: name, Registry: "npm", Version: cleanSemverRange(version)})
		}
	}
	return out
}

// cleanSemverRange strips range operators from a semver expression, keeping
// the concrete version when there is one.
func cleanSemverRange(v string) string {
	v = strings.TrimLeft(v, "^~>=< ")
	if strings.ContainsAny(v, " *x|") {
		return ""
	}
	return v
}

// fromRequirements reads a pip requirements.txt.
func fromRequirements(content string) []Package {
	var out []Package
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if p, ok := parseRef(line, "pypi"); ok {
			out = append(out, p)
		}
	}
	return out
}

// pyprojectDep matches quoted dependency strings inside a pyproject
// dependencies array.
var pyprojectDep = regexp.MustCompile(`"([A-Za-z0-9._-]+(?:\[[^\]]*\])?(?:[=<>~!]=?[^"]*)?)"`)

// fromPyproject reads the [project] dependencies list. The parse is
// line-oriented: it collects quoted strings between the dependencies
// bracket and its closing bracket.
func fromPyproject(content string) []Package {
	var out []Package
	inDeps := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inDeps {
			if strings.HasPrefix(trimmed, "dependencies") && strings.Contains(trimmed, "[") {
				inDeps = true
				if strings.Contains(trimmed, "]") {
					out = append(out, pyprojectLine(trimmed)...)
					inDeps = false
				}
			}
			continue
		}
		out = append(out, pyprojectLine(trimmed)...)
		if strings.Contains(trimmed, "]") {
			inDeps = false
		}
	}
	return out
}

// pyprojectLine extracts dependency refs from one line.
func pyprojectLine(line string) []Package {
	var out []Package
	for _, m := range pyprojectDep.FindAllStringSubmatch(line, -1) {
		if p, ok := parseRef(m[1], "pypi"); ok {
			out = append(out, p)
		}
	}
	return out
}
