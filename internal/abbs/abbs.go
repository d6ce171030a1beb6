// Package abbs derives build metadata from a checkout of the package
// tree: which architectures a package can build for, based on its
// autobuild defines.
package abbs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sumire/buildd/internal/domain"
)

// Tree is a read-only view over an abbs tree checkout.
type Tree struct {
	root     string
	mainline []string
}

// Open opens the tree rooted at path. An optional groups.yaml at the
// root may override the built-in mainline architecture group:
//
//	mainline: [amd64, arm64, ...]
func Open(root string) (*Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open abbs tree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open abbs tree: %s is not a directory", root)
	}

	t := &Tree{root: root, mainline: domain.SupportedArchitectures}

	data, err := os.ReadFile(filepath.Join(root, "groups.yaml"))
	if err == nil {
		var groups map[string][]string
		if err := yaml.Unmarshal(data, &groups); err != nil {
			return nil, fmt.Errorf("parse groups.yaml: %w", err)
		}
		if mainline, ok := groups[domain.ArchMainline]; ok && len(mainline) > 0 {
			sort.Strings(mainline)
			t.mainline = mainline
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read groups.yaml: %w", err)
	}

	return t, nil
}

var failArchExcept = regexp.MustCompile(`^!\(([^)]+)\)$`)

// Architectures returns the union of buildable architectures for the
// given packages, sorted. A package marked architecture-independent
// counts as amd64 only; a package without defines (or not found in the
// tree) counts as the full mainline set.
func (t *Tree) Architectures(packages []string) []string {
	union := make(map[string]struct{})
	for _, pkg := range packages {
		for _, arch := range t.packageArchitectures(pkg) {
			union[arch] = struct{}{}
		}
	}

	archs := make([]string, 0, len(union))
	for arch := range union {
		archs = append(archs, arch)
	}
	sort.Strings(archs)
	return archs
}

func (t *Tree) packageArchitectures(pkg string) []string {
	defines, err := t.findDefines(pkg)
	if err != nil {
		return t.mainline
	}

	vars := parseDefines(defines)

	if strings.Contains(vars["ABHOST"], "noarch") {
		return []string{"amd64"}
	}

	failArch, ok := vars["FAIL_ARCH"]
	if !ok || failArch == "" {
		return t.mainline
	}

	// FAIL_ARCH is either a plain list of failing architectures or the
	// inverted form !(a|b), meaning it fails everywhere except a and b.
	if m := failArchExcept.FindStringSubmatch(failArch); m != nil {
		allowed := strings.Split(m[1], "|")
		archs := make([]string, 0, len(allowed))
		for _, arch := range allowed {
			arch = strings.TrimSpace(arch)
			for _, known := range t.mainline {
				if known == arch {
					archs = append(archs, arch)
				}
			}
		}
		sort.Strings(archs)
		return archs
	}

	failing := make(map[string]struct{})
	for _, arch := range strings.FieldsFunc(failArch, func(r rune) bool {
		return r == ' ' || r == '|' || r == ','
	}) {
		failing[arch] = struct{}{}
	}

	archs := make([]string, 0, len(t.mainline))
	for _, arch := range t.mainline {
		if _, ok := failing[arch]; !ok {
			archs = append(archs, arch)
		}
	}
	return archs
}

// findDefines locates <root>/<section>/<pkg>/autobuild/defines by
// scanning section directories.
func (t *Tree) findDefines(pkg string) (string, error) {
	sections, err := os.ReadDir(t.root)
	if err != nil {
		return "", err
	}

	for _, section := range sections {
		if !section.IsDir() || strings.HasPrefix(section.Name(), ".") {
			continue
		}
		path := filepath.Join(t.root, section.Name(), pkg, "autobuild", "defines")
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
	}

	return "", domain.ErrNotFound
}

// parseDefines extracts simple VAR="value" assignments from an
// autobuild defines file. Quoting is stripped; anything fancier than a
// flat assignment is ignored.
func parseDefines(content string) map[string]string {
	vars := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		vars[strings.TrimSpace(key)] = value
	}
	return vars
}
