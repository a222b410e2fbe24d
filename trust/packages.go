// Package trust decides whether a uid may receive elevated capabilities.
//
// A uid is trusted when it belongs to a package of the system package
// registry whose name appears in the allow-list kept by the granter
// package.
package trust

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMalformedRegistry is returned when a registry line has fewer than four
// fields. The whole registry is rejected in that case.
var ErrMalformedRegistry = errors.New("malformed package registry")

// Package is one line of the package registry:
//
//	name uid debuggable dataDir [seinfo]
type Package struct {
	Name       string
	UID        int
	Debuggable bool
	DataDir    string
	// SEInfo is empty on releases that do not write it
	SEInfo string
}

// Registry is the parsed package registry.
type Registry struct {
	Packages []Package
}

// ParseRegistry reads a registry. Blank lines are skipped.
func ParseRegistry(r io.Reader) (*Registry, error) {
	reg := &Registry{}
	s := bufio.NewScanner(r)
	line := 0
	for s.Scan() {
		line++
		fields := strings.Fields(s.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 4 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrMalformedRegistry, line, len(fields))
		}
		uid, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: uid %q", ErrMalformedRegistry, line, fields[1])
		}
		p := Package{
			Name:       fields[0],
			UID:        uid,
			Debuggable: fields[2] == "1",
			DataDir:    fields[3],
		}
		if len(fields) > 4 {
			p.SEInfo = fields[4]
		}
		reg.Packages = append(reg.Packages, p)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadRegistry parses the registry at path.
func LoadRegistry(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseRegistry(f)
}

// FindByName returns the first package called name.
func (r *Registry) FindByName(name string) (Package, bool) {
	for _, p := range r.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return Package{}, false
}

// FindByUID returns the first package owning uid. Packages sharing a uid
// resolve to the one listed first.
func (r *Registry) FindByUID(uid int) (Package, bool) {
	for _, p := range r.Packages {
		if p.UID == uid {
			return p, true
		}
	}
	return Package{}, false
}

// AllowList is the set of package names the granter approved.
type AllowList map[string]struct{}

// ParseAllowList reads one package name per line.
func ParseAllowList(r io.Reader) (AllowList, error) {
	l := AllowList{}
	s := bufio.NewScanner(r)
	for s.Scan() {
		name := strings.TrimSpace(s.Text())
		if name == "" {
			continue
		}
		l[name] = struct{}{}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

// LoadAllowList parses the allow-list at path. A missing file is an empty
// list.
func LoadAllowList(path string) (AllowList, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return AllowList{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseAllowList(f)
}

// Contains reports whether name was granted.
func (l AllowList) Contains(name string) bool {
	_, ok := l[name]
	return ok
}
