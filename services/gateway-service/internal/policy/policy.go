// Package policy maps request paths to upstream services and the role a
// caller needs to reach them.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hoaht-8203/courtops/libs/httpx"
	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultRoutes []byte

type Access string

const (
	Public   Access = "public"
	Customer Access = "customer"
	Staff    Access = "staff"
	Admin    Access = "admin"
)

func (a Access) valid() bool {
	switch a {
	case Public, Customer, Staff, Admin:
		return true
	}
	return false
}

// Allows reports whether role may use a route requiring a. Customer routes
// are open to any signed-in account.
func (a Access) Allows(role string) bool {
	switch a {
	case Public:
		return true
	case Customer:
		return role == httpx.RoleCustomer || role == httpx.RoleStaff || role == httpx.RoleAdmin
	case Staff:
		return role == httpx.RoleStaff || role == httpx.RoleAdmin
	case Admin:
		return role == httpx.RoleAdmin
	}
	return false
}

type Rule struct {
	Method string `yaml:"method"`
	Prefix string `yaml:"prefix"`
	Exact  string `yaml:"exact"`
	Access Access `yaml:"access"`
}

func (r Rule) matches(method, path string) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	if r.Exact != "" {
		return path == r.Exact || path == r.Exact+"/"
	}
	return underPrefix(path, r.Prefix)
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

type route struct {
	prefix   string
	upstream string
}

type Table struct {
	rules   []Rule
	def     Access
	routes  []route
	targets []string
}

type file struct {
	Upstreams map[string][]string `yaml:"upstreams"`
	Default   Access              `yaml:"default"`
	Rules     []Rule              `yaml:"rules"`
}

func Default() (*Table, error) {
	return Load(defaultRoutes)
}

// Load parses a route table. Every prefix must belong to one upstream.
func Load(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	if f.Default == "" {
		f.Default = Staff
	}
	if !f.Default.valid() {
		return nil, fmt.Errorf("unknown default access %q", f.Default)
	}
	t := &Table{def: f.Default}
	owner := map[string]string{}
	for name, prefixes := range f.Upstreams {
		t.targets = append(t.targets, name)
		for _, p := range prefixes {
			if !strings.HasPrefix(p, "/") {
				return nil, fmt.Errorf("upstream %s: prefix %q must start with /", name, p)
			}
			if prev, dup := owner[p]; dup {
				return nil, fmt.Errorf("prefix %s claimed by %s and %s", p, prev, name)
			}
			owner[p] = name
			t.routes = append(t.routes, route{prefix: p, upstream: name})
		}
	}
	if len(t.routes) == 0 {
		return nil, errors.New("no upstreams defined")
	}
	// Longest prefix first so nested prefixes win.
	sort.Slice(t.routes, func(i, j int) bool { return len(t.routes[i].prefix) > len(t.routes[j].prefix) })
	sort.Strings(t.targets)

	for i, r := range f.Rules {
		if (r.Prefix == "") == (r.Exact == "") {
			return nil, fmt.Errorf("rule %d: exactly one of prefix or exact is required", i)
		}
		if !r.Access.valid() {
			return nil, fmt.Errorf("rule %d: unknown access %q", i, r.Access)
		}
		t.rules = append(t.rules, r)
	}
	return t, nil
}

// Access returns what a request for method and path requires.
func (t *Table) Access(method, path string) Access {
	for _, r := range t.rules {
		if r.matches(method, path) {
			return r.Access
		}
	}
	return t.def
}

// Upstream names the service owning path.
func (t *Table) Upstream(path string) (string, bool) {
	for _, r := range t.routes {
		if underPrefix(path, r.prefix) {
			return r.upstream, true
		}
	}
	return "", false
}

// Upstreams lists every service name in the table.
func (t *Table) Upstreams() []string {
	return append([]string(nil), t.targets...)
}
