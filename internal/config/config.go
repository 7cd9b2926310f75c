package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"
	"github.com/joho/godotenv"

	"fabrik/internal/logging"
	"fabrik/internal/util"
)

var printer = util.Default

// FabfileNames are tried in order while searching for a configuration.
var FabfileNames = []string{"fabfile.yaml", "fabfile.yml", ".fabfile.yaml"}

// reservedKeys are top-level keys that are not exposed as settings.
var reservedKeys = map[string]bool{
	NamespaceHosts:       true,
	NamespaceDockerHosts: true,
	KeyBlueprints:        true,
	"scripts":            true,
}

type Options struct {
	// Fabfile is an explicit path; when empty the search starts at WorkingDir.
	Fabfile    string
	WorkingDir string
	// Names overrides FabfileNames during the search.
	Names       []string
	Offline     bool
	CacheDir    string
	HTTPTimeout time.Duration
	// Version of the running binary, checked against `requires`.
	Version string
	// Loader overrides the default file + HTTP loader.
	Loader Loader
}

// Service owns one fully resolved fabfile.
type Service struct {
	opts        Options
	fabfilePath string
	doc         *Node
	settings    *Node
	disallow    []string
	resolver    *Resolver
	blueprints  *BlueprintExpander
}

// NewService finds, loads and resolves the fabfile described by opts.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	s := &Service{opts: opts}
	if err := s.ReadConfiguration(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// FindFabfile searches dir and its parents for one of names.
func FindFabfile(dir string, names []string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for cur := abs; ; {
		for _, n := range names {
			candidate := filepath.Join(cur, n)
			if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", &FabfileNotFoundError{Dir: abs}
		}
		cur = parent
	}
}

func (s *Service) ReadConfiguration(ctx context.Context) error {
	path := s.opts.Fabfile
	if path == "" {
		wd := s.opts.WorkingDir
		if wd == "" {
			wd, _ = os.Getwd()
		}
		names := s.opts.Names
		if len(names) == 0 {
			names = FabfileNames
		}
		found, err := FindFabfile(wd, names)
		if err != nil {
			return err
		}
		path = found
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	s.fabfilePath = abs
	dir := filepath.Dir(abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return &SourceNotFoundError{Ref: abs, Err: err}
	}
	envMap, _ := loadDotEnvIfExists(dir)
	root, err := ParseYAML(abs, []byte(InterpolateEnv(string(data), envMap)))
	if err != nil {
		return err
	}
	if err := checkRequires(root.String("requires", ""), s.opts.Version); err != nil {
		return err
	}

	s.disallow = root.Strings("disallowDeepMergeForKeys")
	loader := s.opts.Loader
	if loader == nil {
		loader = &MultiLoader{
			File: FileLoader{},
			HTTP: NewHTTPLoader(s.opts.CacheDir, s.opts.HTTPTimeout, s.opts.Offline),
		}
	}
	s.resolver = NewResolver(loader, s.disallow...)

	logging.Info("resolving configuration", map[string]interface{}{"fabfile": abs})
	resolved, err := s.resolver.ResolveDocument(ctx, root, dir)
	if err != nil {
		return fmt.Errorf("could not resolve %s: %w", abs, err)
	}
	expanded, err := NewBlueprintExpander(resolved, s.disallow...).ExpandDocument()
	if err != nil {
		return fmt.Errorf("could not expand blueprints of %s: %w", abs, err)
	}
	s.doc = expanded
	s.blueprints = NewBlueprintExpander(expanded, s.disallow...)

	s.settings = NewNode()
	expanded.Iterate(func(k string, v any) bool {
		if !reservedKeys[k] {
			s.settings.Set(k, v)
		}
		return true
	})
	return nil
}

// loadDotEnvIfExists attempts to load a .env file from the directory of the
// fabfile. A missing or broken file yields an empty map.
func loadDotEnvIfExists(dir string) (map[string]string, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return map[string]string{}, nil
	}

	m, err := godotenv.Read(envPath)
	if err != nil {
		printer.Printf("⚠️  Failed to parse .env at %s: %v\n", envPath, err)
		return map[string]string{}, err
	}
	return m, nil
}

func checkRequires(required, actual string) error {
	if required == "" || actual == "" {
		return nil
	}
	current, err := version.NewVersion(actual)
	if err != nil {
		// development builds carry no comparable version
		return nil
	}
	constraint, err := version.NewConstraint(">= " + required)
	if err != nil {
		return fmt.Errorf("invalid `requires` value %q: %w", required, err)
	}
	if !constraint.Check(current) {
		return &MismatchedVersionError{Required: required, Actual: actual}
	}
	return nil
}

func (s *Service) FabfilePath() string { return s.fabfilePath }

func (s *Service) FabfileDir() string { return filepath.Dir(s.fabfilePath) }

func (s *Service) IsOffline() bool { return s.opts.Offline }

func (s *Service) DisallowDeepMerge() []string { return s.disallow }

// Document returns the resolved document. Callers must not modify it.
func (s *Service) Document() *Node { return s.doc }

// Settings returns every top-level key that is not a host or script section.
func (s *Service) Settings() *Node { return s.settings }

func (s *Service) Setting(path, def string) string { return s.settings.String(path, def) }

func (s *Service) SettingValue(path string) (any, bool) { return s.settings.Lookup(path) }

func (s *Service) HostNames() []string { return s.doc.Child(NamespaceHosts).Keys() }

// RawHost returns a copy of the resolved host entry.
func (s *Service) RawHost(name string) (*Node, error) {
	section := s.doc.Child(NamespaceHosts)
	if !section.Has(name) {
		return nil, &HostNotFoundError{Name: name}
	}
	entry := section.Child(name)
	if entry == nil {
		return NewNode(), nil
	}
	return entry.Clone(), nil
}

// DockerConfig returns a copy of the resolved dockerHosts entry.
func (s *Service) DockerConfig(name string) (*Node, error) {
	entry := s.doc.Child(NamespaceDockerHosts).Child(name)
	if entry == nil {
		return nil, &ReferenceNotFoundError{Ref: name, Namespace: NamespaceDockerHosts}
	}
	return entry.Clone(), nil
}

// Scripts returns the global script section.
func (s *Service) Scripts() *Node { return s.doc.Child("scripts") }

func (s *Service) AvailableVariants(configName string) []string {
	return s.blueprints.AvailableVariants(configName)
}

// HostFromBlueprint expands the blueprint of configName (or the general
// blueprint when configName is empty) for variant and resolves the result's
// own `inheritsFrom` against the document.
func (s *Service) HostFromBlueprint(ctx context.Context, configName, variant string) (*Node, error) {
	ref := "general"
	if configName != "" {
		ref = "host:" + configName
	}
	bp, err := s.blueprints.Blueprint(ref)
	if err != nil {
		return nil, err
	}
	expanded := s.blueprints.Expand(bp, variant)
	resolved, err := s.resolver.Resolve(ctx, expanded, s.doc, []string{ref + "@" + variant}, s.FabfileDir())
	if err != nil {
		return nil, err
	}
	if resolved.String("configName", "") == "" {
		resolved.Set("configName", variant)
	}
	return resolved, nil
}

// Replacements returns the %settings.*% and %host.*% placeholders for host.
func (s *Service) Replacements(host *Node) Replacements {
	return ExpandVariables(map[string]*Node{"settings": s.settings, "host": host})
}

// ParseArguments splits `key=value` pairs and bare words. The result holds
// every named argument plus `unnamedArguments` (comma joined) and `combined`
// (all words space joined).
func ParseArguments(args []string) map[string]string {
	out := map[string]string{}
	var unnamed []string
	for _, a := range args {
		if k, v, ok := strings.Cut(a, "="); ok && k != "" {
			out[k] = v
			continue
		}
		unnamed = append(unnamed, a)
	}
	out["unnamedArguments"] = strings.Join(unnamed, ",")
	out["combined"] = strings.Join(args, " ")
	return out
}
