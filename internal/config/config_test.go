package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestFindFabfileSearchesParents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fabfile.yaml", "name: test\n")
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := FindFabfile(nested, FabfileNames)
	if err != nil {
		t.Fatalf("FindFabfile: %v", err)
	}
	want, _ := filepath.Abs(filepath.Join(dir, "fabfile.yaml"))
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFindFabfileMissing(t *testing.T) {
	_, err := FindFabfile(t.TempDir(), []string{"does-not-exist-fabfile.yaml"})
	if !errors.Is(err, ErrFabfileNotFound) {
		t.Fatalf("expected ErrFabfileNotFound, got %v", err)
	}
}

func TestReadConfigurationResolvesHostsAndSettings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "DEPLOY_USER=deployer\n")
	writeFile(t, dir, "fabfile.yaml", `
name: shop
hosts:
  default:
    port: 22
    host: localhost
    user: ${DEPLOY_USER}
  example1:
    inheritsFrom: default
    port: 23
  example2:
    inheritsFrom: example1
    user: example2
`)

	s, err := NewService(context.Background(), Options{WorkingDir: dir})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if s.Setting("name", "") != "shop" {
		t.Fatalf("expected setting name=shop, got %q", s.Setting("name", ""))
	}
	if s.Settings().Has("hosts") {
		t.Fatalf("hosts must not be exposed as a setting")
	}

	def, _ := s.RawHost("default")
	if def.String("user", "") != "deployer" {
		t.Fatalf(".env value not interpolated, got %q", def.String("user", ""))
	}
	ex2, err := s.RawHost("example2")
	if err != nil {
		t.Fatalf("RawHost: %v", err)
	}
	if ex2.Int("port", 0) != 23 || ex2.String("host", "") != "localhost" || ex2.String("user", "") != "example2" {
		t.Fatalf("unexpected example2: %v", ex2.ToMap())
	}
	if _, err := s.RawHost("missing"); !errors.Is(err, ErrHostNotFound) {
		t.Fatalf("expected ErrHostNotFound, got %v", err)
	}
}

func TestReadConfigurationRequiresNewerVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fabfile.yaml", "requires: 9.0.0\n")

	_, err := NewService(context.Background(), Options{WorkingDir: dir, Version: "1.2.0"})
	if !errors.Is(err, ErrMismatchedVersion) {
		t.Fatalf("expected ErrMismatchedVersion, got %v", err)
	}

	if _, err := NewService(context.Background(), Options{WorkingDir: dir, Version: "dev"}); err != nil {
		t.Fatalf("development builds skip the check, got %v", err)
	}
}

func TestHostFromBlueprint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fabfile.yaml", `
hosts:
  base:
    host: example.com
    user: web
  review:
    blueprint:
      inheritsFrom: base
      configName: review-%slug%
      rootFolder: /var/www/%identifier%
      variants:
        Feature-1:
          user: feature
`)
	s, err := NewService(context.Background(), Options{WorkingDir: dir})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	got, err := s.HostFromBlueprint(context.Background(), "review", "Feature-1")
	if err != nil {
		t.Fatalf("HostFromBlueprint: %v", err)
	}
	if got.String("configName", "") != "review-feature1" {
		t.Fatalf("unexpected configName %q", got.String("configName", ""))
	}
	if got.String("rootFolder", "") != "/var/www/Feature-1" {
		t.Fatalf("unexpected rootFolder %q", got.String("rootFolder", ""))
	}
	if got.String("host", "") != "example.com" || got.String("user", "") != "feature" {
		t.Fatalf("unexpected host data %v", got.ToMap())
	}
	if vs := s.AvailableVariants("review"); len(vs) != 1 || vs[0] != "Feature-1" {
		t.Fatalf("unexpected variants %v", vs)
	}
}

func TestParseArguments(t *testing.T) {
	got := ParseArguments([]string{"env=prod", "first", "second", "x=1=2"})
	if got["env"] != "prod" || got["x"] != "1=2" {
		t.Fatalf("named arguments not parsed: %v", got)
	}
	if got["unnamedArguments"] != "first,second" {
		t.Fatalf("unexpected unnamedArguments %q", got["unnamedArguments"])
	}
	if got["combined"] != "env=prod first second x=1=2" {
		t.Fatalf("unexpected combined %q", got["combined"])
	}
}
