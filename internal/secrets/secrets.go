// Package secrets resolves %secret.NAME% references from the environment,
// an age encrypted secrets file or an interactive prompt.
package secrets

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/manifoldco/promptui"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"fabrik/internal/config"
	"fabrik/internal/logging"
)

var ErrSecretNotFound = errors.New("secret not found")

// EnvPrefix is prepended to the upper cased secret name when looking it up
// in the process environment.
const EnvPrefix = "FABRIK_SECRET_"

var secretRe = regexp.MustCompile(`%secret\.([A-Za-z0-9_\-]+)%`)

type Options struct {
	// File is the encrypted secrets file, relative paths are resolved
	// against Dir.
	File string
	Dir  string
	// IdentityFile holds the age identities able to decrypt File.
	IdentityFile string
	// Declared is the `secrets` section of the fabfile.
	Declared *config.Node
	// Prompt asks the user for a value. Nil disables prompting.
	Prompt func(question string) (string, error)
}

// Store caches every secret resolved during one invocation.
type Store struct {
	opts Options

	mu     sync.Mutex
	values map[string]string
	file   map[string]string
	loaded bool
}

func NewStore(opts Options) *Store {
	return &Store{opts: opts, values: map[string]string{}}
}

// TerminalPrompt asks with a masked promptui prompt when stdin is a
// terminal and returns nil otherwise.
func TerminalPrompt() func(string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return func(question string) (string, error) {
		p := promptui.Prompt{Label: question, Mask: '*'}
		return p.Run()
	}
}

// EnvName returns the environment variable consulted for name.
func EnvName(name string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Get returns the value of the secret name.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[name]; ok {
		return v, nil
	}
	v, err := s.lookup(name)
	if err != nil {
		return "", err
	}
	s.values[name] = v
	return v, nil
}

func (s *Store) lookup(name string) (string, error) {
	if v, ok := os.LookupEnv(EnvName(name)); ok {
		return v, nil
	}
	if err := s.loadFile(); err != nil {
		return "", err
	}
	if v, ok := s.file[name]; ok {
		return v, nil
	}
	question := s.opts.Declared.String(name+".question", "")
	if question != "" && s.opts.Prompt != nil {
		v, err := s.opts.Prompt(question)
		if err != nil {
			return "", fmt.Errorf("reading secret %s: %w", name, err)
		}
		return v, nil
	}
	return "", fmt.Errorf("%w: %s (set %s or add it to %s)", ErrSecretNotFound, name, EnvName(name), s.path())
}

func (s *Store) path() string {
	if s.opts.File == "" || filepath.IsAbs(s.opts.File) {
		return s.opts.File
	}
	return filepath.Join(s.opts.Dir, s.opts.File)
}

func (s *Store) loadFile() error {
	if s.loaded {
		return nil
	}
	s.loaded = true
	s.file = map[string]string{}
	path := s.path()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading secrets file: %w", err)
	}
	identities, err := readIdentities(s.opts.IdentityFile)
	if err != nil {
		return err
	}
	plain, err := Decrypt(data, identities...)
	if err != nil {
		return fmt.Errorf("decrypting %s: %w", path, err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(plain, &values); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	s.file = values
	logging.Debug("loaded secrets file", map[string]interface{}{"file": path, "count": len(values)})
	return nil
}

func readIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading age identity: %w", err)
	}
	defer f.Close()
	ids, err := age.ParseIdentities(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity %s: %w", path, err)
	}
	return ids, nil
}

// Decrypt opens an age file, armored or binary.
func Decrypt(data []byte, identities ...age.Identity) ([]byte, error) {
	var src io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header)) {
		src = armor.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	}
	r, err := age.Decrypt(src, identities...)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Encrypt seals plaintext to the given age recipients as an armored file.
func Encrypt(plaintext []byte, recipients ...string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, r := range recipients {
		rec, err := age.ParseX25519Recipient(r)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", r, err)
		}
		parsed = append(parsed, rec)
	}
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, parsed...)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if err := aw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ResolveSecrets replaces every %secret.NAME% in text.
func (s *Store) ResolveSecrets(ctx context.Context, text string) (string, error) {
	var firstErr error
	out := secretRe.ReplaceAllStringFunc(text, func(m string) string {
		if firstErr != nil {
			return m
		}
		name := secretRe.FindStringSubmatch(m)[1]
		v, err := s.Get(ctx, name)
		if err != nil {
			firstErr = err
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Names returns the secret names referenced in text.
func Names(text string) []string {
	var out []string
	for _, m := range secretRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}
