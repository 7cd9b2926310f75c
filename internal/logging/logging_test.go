package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONEntriesCarryPrefixAndFields(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelInfo, map[string]interface{}{"app": "fabrik"})
	SetFormat(FormatJSON)

	l := WithPrefix("a1b2c3").WithFields(map[string]interface{}{"host": "web"})
	l.Debug("hidden", nil)
	l.Info("cd /var/www && ls", map[string]interface{}{"exit": 0})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one entry, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	for k, want := range map[string]interface{}{"prefix": "a1b2c3", "host": "web", "app": "fabrik", "lvl": "info", "msg": "cd /var/www && ls"} {
		if entry[k] != want {
			t.Fatalf("field %s: expected %v, got %v", k, want, entry[k])
		}
	}
}

func TestTextFormatAndLevelChanges(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelWarn, nil)
	SetFormat(FormatText)

	l := WithPrefix("ff00aa")
	l.Info("skipped", nil)
	SetLevel(LevelDebug)
	l.Debug("shown", map[string]interface{}{"b": 2, "a": 1})

	out := buf.String()
	if strings.Contains(out, "skipped") {
		t.Fatalf("info must be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "DEBUG [ff00aa] shown a=1 b=2") {
		t.Fatalf("unexpected text line: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, "": LevelInfo, "WARNING": LevelWarn, "error": LevelError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
