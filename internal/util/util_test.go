package util

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStripANSI(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain text", "plain text"},
		{"\x1b[1;32mgreen\x1b[0m", "green"},
		{"\x1b]0;title\x07prompt$ ", "prompt$ "},
		{"\x1b]8;;http://x\x1b\\link\x1b]8;;\x1b\\", "link"},
		{"a\tb\r\x07", "a\tb"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StripANSI(c.in), "%q", c.in)
	}
}

func TestSplitScriptLines(t *testing.T) {
	got := SplitScriptLines(`
    cd /var/www
    composer install \
      --no-dev

    echo done
`)
	assert.Equal(t, []string{"cd /var/www", "composer install --no-dev", "echo done"}, got)
}

func TestRunAllBoundsConcurrency(t *testing.T) {
	var running, peak int32
	task := func(ctx context.Context) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}
	failing := func(ctx context.Context) error { return errors.New("boom") }

	errs := RunAll(context.Background(), []ConcurrentTask{task, task, failing, task, task}, 2)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.NoError(t, errs[0])
	assert.EqualError(t, errs[2], "boom")
}

func TestLocalToRemote(t *testing.T) {
	assert.Equal(t, "/var/www/web/index.php", LocalToRemote("/home/me/project", "/var/www", "/home/me/project/web/index.php"))
	assert.Equal(t, "/var/www/dump.sql", LocalToRemote("/home/me/project", "/var/www", "/tmp/dump.sql"))
}

func TestPrinterDropsOutputWhileSuspended(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{}
	p.SetOutput(&buf)

	p.Printf("before %d\n", 1)
	p.Suspend()
	p.Printf("hidden\n")
	p.Resume()
	p.Printf("after\n")

	assert.Equal(t, "before 1\nafter\n", buf.String())
}
