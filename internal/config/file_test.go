package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domdrive.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.LogLevel != "info" || c.Browser.Stealth != "headless" || c.Browser.StartURL != "about:blank" {
		t.Fatalf("defaults: got %+v", c)
	}
	if !*c.Browser.IgnoreCertErrors {
		t.Fatal("ignore_cert_errors: want true by default")
	}
	if c.Sequence.AssertionTimeout != 5*time.Second || c.Sequence.LoadWait != 5*time.Second || c.Sequence.EventBuffer != 256 {
		t.Fatalf("sequence defaults: got %+v", c.Sequence)
	}
	if c.Server.Transport != "stdio" || c.Server.Addr != ":8086" || c.Server.MaxConns != 64 {
		t.Fatalf("server defaults: got %+v", c.Server)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
log_level: debug
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/x
  stealth: headful
  resource_blocking: [images, fonts]
  ignore_cert_errors: false
sequence:
  assertion_timeout: 2s
  event_buffer: 32
screenshots:
  dir: /var/lib/domdrive/shots
server:
  transport: http
  addr: 127.0.0.1:9000
`)
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.LogLevel != "debug" || c.Browser.Stealth != "headful" || len(c.Browser.ResourceBlocking) != 2 {
		t.Fatalf("browser: got %+v", c.Browser)
	}
	if *c.Browser.IgnoreCertErrors {
		t.Fatal("ignore_cert_errors: explicit false overridden")
	}
	if c.Sequence.AssertionTimeout != 2*time.Second || c.Sequence.EventBuffer != 32 {
		t.Fatalf("sequence: got %+v", c.Sequence)
	}
	if c.Sequence.LoadWait != 5*time.Second {
		t.Fatalf("load_wait default: got %v", c.Sequence.LoadWait)
	}
	if c.Screenshots.Dir != "/var/lib/domdrive/shots" {
		t.Fatalf("screenshots.dir: got %q", c.Screenshots.Dir)
	}
	if c.Server.Transport != "http" || c.Server.Addr != "127.0.0.1:9000" || c.Server.MaxConns != 64 {
		t.Fatalf("server: got %+v", c.Server)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":      "browser: [",
		"bad stealth":   "browser: {stealth: invisible}",
		"bad transport": "server: {transport: carrier-pigeon}",
		"bad level":     "log_level: loud",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFile(writeFile(t, body)); err == nil {
				t.Fatal("LoadFile: want error")
			}
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("LoadFile: got %v, want not-exist", err)
	}
}
