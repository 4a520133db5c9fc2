// Package hosts maps local development domains to the loopback address in
// the system hosts file.
package hosts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/go-logr/logr"
)

// Loopback is the address domains are mapped to
const Loopback = "127.0.0.1"

// DefaultPath returns the hosts file of the current platform
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

// Editor appends missing loopback mappings to a hosts file
type Editor struct {
	Path string
	log  logr.Logger
}

// NewEditor creates an Editor for path
func NewEditor(path string, log logr.Logger) *Editor {
	return &Editor{Path: path, log: log.WithName("hosts")}
}

// Ensure appends "127.0.0.1 <domain>" for every domain that has no loopback
// mapping yet and returns the domains it added. Existing lines are never
// rewritten.
func (e *Editor) Ensure(ctx context.Context, domains []string) ([]string, error) {
	content, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}
	mapped := loopbackNames(content)

	e.log.Info("Updating hosts file", "path", e.Path, "domains", len(domains))

	var buf bytes.Buffer
	var added []string
	for _, domain := range domains {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		domain = strings.TrimSpace(domain)
		if domain == "" {
			continue
		}
		line := Loopback + " " + domain
		if mapped[strings.ToLower(domain)] {
			e.log.Info("Domain mapping already exists", "line", line)
			continue
		}
		e.log.Info("Adding domain mapping", "line", line)
		buf.WriteString(line + "\n")
		mapped[strings.ToLower(domain)] = true
		added = append(added, domain)
	}

	if len(added) == 0 {
		return nil, nil
	}

	f, err := os.OpenFile(e.Path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open hosts file: %w", err)
	}
	defer f.Close()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			return nil, fmt.Errorf("failed to write hosts file: %w", err)
		}
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write hosts file: %w", err)
	}
	return added, nil
}

// loopbackNames returns the lower-cased host names mapped to 127.0.0.1
func loopbackNames(content []byte) map[string]bool {
	names := map[string]bool{}
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != Loopback {
			continue
		}
		for _, name := range fields[1:] {
			names[strings.ToLower(name)] = true
		}
	}
	return names
}
