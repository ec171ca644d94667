/*
Copyright 2011 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gpgagent speaks the gpg-agent Assuan protocol well enough to
// ask it for a cached (or freshly prompted) passphrase, so the gpg
// cipher pipeline can unlock a signing key without shelling out to gpg
// itself.
package gpgagent

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ErrNoAgent is returned when no running gpg-agent could be found, via
// either GPG_AGENT_INFO or the default socket path.
var ErrNoAgent = errors.New("gpgagent: no gpg-agent found")

// ErrCancel is returned when the user cancels the passphrase prompt.
var ErrCancel = errors.New("gpgagent: canceled")

// PassphraseRequest describes one GET_PASSPHRASE exchange.
type PassphraseRequest struct {
	CacheKey string
	Prompt   string
	Desc     string
	Error    string // set on retry, to surface why the prior attempt failed
}

// Conn is an open connection to a running gpg-agent.
type Conn struct {
	c  net.Conn
	br *bufio.Reader
}

// NewConn dials the local gpg-agent, trying GPG_AGENT_INFO first (older
// gpg-agent versions exporting a unix-socket triplet) and falling back
// to the conventional socket path under the user's GnuPG home directory.
func NewConn() (*Conn, error) {
	addr := socketPath()
	if addr == "" {
		return nil, ErrNoAgent
	}
	c, err := net.Dial("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("gpgagent: dialing %s: %w", addr, err)
	}
	conn := &Conn{c: c, br: bufio.NewReader(c)}
	line, err := conn.readLine()
	if err != nil {
		c.Close()
		return nil, err
	}
	if !strings.HasPrefix(line, "OK") {
		c.Close()
		return nil, fmt.Errorf("gpgagent: unexpected greeting %q", line)
	}
	return conn, nil
}

func socketPath() string {
	if info := os.Getenv("GPG_AGENT_INFO"); info != "" {
		parts := strings.SplitN(info, ":", 2)
		if parts[0] != "" {
			return parts[0]
		}
	}
	home := os.Getenv("GNUPGHOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h + "/.gnupg"
		}
	}
	if home == "" {
		return ""
	}
	path := home + "/S.gpg-agent"
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (c *Conn) readLine() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Conn) command(cmd string) (string, error) {
	if _, err := fmt.Fprintf(c.c, "%s\n", cmd); err != nil {
		return "", err
	}
	return c.readLine()
}

func (c *Conn) setOption(opt string) error {
	if opt == "" {
		return nil
	}
	line, err := c.command("OPTION " + opt)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "OK") {
		return fmt.Errorf("gpgagent: OPTION %s: %s", opt, line)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.c.Close()
}

// GetPassphrase asks gpg-agent for the passphrase identified by
// req.CacheKey, prompting the user through whichever pinentry program
// gpg-agent is configured to use if it is not already cached.
func (c *Conn) GetPassphrase(req *PassphraseRequest) (string, error) {
	if d := os.Getenv("DISPLAY"); d != "" {
		_ = c.setOption("display=" + d)
	}
	if tty, err := os.Readlink("/proc/self/fd/0"); err == nil {
		_ = c.setOption("ttyname=" + tty)
	}
	_ = c.setOption("ttytype=" + os.Getenv("TERM"))

	errField := req.Error
	if errField == "" {
		errField = "+"
	}
	cmd := fmt.Sprintf("GET_PASSPHRASE %s %s %s %s",
		assuanEscape(req.CacheKey), assuanEscape(errField), assuanEscape(req.Prompt), assuanEscape(req.Desc))
	line, err := c.command(cmd)
	if err != nil {
		return "", err
	}
	switch {
	case strings.HasPrefix(line, "OK "):
		return assuanUnescape(line[len("OK "):]), nil
	case strings.HasPrefix(line, "ERR "):
		if strings.Contains(line, "83886179") || strings.Contains(line, "Operation cancelled") {
			return "", ErrCancel
		}
		return "", fmt.Errorf("gpgagent: %s", line)
	default:
		return "", fmt.Errorf("gpgagent: unexpected response %q", line)
	}
}

// RemoveFromCache evicts cacheKey from gpg-agent's passphrase cache, so
// a subsequent GetPassphrase re-prompts instead of replaying a passphrase
// that just failed to decrypt the key.
func (c *Conn) RemoveFromCache(cacheKey string) {
	_, _ = c.command("CLEAR_PASSPHRASE " + assuanEscape(cacheKey))
}

func assuanEscape(s string) string {
	if s == "" {
		return "X"
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ':
			b.WriteString("%20")
		case '%':
			b.WriteString("%25")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func assuanUnescape(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "%20", " "), "%25", "%")
}
