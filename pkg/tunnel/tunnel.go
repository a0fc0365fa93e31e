// Package tunnel reaches a NetBox that only listens on a lab host's loopback
// by forwarding a local port through SSH.
package tunnel

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/newtron-network/nbseed/pkg/util"
)

// Config describes the SSH hop.
type Config struct {
	Target   string // user@host[:port]
	Remote   string // address dialed from the SSH host, e.g. 127.0.0.1:8000
	Password string
	KeyFile  string // private key; empty tries ~/.ssh/id_ed25519 and ~/.ssh/id_rsa
	Timeout  time.Duration

	// KnownHosts is checked when set or when ~/.ssh/known_hosts exists;
	// otherwise host keys are accepted unverified.
	KnownHosts string
}

// ParseTarget splits user@host[:port]; the user defaults to $USER and the
// port to 22.
func ParseTarget(target string) (user, addr string, err error) {
	host := target
	if i := strings.LastIndex(target, "@"); i >= 0 {
		user, host = target[:i], target[i+1:]
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	if host == "" {
		return "", "", fmt.Errorf("ssh target %q: missing host", target)
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "22")
	}
	return user, host, nil
}

// RemoteAddr returns host:port of a NetBox URL, defaulting the port from the
// scheme.
func RemoteAddr(netboxURL string) (string, error) {
	u, err := url.Parse(netboxURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", netboxURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// ForwardURL points netboxURL at the tunnel's local address, keeping the
// scheme and path.
func ForwardURL(netboxURL, localAddr string) (string, error) {
	u, err := url.Parse(netboxURL)
	if err != nil {
		return "", err
	}
	u.Host = localAddr
	return u.String(), nil
}

// Tunnel forwards a local TCP port to a remote address through an SSH
// connection.
type Tunnel struct {
	localAddr string // "127.0.0.1:<port>"
	remote    string
	client    *ssh.Client
	listener  net.Listener
	done      chan struct{}
	wg        sync.WaitGroup
}

// Open dials the SSH host and opens a local listener on a random port.
// Connections to the local port are forwarded to cfg.Remote on the SSH host.
func Open(cfg Config) (*Tunnel, error) {
	user, addr, err := ParseTarget(cfg.Target)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(cfg.KnownHosts)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	config := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods(cfg),
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	return forward(client, cfg.Remote)
}

func forward(client *ssh.Client, remote string) (*Tunnel, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("local listen: %w", err)
	}

	t := &Tunnel{
		localAddr: listener.Addr().String(),
		remote:    remote,
		client:    client,
		listener:  listener,
		done:      make(chan struct{}),
	}
	t.wg.Add(1)
	go t.acceptLoop()

	util.WithFields(map[string]interface{}{
		"local":  t.localAddr,
		"remote": remote,
	}).Debug("ssh tunnel open")
	return t, nil
}

// LocalAddr returns the local address (e.g. "127.0.0.1:54321") that forwards
// to the remote address.
func (t *Tunnel) LocalAddr() string {
	return t.localAddr
}

// Close stops the listener, closes the SSH connection, and waits for
// all forwarding goroutines to finish.
func (t *Tunnel) Close() error {
	close(t.done)
	t.listener.Close()
	err := t.client.Close()
	t.wg.Wait()
	return err
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				continue
			}
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		util.Warnf("ssh tunnel: dialing %s: %v", t.remote, err)
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

// authMethods offers the agent, then key files, then the password.
func authMethods(cfg Config) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	keyFiles := []string{cfg.KeyFile}
	if cfg.KeyFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			keyFiles = []string{
				filepath.Join(home, ".ssh", "id_ed25519"),
				filepath.Join(home, ".ssh", "id_rsa"),
			}
		}
	}
	var signers []ssh.Signer
	for _, path := range keyFiles {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			util.Warnf("ssh key %s: %v", path, err)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	return methods
}

func hostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			if p := filepath.Join(home, ".ssh", "known_hosts"); fileExists(p) {
				path = p
			}
		}
	}
	if path == "" {
		util.Warnf("no known_hosts file; accepting the lab host's key unverified")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return cb, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
