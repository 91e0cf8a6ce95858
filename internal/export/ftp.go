package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog/log"
)

type FTPConfig struct {
	Host      string
	Port      int
	User      string
	Pass      string
	RemoteDir string
	Timeout   time.Duration
}

// Missing lists the environment keys that still need a value.
func (c FTPConfig) Missing() []string {
	var keys []string
	if c.Host == "" {
		keys = append(keys, "FTP_HOST")
	}
	if c.User == "" {
		keys = append(keys, "FTP_USER")
	}
	if c.Pass == "" {
		keys = append(keys, "FTP_PASS")
	}
	if c.RemoteDir == "" {
		keys = append(keys, "FTP_REMOTE_DIR")
	}
	return keys
}

// conn is the part of *ftp.ServerConn the uploader uses.
type conn interface {
	Login(user, password string) error
	ChangeDir(path string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

type dialFunc func(ctx context.Context, addr string, timeout time.Duration) (conn, error)

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (conn, error) {
	return ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
}

type FTPTarget struct {
	cfg  FTPConfig
	dial dialFunc
}

// NewFTPTarget fails with a MissingConfigError when the config is
// incomplete.
func NewFTPTarget(cfg FTPConfig) (*FTPTarget, error) {
	if keys := cfg.Missing(); len(keys) > 0 {
		return nil, &MissingConfigError{Keys: keys}
	}
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &FTPTarget{cfg: cfg, dial: dialFTP}, nil
}

func (t *FTPTarget) Put(ctx context.Context, name string, data []byte) (string, error) {
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	c, err := t.dial(ctx, addr, t.cfg.Timeout)
	if err != nil {
		return "", fmt.Errorf("ftp connect %s: %w", addr, err)
	}
	defer func() {
		if err := c.Quit(); err != nil {
			log.Debug().Err(err).Msg("ftp quit")
		}
	}()

	if err := c.Login(t.cfg.User, t.cfg.Pass); err != nil {
		return "", fmt.Errorf("ftp login: %w", err)
	}
	if err := ensureDir(c, t.cfg.RemoteDir); err != nil {
		return "", err
	}
	if err := c.Stor(name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("ftp upload %s: %w", name, err)
	}
	remote := path.Join(t.cfg.RemoteDir, name)
	log.Info().Str("host", t.cfg.Host).Str("path", remote).Int("bytes", len(data)).Msg("uploaded via ftp")
	return remote, nil
}

// ensureDir walks into dir, creating missing segments.
func ensureDir(c conn, dir string) error {
	if strings.HasPrefix(dir, "/") {
		if err := c.ChangeDir("/"); err != nil {
			return fmt.Errorf("ftp cd /: %w", err)
		}
	}
	for _, seg := range strings.Split(dir, "/") {
		if seg == "" || seg == "." {
			continue
		}
		if err := c.ChangeDir(seg); err == nil {
			continue
		}
		if err := c.MakeDir(seg); err != nil {
			return fmt.Errorf("ftp mkdir %s: %w", seg, err)
		}
		if err := c.ChangeDir(seg); err != nil {
			return fmt.Errorf("ftp cd %s: %w", seg, err)
		}
	}
	return nil
}
