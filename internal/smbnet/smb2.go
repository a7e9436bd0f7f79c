package smbnet

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/hirochachacha/go-smb2"

	"smbhood/internal/config"
)

// DefaultPort is the SMB over TCP port.
const DefaultPort = 445

// Dialer is the go-smb2 backed Connector.
type Dialer struct {
	Port int
}

func (d *Dialer) dial(ctx context.Context, addr string, creds config.Credentials) (net.Conn, *smb2.Session, error) {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	target := net.JoinHostPort(addr, strconv.Itoa(port))

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	sd := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     creds.Username,
			Password: creds.Password,
			Domain:   creds.Domain,
		},
	}
	session, err := sd.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("SMB session setup with %s failed: %w", target, err)
	}
	return conn, session, nil
}

// ListShares implements Connector.
func (d *Dialer) ListShares(ctx context.Context, addr string, creds config.Credentials) ([]string, error) {
	conn, session, err := d.dial(ctx, addr, creds)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	defer session.Logoff()

	names, err := session.WithContext(ctx).ListSharenames()
	if err != nil {
		return nil, fmt.Errorf("failed to list shares of %s: %w", addr, err)
	}
	return names, nil
}

// Mount implements Connector.
func (d *Dialer) Mount(ctx context.Context, addr, share string, creds config.Credentials) (Mount, error) {
	conn, session, err := d.dial(ctx, addr, creds)
	if err != nil {
		return nil, err
	}
	sh, err := session.WithContext(ctx).Mount(share)
	if err != nil {
		session.Logoff()
		conn.Close()
		return nil, fmt.Errorf("failed to mount share %s on %s: %w", share, addr, err)
	}
	// drop the dial context so later operations are not bound to it
	sh = sh.WithContext(context.Background())
	return &smbMount{conn: conn, session: session, share: sh}, nil
}

type smbMount struct {
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
}

func (m *smbMount) Share() Share {
	return &smbShare{share: m.share}
}

func (m *smbMount) Close() error {
	err := m.share.Umount()
	if logoffErr := m.session.Logoff(); err == nil {
		err = logoffErr
	}
	if closeErr := m.conn.Close(); err == nil {
		err = closeErr
	}
	return err
}

// smbShare adapts *smb2.Share to Share.
type smbShare struct {
	share *smb2.Share
}

func (s *smbShare) WithContext(ctx context.Context) Share {
	return &smbShare{share: s.share.WithContext(ctx)}
}

func (s *smbShare) Stat(name string) (fs.FileInfo, error) {
	return s.share.Stat(name)
}

func (s *smbShare) ReadDir(name string) ([]fs.FileInfo, error) {
	return s.share.ReadDir(name)
}

func (s *smbShare) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	f, err := s.share.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *smbShare) Mkdir(name string, perm fs.FileMode) error {
	return s.share.Mkdir(name, perm)
}

func (s *smbShare) Remove(name string) error {
	return s.share.Remove(name)
}

func (s *smbShare) Rename(oldname, newname string) error {
	return s.share.Rename(oldname, newname)
}

func (s *smbShare) Chmod(name string, mode fs.FileMode) error {
	return s.share.Chmod(name, mode)
}

func (s *smbShare) Chtimes(name string, atime, mtime time.Time) error {
	return s.share.Chtimes(name, atime, mtime)
}

func (s *smbShare) Truncate(name string, size int64) error {
	return s.share.Truncate(name, size)
}
