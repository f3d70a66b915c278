package ftp

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal FTP server backed by a temporary directory. It
// speaks just enough of RFC 959 and EPSV for the client in this package and
// answers DELE on a directory with 550, like most real servers.
type fakeServer struct {
	root     string
	listener net.Listener
	done     chan struct{}
	password string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{
		root:     t.TempDir(),
		listener: ln,
		done:     make(chan struct{}),
		password: "secret",
	}
	go s.serve()
	t.Cleanup(func() {
		close(s.done)
		_ = ln.Close()
	})
	return s
}

func (s *fakeServer) config() Config {
	host, port, _ := net.SplitHostPort(s.listener.Addr().String())
	var p int
	_, _ = fmt.Sscanf(port, "%d", &p)
	return Config{Host: host, Port: p, User: "backup", Password: s.password}
}

// local maps a virtual absolute path to the backing directory.
func (s *fakeServer) local(virtual string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+virtual)))
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()

	tp := textproto.NewConn(conn)
	cwd := "/"
	var data net.Listener
	defer func() {
		if data != nil {
			_ = data.Close()
		}
	}()

	reply := func(format string, args ...any) {
		_ = tp.PrintfLine(format, args...)
	}
	resolve := func(arg string) string {
		if path.IsAbs(arg) {
			return path.Clean(arg)
		}
		return path.Join(cwd, arg)
	}
	acceptData := func() net.Conn {
		if data == nil {
			return nil
		}
		dc, err := data.Accept()
		_ = data.Close()
		data = nil
		if err != nil {
			return nil
		}
		return dc
	}

	reply("220 fake ftp ready")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")

		switch strings.ToUpper(cmd) {
		case "USER":
			reply("331 password required")
		case "PASS":
			if arg == s.password {
				reply("230 logged in")
			} else {
				reply("530 login incorrect")
			}
		case "TYPE", "OPTS":
			reply("200 ok")
		case "EPSV":
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot open data connection")
				continue
			}
			data = ln
			_, port, _ := net.SplitHostPort(ln.Addr().String())
			reply("229 Entering Extended Passive Mode (|||%s|)", port)
		case "PWD":
			reply("257 \"%s\" is the current directory", cwd)
		case "CWD":
			target := resolve(arg)
			if info, err := os.Stat(s.local(target)); err == nil && info.IsDir() {
				cwd = target
				reply("250 directory changed")
			} else {
				reply("550 %s: no such directory", arg)
			}
		case "MKD":
			target := resolve(arg)
			if err := os.Mkdir(s.local(target), 0o755); err != nil {
				reply("550 %s: File exists", arg)
			} else {
				reply("257 \"%s\" created", target)
			}
		case "DELE":
			target := s.local(resolve(arg))
			if info, err := os.Stat(target); err == nil && info.IsDir() {
				reply("550 %s: Permission denied", arg)
			} else if err := os.Remove(target); err != nil {
				reply("550 %s: cannot delete", arg)
			} else {
				reply("250 deleted")
			}
		case "RMD":
			if err := os.Remove(s.local(resolve(arg))); err != nil {
				reply("550 %s: directory not empty", arg)
			} else {
				reply("250 removed")
			}
		case "NLST":
			dc := acceptData()
			if dc == nil {
				reply("425 no data connection")
				continue
			}
			entries, err := os.ReadDir(s.local(resolve(arg)))
			if err != nil {
				_ = dc.Close()
				reply("550 %s: no such directory", arg)
				continue
			}
			reply("150 here comes the listing")
			for _, e := range entries {
				_, _ = fmt.Fprintf(dc, "%s\r\n", e.Name())
			}
			_ = dc.Close()
			reply("226 transfer complete")
		case "STOR":
			dc := acceptData()
			if dc == nil {
				reply("425 no data connection")
				continue
			}
			f, err := os.Create(s.local(resolve(arg)))
			if err != nil {
				_ = dc.Close()
				reply("553 cannot create %s", arg)
				continue
			}
			reply("150 ok to send data")
			_, _ = io.Copy(f, dc)
			_ = f.Close()
			_ = dc.Close()
			reply("226 transfer complete")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 %s not implemented", cmd)
		}
	}
}
