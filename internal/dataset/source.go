package dataset

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/lox/aviationstats/internal/httputil"
	"github.com/lox/aviationstats/internal/models"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// Source describes one dataset file to load.
type Source struct {
	Kind     models.Source
	Location string // path, http(s):// or ftp:// URL
	Encoding string // "latin1" (default), "windows1252" or "utf8"
}

func (s Source) String() string {
	return fmt.Sprintf("%s (%s)", s.Kind, s.Location)
}

// Opener returns a reader over the raw bytes at location.
type Opener func(ctx context.Context, location string) (io.ReadCloser, error)

// Open resolves local paths, http(s) URLs and anonymous ftp URLs.
func Open(ctx context.Context, location string) (io.ReadCloser, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return os.Open(location)
	}
	switch u.Scheme {
	case "file":
		return os.Open(u.Path)
	case "http", "https":
		return openHTTP(ctx, location)
	case "ftp":
		return openFTP(u)
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func openHTTP(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "AviationStats/1.0")

	// Dataset downloads can be large; ctx bounds them instead.
	resp, err := httputil.NewClientWithTimeout(0).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", location, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", location, resp.StatusCode)
	}
	return resp.Body, nil
}

type ftpFile struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (f *ftpFile) Close() error {
	err := f.Response.Close()
	f.conn.Quit()
	return err
}

func openFTP(u *url.URL) (io.ReadCloser, error) {
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp retr %s: %w", u.Path, err)
	}
	return &ftpFile{Response: resp, conn: conn}, nil
}

// decode wraps r so the CSV reader always sees UTF-8. A leading UTF-8
// byte-order mark overrides the configured single-byte encoding.
func decode(r io.Reader, encoding string) (io.Reader, error) {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
		encoding = "utf8"
	}
	r = br

	switch strings.ToLower(strings.ReplaceAll(encoding, "-", "")) {
	case "", "latin1", "iso88591":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case "windows1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	case "utf8":
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}
