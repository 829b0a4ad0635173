package bytesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultRequestTimeout is the default per-request timeout.
const DefaultRequestTimeout = 30 * time.Second

// DefaultMaxRetries is the default number of attempts per read, the
// first attempt included.
const DefaultMaxRetries = 3

// RemoteOptions configures a Remote source.
type RemoteOptions struct {
	MaxRetries     int
	RequestTimeout time.Duration
}

func (o RemoteOptions) withDefaults() RemoteOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	return o
}

// Remote reads HTTP(S) or FTP byte ranges. HTTP(S) reads share one
// http.Client and its connection pool across calls; every FTP read or
// size query dials and logs in on a fresh connection.
type Remote struct {
	rawURL string
	scheme string
	opts   RemoteOptions

	httpClient *http.Client

	log *logrus.Entry
}

// OpenRemote opens rawURL for range reads. Scheme must be http, https, or
// ftp.
func OpenRemote(rawURL string, opts RemoteOptions) (*Remote, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing remote URL")
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "ftp":
	default:
		return nil, errors.Errorf("unsupported remote scheme %q", scheme)
	}

	opts = opts.withDefaults()

	r := &Remote{
		rawURL: rawURL,
		scheme: scheme,
		opts:   opts,
		log:    logrus.WithField("pkg", "bytesource.remote"),
	}

	if scheme == "http" || scheme == "https" {
		r.httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}

	return r, nil
}

func (r *Remote) Read(ctx context.Context, offset, length int64) ([]byte, error) {
	var out []byte

	op := func() error {
		data, err := r.readOnce(ctx, offset, length)
		if err != nil {
			if errors.Is(err, ErrRangeUnsupported) {
				return backoff.Permanent(err)
			}
			r.log.WithError(err).Debugf("transient error reading range [%d,%d)", offset, offset+length)
			return err
		}
		out = data
		return nil
	}

	// MaxRetries counts attempts; WithMaxRetries counts retries after the first.
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(r.opts.MaxRetries-1))
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, errors.Wrapf(err, "reading %d bytes at offset %d from %s", length, offset, r.rawURL)
	}

	return out, nil
}

func (r *Remote) readOnce(ctx context.Context, offset, length int64) ([]byte, error) {
	switch r.scheme {
	case "http", "https":
		return r.readHTTP(ctx, offset, length)
	case "ftp":
		return r.readFTP(ctx, offset, length)
	default:
		return nil, errors.Errorf("unsupported scheme %q", r.scheme)
	}
}

func (r *Remote) readHTTP(ctx context.Context, offset, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building range request")
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "performing range request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		buf := make([]byte, length)
		if _, err := io.ReadFull(resp.Body, buf); err != nil {
			return nil, errors.Wrap(err, "reading range response body")
		}
		return buf, nil
	case http.StatusOK:
		return nil, errors.WithStack(ErrRangeUnsupported)
	default:
		return nil, errors.Errorf("unexpected status %d from range request", resp.StatusCode)
	}
}

func (r *Remote) readFTP(ctx context.Context, offset, length int64) ([]byte, error) {
	u, err := url.Parse(r.rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing FTP URL")
	}

	addr := u.Host
	if !strings.Contains(addr, ":") {
		addr += ":21"
	}

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(r.opts.RequestTimeout))
	if err != nil {
		return nil, errors.Wrap(err, "dialing FTP server")
	}
	defer conn.Quit()

	if u.User != nil {
		pass, _ := u.User.Password()
		if err := conn.Login(u.User.Username(), pass); err != nil {
			return nil, errors.Wrap(err, "FTP login")
		}
	} else {
		if err := conn.Login("anonymous", "anonymous"); err != nil {
			return nil, errors.Wrap(err, "anonymous FTP login")
		}
	}

	resp, err := conn.RetrFrom(u.Path, uint64(offset))
	if err != nil {
		return nil, errors.WithStack(ErrRangeUnsupported)
	}
	defer resp.Close()

	buf := make([]byte, length)
	if _, err := io.ReadFull(resp, buf); err != nil {
		return nil, errors.Wrap(err, "reading FTP range response")
	}

	return buf, nil
}

func (r *Remote) Size(ctx context.Context) (int64, error) {
	switch r.scheme {
	case "http", "https":
		return r.sizeHTTP(ctx)
	case "ftp":
		return r.sizeFTP(ctx)
	default:
		return 0, errors.Errorf("unsupported scheme %q", r.scheme)
	}
}

func (r *Remote) sizeHTTP(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.rawURL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "building HEAD request")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "performing HEAD request")
	}
	defer resp.Body.Close()

	if resp.ContentLength < 0 {
		return 0, errors.New("server did not report content length")
	}

	return resp.ContentLength, nil
}

func (r *Remote) sizeFTP(ctx context.Context) (int64, error) {
	u, err := url.Parse(r.rawURL)
	if err != nil {
		return 0, errors.Wrap(err, "parsing FTP URL")
	}

	addr := u.Host
	if !strings.Contains(addr, ":") {
		addr += ":21"
	}

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(r.opts.RequestTimeout))
	if err != nil {
		return 0, errors.Wrap(err, "dialing FTP server")
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return 0, errors.Wrap(err, "anonymous FTP login")
	}

	size, err := conn.FileSize(u.Path)
	if err != nil {
		return 0, errors.Wrap(err, "FTP SIZE command")
	}

	return size, nil
}

func (r *Remote) Close() error {
	if r.httpClient != nil {
		r.httpClient.CloseIdleConnections()
	}
	return nil
}
