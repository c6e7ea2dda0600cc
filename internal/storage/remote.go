package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"syscall"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	remoteRetryMax     = 3
	remoteRetryWaitMin = 200 * time.Millisecond
	remoteRetryWaitMax = 2 * time.Second
)

// ErrForbiddenTarget возвращается при попытке обратиться к адресу внутренней сети.
var ErrForbiddenTarget = errors.New("remote artifact address is not allowed")

// Диапазон CGNAT не входит в netip.Addr.IsPrivate.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// RemoteStore загружает артефакты с REMOTE доставкой по HTTP. Сетевые ошибки и ответы 5xx
// повторяются с экспоненциальной задержкой, 429 учитывает Retry-After.
type RemoteStore struct {
	httpClient *retryablehttp.Client
}

type remoteOptions struct {
	allowPrivate bool
}

// RemoteOption настраивает RemoteStore.
type RemoteOption func(*remoteOptions)

// AllowPrivateNetworks разрешает обращения к loopback и частным адресам.
func AllowPrivateNetworks() RemoteOption {
	return func(o *remoteOptions) { o.allowPrivate = true }
}

// NewRemoteStore создаёт клиент удалённого хранилища. По умолчанию соединения с loopback,
// частными, link-local и multicast адресами отклоняются с ErrForbiddenTarget; проверка
// выполняется для каждого соединения, включая переходы по редиректам.
func NewRemoteStore(logger *zap.Logger, opts ...RemoteOption) *RemoteStore {
	var o remoteOptions
	for _, opt := range opts {
		opt(&o)
	}

	transport := cleanhttp.DefaultPooledTransport()
	if !o.allowPrivate {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   denyInternal,
		}
		transport.DialContext = dialer.DialContext
		// Через прокси адрес назначения не проверить.
		transport.Proxy = nil
	}

	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{Transport: transport}
	c.RetryMax = remoteRetryMax
	c.RetryWaitMin = remoteRetryWaitMin
	c.RetryWaitMax = remoteRetryWaitMax
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if errors.Is(err, ErrForbiddenTarget) {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	c.Logger = leveledLogger{sugar: logger.Named("remote-store").Sugar()}

	return &RemoteStore{httpClient: c}
}

func denyInternal(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenTarget, address)
	}
	if !publicAddr(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrForbiddenTarget, ap.Addr())
	}
	return nil
}

func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback(), addr.IsPrivate(), addr.IsUnspecified(),
		addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(), addr.IsMulticast():
		return false
	case sharedAddressSpace.Contains(addr):
		return false
	}
	return true
}

// Open запрашивает объект по ссылке и возвращает поток его содержимого.
func (s *RemoteStore) Open(ctx context.Context, location string) (*Object, error) {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrNotExist
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		resp.Body.Close()
		return nil, ErrNotExist
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = ""
	}

	return &Object{Body: resp.Body, Size: resp.ContentLength, Name: name}, nil
}

type leveledLogger struct {
	sugar *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.sugar.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
