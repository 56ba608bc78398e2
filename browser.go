package markup2pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
)

// errManagerClosed is returned by acquire after close.
var errManagerClosed = errors.New("browser manager closed")

// browserSession is one Chrome process and its CDP connection.
type browserSession struct {
	browser *rod.Browser
	done    <-chan struct{} // closed when the connection drops
	cleanup func()
	once    sync.Once
}

// disconnected reports whether the browser connection is gone.
func (s *browserSession) disconnected() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *browserSession) close() {
	s.once.Do(func() {
		if s.cleanup != nil {
			s.cleanup()
		}
	})
}

// launchFunc starts a new browser session.
type launchFunc func(ctx context.Context) (*browserSession, error)

// sessionManager owns the shared browser. The shared session is launched
// lazily and replaced after it disconnects. When it cannot be obtained a
// request-scoped session is launched instead.
type sessionManager struct {
	launch launchFunc
	logger *zap.Logger

	mu      sync.Mutex
	current *browserSession
	closed  bool
}

func newSessionManager(launch launchFunc, logger *zap.Logger) *sessionManager {
	return &sessionManager{launch: launch, logger: logger}
}

// acquire returns a usable session and the function that releases it.
// Releasing the shared session is a no-op; releasing a request-scoped one
// closes it.
func (m *sessionManager) acquire(ctx context.Context) (*browserSession, func(), error) {
	s, err := m.shared(ctx)
	if err == nil {
		return s, func() {}, nil
	}
	if errors.Is(err, errManagerClosed) {
		return nil, nil, err
	}

	m.logger.Warn("shared browser unavailable, launching request-scoped browser", zap.Error(err))

	s, err = m.launch(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, s.close, nil
}

// shared returns the live shared session, launching one if needed.
func (m *sessionManager) shared(ctx context.Context) (*browserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errManagerClosed
	}
	if m.current != nil && !m.current.disconnected() {
		return m.current, nil
	}
	if m.current != nil {
		m.current.close()
		m.current = nil
	}

	s, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	m.current = s
	go m.watch(s)

	m.logger.Debug("shared browser launched")
	return s, nil
}

// watch clears the shared handle once s disconnects, unless it was already
// replaced.
func (m *sessionManager) watch(s *browserSession) {
	<-s.done

	m.mu.Lock()
	if m.current == s {
		m.current = nil
		m.logger.Warn("shared browser disconnected")
	}
	m.mu.Unlock()

	s.close()
}

// close shuts down the shared session. Later acquires fail.
func (m *sessionManager) close() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.closed = true
	m.mu.Unlock()

	if s != nil {
		s.close()
	}
}

// chromeLauncher builds the launchFunc for a local headless Chrome.
func chromeLauncher(bin string, noSandbox bool) launchFunc {
	return func(ctx context.Context) (*browserSession, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l := launcher.New().
			Headless(true).
			NoSandbox(noSandbox).
			Set("disable-gpu").
			Set("disable-dev-shm-usage")

		// Use pre-installed browser if specified (Docker/containerized environments)
		path := bin
		if path == "" {
			path = os.Getenv("ROD_BROWSER_BIN")
		}
		if path != "" {
			l = l.Bin(path)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
		}

		b := rod.New().ControlURL(u)
		if err := b.Connect(); err != nil {
			l.Kill()
			l.Cleanup()
			return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
		}

		done := make(chan struct{})
		go func() {
			for range b.Event() {
			}
			close(done)
		}()

		return &browserSession{
			browser: b,
			done:    done,
			cleanup: func() {
				_ = b.Close()
				l.Kill()
				l.Cleanup()
			},
		}, nil
	}
}
