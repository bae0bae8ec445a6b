package browser

import "errors"

var (
	// ErrBrowserUnavailable means the session could not be started or has crashed.
	ErrBrowserUnavailable = errors.New("browser unavailable")
	// ErrActionTimeout means a browser operation exceeded its time limit.
	ErrActionTimeout = errors.New("browser action timed out")
	// ErrNavigationTimeout means the page did not reach readiness within the navigation timeout.
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrNavigation covers every other navigation failure (DNS, bad URL, aborted load).
	ErrNavigation = errors.New("navigation failed")
	// ErrSessionClosed is returned for every call made after Shutdown.
	ErrSessionClosed = errors.New("browser session manager is shut down")
)

// IsTransient reports whether err is worth one more attempt on a fresh session.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBrowserUnavailable) || errors.Is(err, ErrActionTimeout)
}
