package webdriver

import (
	"errors"
	"net"

	"github.com/tebeka/selenium"
)

// W3C error codes the scanner treats as transient page problems.
const (
	CodeNoSuchElement           = "no such element"
	CodeElementClickIntercepted = "element click intercepted"
	CodeElementNotInteractable  = "element not interactable"
	CodeStaleElementReference   = "stale element reference"
	CodeTimeout                 = "timeout"
)

// ErrNoSession 表示 WebDriver 未回傳 session id
var ErrNoSession = errors.New("webdriver: no session id in response")

// IsCode reports whether err is a WebDriver error with the given W3C code.
func IsCode(err error, code string) bool {
	var wdErr *selenium.Error
	return errors.As(err, &wdErr) && wdErr.Err == code
}

// transient reports whether err is one of the page-level failures the
// scanner recovers from by resetting the session. A request that ran into
// the client timeout counts as one.
func transient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var wdErr *selenium.Error
	if !errors.As(err, &wdErr) {
		return false
	}
	switch wdErr.Err {
	case CodeNoSuchElement, CodeElementClickIntercepted, CodeElementNotInteractable, CodeStaleElementReference, CodeTimeout:
		return true
	}
	return false
}
