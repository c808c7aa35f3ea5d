// Package webdriver implements scanner.RecordSession over the W3C WebDriver
// protocol, driving a Chrome instance against the land register search page.
package webdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	"github.com/ChuLiYu/kw-sourcing/internal/scanner"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

const (
	// DefaultPollInterval is how often waits re-check the page.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultRequestTimeout bounds a single WebDriver command.
	DefaultRequestTimeout = 60 * time.Second

	cookieBannerSelector = "span.button.close"
	cookieBannerTimeout  = 15 * time.Second
	departmentListWait   = 10 * time.Second
)

// Config describes how to reach the browser and the source.
type Config struct {
	// WebDriverURL is the remote end, e.g. http://localhost:9515 for chromedriver.
	WebDriverURL string
	// SourceURL is the search form every lookup starts from.
	SourceURL string
	Headless  bool
	// HTTPClient overrides the client built from RequestTimeout.
	HTTPClient *http.Client
	// RequestTimeout overrides DefaultRequestTimeout.
	RequestTimeout time.Duration
	Logger         *slog.Logger
	// PollInterval overrides DefaultPollInterval.
	PollInterval time.Duration
}

// Session is a single browser session. It is not safe for concurrent use.
type Session struct {
	wd           selenium.WebDriver
	id           string
	sourceURL    string
	logger       *slog.Logger
	pollInterval time.Duration
}

var _ scanner.RecordSession = (*Session)(nil)

// selenium 的 HTTP client 是套件層級變數，所有 session 共用
var clientMu sync.Mutex

func useHTTPClient(cfg Config) {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	clientMu.Lock()
	selenium.HTTPClient = hc
	clientMu.Unlock()
}

type locator struct {
	By    string
	Value string
}

// locate maps a logical element name to a W3C locator.
func locate(name string) locator {
	if section, ok := scanner.SectionFromButton(name); ok {
		return locator{By: selenium.ByCSSSelector, Value: fmt.Sprintf(`input[type="submit"][value="%s"]`, section)}
	}
	return locator{By: selenium.ByCSSSelector, Value: "#" + name}
}

func chromeArgs(headless bool) []string {
	args := []string{
		"--incognito",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--disable-extensions",
		"--disable-popup-blocking",
		fmt.Sprintf("--user-data-dir=/tmp/chrome-profile-%d", time.Now().UnixNano()),
	}
	if headless {
		args = append(args, "--headless")
	}
	return args
}

// Open starts a browser session and prepares it on the search form: fresh
// cookies and storage, cookie banner dismissed when present.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	useHTTPClient(cfg)

	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chrome.Capabilities{Args: chromeArgs(cfg.Headless), W3C: true})
	wd, err := selenium.NewRemote(caps, cfg.WebDriverURL)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id := wd.SessionID()
	if id == "" {
		return nil, ErrNoSession
	}

	s := &Session{
		wd:           wd,
		id:           id,
		sourceURL:    cfg.SourceURL,
		logger:       cfg.Logger.With("session", id),
		pollInterval: cfg.PollInterval,
	}
	if err := s.bootstrap(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.logger.Info("webdriver session ready", "url", cfg.SourceURL)
	return s, nil
}

func (s *Session) bootstrap(ctx context.Context) error {
	if err := s.NavigateToBaseURL(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.wd.DeleteAllCookies(); err != nil {
		return fmt.Errorf("bootstrap: delete cookies: %w", err)
	}
	if _, err := s.execute(ctx, "window.localStorage.clear(); window.sessionStorage.clear();"); err != nil {
		return fmt.Errorf("bootstrap: clear storage: %w", err)
	}
	if err := s.Refresh(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := s.dismissCookieBanner(ctx); err != nil {
		s.logger.Warn("clicking cookies accept failed", "error", err)
	}
	return nil
}

func (s *Session) dismissCookieBanner(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, cookieBannerTimeout)
	defer cancel()
	banner := locator{By: selenium.ByCSSSelector, Value: cookieBannerSelector}
	for {
		el, err := s.find(ctx, banner)
		if err == nil {
			if err = el.Click(); err == nil {
				return nil
			}
		}
		if !transient(err) {
			return err
		}
		if err := s.wait(ctx); err != nil {
			return fmt.Errorf("cookie banner: %w", err)
		}
	}
}

func (s *Session) wait(ctx context.Context) error {
	return scanner.Sleep(ctx, s.pollInterval)
}

func (s *Session) execute(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.wd.ExecuteScript(script, nil)
}

func (s *Session) find(ctx context.Context, loc locator) (selenium.WebElement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.wd.FindElement(loc.By, loc.Value)
}

func (s *Session) elementText(ctx context.Context, loc locator) (string, error) {
	el, err := s.find(ctx, loc)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (s *Session) displayed(ctx context.Context, name string) (bool, error) {
	el, err := s.find(ctx, locate(name))
	if err != nil {
		return false, err
	}
	return el.IsDisplayed()
}

// ============================================================================
// scanner.RecordSession
// ============================================================================

// SubmitIdentification types each field into its input and clicks search.
// Missing, stale or blocked elements and timed out commands are reported as
// scanner.ErrSessionFailure.
func (s *Session) SubmitIdentification(ctx context.Context, fields map[string]string) error {
	for _, name := range scanner.IdentificationFields {
		value, ok := fields[name]
		if !ok {
			continue
		}
		if err := s.typeInto(ctx, name, value); err != nil {
			return s.submitErr(name, err)
		}
	}
	if err := s.ClickElement(ctx, scanner.ElementSearch); err != nil {
		return s.submitErr(scanner.ElementSearch, err)
	}
	return nil
}

func (s *Session) submitErr(name string, err error) error {
	if transient(err) {
		return fmt.Errorf("%w: %s: %w", scanner.ErrSessionFailure, name, err)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Session) typeInto(ctx context.Context, name, value string) error {
	el, err := s.find(ctx, locate(name))
	if err != nil {
		return err
	}
	if err := el.Clear(); err != nil {
		return err
	}
	return el.SendKeys(value)
}

// IsControlNumberFlagged reports whether the control digit warning is shown.
// An absent warning element means the digit was accepted.
func (s *Session) IsControlNumberFlagged(ctx context.Context) (bool, error) {
	shown, err := s.displayed(ctx, scanner.ElementControlFlag)
	if IsCode(err, CodeNoSuchElement) {
		return false, nil
	}
	return shown, err
}

// WaitUntilStable polls document.readyState until it is "complete". It
// returns false, nil when timeout elapses first.
func (s *Session) WaitUntilStable(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		state, err := s.execute(ctx, "return document.readyState")
		if err != nil {
			return false, fmt.Errorf("ready state: %w", err)
		}
		if state == "complete" {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		if err := s.wait(ctx); err != nil {
			return false, err
		}
	}
}

// PageText returns the text of the document body.
func (s *Session) PageText(ctx context.Context) (string, error) {
	return s.elementText(ctx, locator{By: selenium.ByTagName, Value: "body"})
}

// ReadElementText returns the visible text of a logical element.
func (s *Session) ReadElementText(ctx context.Context, name string) (string, error) {
	return s.elementText(ctx, locate(name))
}

// ClickElement clicks a logical element.
func (s *Session) ClickElement(ctx context.Context, name string) error {
	el, err := s.find(ctx, locate(name))
	if err != nil {
		return err
	}
	return el.Click()
}

// NavigateToBaseURL loads the search form.
func (s *Session) NavigateToBaseURL(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.wd.Get(s.sourceURL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// Refresh reloads the current page.
func (s *Session) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.wd.Refresh(); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

// Close ends the browser session.
func (s *Session) Close() error {
	if err := s.wd.Quit(); err != nil {
		return fmt.Errorf("close session %s: %w", s.id, err)
	}
	return nil
}

// ============================================================================
// Department list
// ============================================================================

// Departments opens the department dropdown and parses the codes it lists.
// Any failure is logged and yields an empty list.
func (s *Session) Departments(ctx context.Context) []types.DepartmentCode {
	codes, err := s.departments(ctx)
	if err != nil {
		s.logger.Warn("failed to get department codes", "error", err)
		return nil
	}
	return codes
}

func (s *Session) departments(ctx context.Context) ([]types.DepartmentCode, error) {
	if err := s.ClickElement(ctx, scanner.ElementDepartmentOpen); err != nil {
		return nil, fmt.Errorf("open department list: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, departmentListWait)
	defer cancel()
	for {
		shown, err := s.displayed(ctx, scanner.ElementDepartmentList)
		if err != nil && !transient(err) {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("department list not visible after %s", departmentListWait)
			}
			return nil, err
		}
		if shown {
			break
		}
		if err := s.wait(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("department list not visible after %s", departmentListWait)
			}
			return nil, err
		}
	}

	text, err := s.ReadElementText(ctx, scanner.ElementDepartmentList)
	if err != nil {
		return nil, fmt.Errorf("read department list: %w", err)
	}
	return scanner.ParseDepartmentCodes(text), nil
}
