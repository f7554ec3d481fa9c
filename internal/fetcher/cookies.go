package fetcher

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// NewCookieJar returns an in-memory jar that scopes cookies by registrable
// domain.
func NewCookieJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

// LoadCookieFile reads a Netscape cookies.txt export into jar and returns
// the number of cookies loaded.
func LoadCookieFile(jar http.CookieJar, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open cookie file: %w", err)
	}
	defer f.Close()
	return LoadNetscapeCookies(jar, f)
}

// LoadNetscapeCookies parses the tab-separated cookies.txt format exported
// by browsers and curl: domain, include-subdomains flag, path, secure flag,
// expiry (unix seconds), name, value. Expired cookies are skipped.
func LoadNetscapeCookies(jar http.CookieJar, r io.Reader) (int, error) {
	byOrigin := map[string][]*http.Cookie{}
	now := time.Now()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		httpOnly := false
		if rest, ok := strings.CutPrefix(line, "#HttpOnly_"); ok {
			line, httpOnly = rest, true
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return 0, fmt.Errorf("cookie file line %d: want 7 tab-separated fields, got %d", lineNo, len(fields))
		}

		domain := strings.TrimPrefix(fields[0], ".")
		secure := strings.EqualFold(fields[3], "TRUE")
		cookie := &http.Cookie{
			Name:     fields[5],
			Value:    fields[6],
			Path:     fields[2],
			Secure:   secure,
			HttpOnly: httpOnly,
		}
		if strings.EqualFold(fields[1], "TRUE") {
			cookie.Domain = domain
		}
		if exp, err := strconv.ParseInt(fields[4], 10, 64); err == nil && exp > 0 {
			cookie.Expires = time.Unix(exp, 0)
			if cookie.Expires.Before(now) {
				continue
			}
		}

		scheme := "http"
		if secure {
			scheme = "https"
		}
		origin := scheme + "://" + domain + "/"
		byOrigin[origin] = append(byOrigin[origin], cookie)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read cookie file: %w", err)
	}

	n := 0
	for origin, cookies := range byOrigin {
		u, err := url.Parse(origin)
		if err != nil {
			return n, fmt.Errorf("cookie origin %q: %w", origin, err)
		}
		jar.SetCookies(u, cookies)
		n += len(cookies)
	}
	return n, nil
}
