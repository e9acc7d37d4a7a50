package router

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/searchktools/embed-server/core/http"
)

func orDefault(factory RequestFactory) RequestFactory {
	if factory == nil {
		return http.NewRequest
	}
	return factory
}

// MatchMethod matches every request with the given method.
func MatchMethod(method string, factory RequestFactory) MatchFunc {
	factory = orDefault(factory)
	return func(m string, u *url.URL, headers http.Header, path string, query map[string]string) *http.Request {
		if m != method {
			return nil
		}
		return factory(m, u, headers, path, query)
	}
}

// MatchPath matches a method and a path, ignoring case in the path.
func MatchPath(method, p string, factory RequestFactory) MatchFunc {
	factory = orDefault(factory)
	return func(m string, u *url.URL, headers http.Header, path string, query map[string]string) *http.Request {
		if m != method || !strings.EqualFold(path, p) {
			return nil
		}
		return factory(m, u, headers, path, query)
	}
}

// MatchPathPrefix matches a method and any path below base, ignoring case.
func MatchPathPrefix(method, base string, factory RequestFactory) MatchFunc {
	factory = orDefault(factory)
	return func(m string, u *url.URL, headers http.Header, path string, query map[string]string) *http.Request {
		if m != method || len(path) < len(base) || !strings.EqualFold(path[:len(base)], base) {
			return nil
		}
		return factory(m, u, headers, path, query)
	}
}

// MatchPathRegex matches a method and a path against a case-insensitive
// regular expression. Capture groups are stored on the request under
// http.AttributeRegexCaptures.
func MatchPathRegex(method, pattern string, factory RequestFactory) (MatchFunc, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	factory = orDefault(factory)
	return func(m string, u *url.URL, headers http.Header, path string, query map[string]string) *http.Request {
		if m != method {
			return nil
		}
		groups := re.FindStringSubmatch(path)
		if groups == nil {
			return nil
		}
		req := factory(m, u, headers, path, query)
		if req != nil && len(groups) > 1 {
			req.SetAttribute(http.AttributeRegexCaptures, groups[1:])
		}
		return req
	}, nil
}
