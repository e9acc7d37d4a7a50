package core

import (
	"errors"
	"html"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/searchktools/embed-server/core/http"
	"github.com/searchktools/embed-server/core/router"
)

// Handlers are tried newest first. All registration methods panic with
// *http.StateError while the server is running.

// AddHandler registers a synchronous handler.
func (s *Server) AddHandler(name string, match router.MatchFunc, process router.ProcessFunc) *router.Entry {
	return s.registry.Add(router.Entry{Name: name, Match: match, Process: process})
}

// AddAsyncHandler registers a handler that completes through a callback.
func (s *Server) AddAsyncHandler(name string, match router.MatchFunc, process router.AsyncProcessFunc) *router.Entry {
	return s.registry.Add(router.Entry{Name: name, Match: match, AsyncProcess: process})
}

// AddDefaultHandler handles every request with the given method.
func (s *Server) AddDefaultHandler(method string, factory router.RequestFactory, process router.ProcessFunc) *router.Entry {
	return s.AddHandler(method+" *", router.MatchMethod(method, factory), process)
}

// AddAsyncDefaultHandler is the asynchronous form of AddDefaultHandler.
func (s *Server) AddAsyncDefaultHandler(method string, factory router.RequestFactory, process router.AsyncProcessFunc) *router.Entry {
	return s.AddAsyncHandler(method+" *", router.MatchMethod(method, factory), process)
}

// AddHandlerForPath handles one method and path; the path compares case-insensitively.
func (s *Server) AddHandlerForPath(method, p string, factory router.RequestFactory, process router.ProcessFunc) *router.Entry {
	return s.AddHandler(method+" "+p, router.MatchPath(method, p, factory), process)
}

// AddAsyncHandlerForPath is the asynchronous form of AddHandlerForPath.
func (s *Server) AddAsyncHandlerForPath(method, p string, factory router.RequestFactory, process router.AsyncProcessFunc) *router.Entry {
	return s.AddAsyncHandler(method+" "+p, router.MatchPath(method, p, factory), process)
}

// AddHandlerForPathRegex handles paths matching a case-insensitive regular
// expression. Captures are available from Request.RegexCaptures.
func (s *Server) AddHandlerForPathRegex(method, pattern string, factory router.RequestFactory, process router.ProcessFunc) (*router.Entry, error) {
	match, err := router.MatchPathRegex(method, pattern, factory)
	if err != nil {
		return nil, err
	}
	return s.AddHandler(method+" ~"+pattern, match, process), nil
}

// AddAsyncHandlerForPathRegex is the asynchronous form of AddHandlerForPathRegex.
func (s *Server) AddAsyncHandlerForPathRegex(method, pattern string, factory router.RequestFactory, process router.AsyncProcessFunc) (*router.Entry, error) {
	match, err := router.MatchPathRegex(method, pattern, factory)
	if err != nil {
		return nil, err
	}
	return s.AddAsyncHandler(method+" ~"+pattern, match, process), nil
}

// RemoveAllHandlers empties the registry.
func (s *Server) RemoveAllHandlers() {
	s.registry.RemoveAll()
}

// AddGETHandlerForData serves fixed data at p. cacheAge is the
// Cache-Control max-age in seconds.
func (s *Server) AddGETHandlerForData(p string, data []byte, contentType string, cacheAge int) *router.Entry {
	return s.AddHandlerForPath("GET", p, nil, func(req *http.Request) (*http.Response, error) {
		resp := http.NewDataResponse(data, contentType)
		resp.CacheControlMaxAge = cacheAge
		return resp, nil
	})
}

// AddGETHandlerForFile serves one file at p. With allowRange a Range header
// yields a partial response.
func (s *Server) AddGETHandlerForFile(p, filePath string, attachment bool, cacheAge int, allowRange bool) *router.Entry {
	e := router.Entry{
		Name:  "GET " + p,
		Match: router.MatchPath("GET", p, nil),
		Process: func(req *http.Request) (*http.Response, error) {
			return s.fileResponse(req, filePath, attachment, cacheAge, allowRange)
		},
		Validate: fileValidator(func(*http.Request) string { return filePath }),
	}
	return s.registry.Add(e)
}

// AddGETHandlerForDirectory serves the tree below dir at basePath, which
// must end with "/". A directory is answered with indexFilename when it
// exists, or with a generated HTML listing otherwise.
func (s *Server) AddGETHandlerForDirectory(basePath, dir, indexFilename string, cacheAge int, allowRange bool) *router.Entry {
	if !strings.HasSuffix(basePath, "/") {
		panic(&http.StateError{Op: "add directory handler", Reason: "base path must end with /"})
	}
	resolve := func(req *http.Request) string {
		rel := path.Clean("/" + req.Path[len(basePath):])
		return filepath.Join(dir, filepath.FromSlash(rel))
	}
	e := router.Entry{
		Name:  "GET " + basePath + "*",
		Match: router.MatchPathPrefix("GET", basePath, nil),
		Process: func(req *http.Request) (*http.Response, error) {
			target := resolve(req)
			info, err := os.Stat(target)
			if err != nil {
				return notFound(req, err)
			}
			if !info.IsDir() {
				return s.fileResponse(req, target, false, cacheAge, allowRange)
			}
			if indexFilename != "" {
				index := filepath.Join(target, indexFilename)
				if fi, err := os.Stat(index); err == nil && fi.Mode().IsRegular() {
					return s.fileResponse(req, index, false, cacheAge, allowRange)
				}
			}
			return directoryListing(req.Path, target)
		},
		Validate: fileValidator(resolve),
	}
	return s.registry.Add(e)
}

func (s *Server) fileResponse(req *http.Request, filePath string, attachment bool, cacheAge int, allowRange bool) (*http.Response, error) {
	rng := http.NoRange
	if allowRange {
		rng = req.ByteRange
	}
	resp, err := http.NewFileResponse(filePath, http.FileOptions{
		Range:             rng,
		Attachment:        attachment,
		MIMETypeOverrides: s.mimeOverrides(),
	})
	if err != nil {
		var rerr *http.RangeError
		if errors.As(err, &rerr) {
			return nil, err
		}
		return notFound(req, err)
	}
	resp.CacheControlMaxAge = cacheAge
	return resp, nil
}

func (s *Server) mimeOverrides() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.MIMETypeOverrides
}

func notFound(req *http.Request, err error) (*http.Response, error) {
	if errors.Is(err, fs.ErrNotExist) {
		return http.NewErrorResponse(http.StatusNotFound, "%q does not exist", req.Path), nil
	}
	return nil, err
}

// fileValidator reports the validators of a regular file so conditional
// requests are answered without opening it.
func fileValidator(resolve func(*http.Request) string) router.ValidatorFunc {
	return func(req *http.Request) (string, time.Time, bool) {
		info, err := os.Stat(resolve(req))
		if err != nil || !info.Mode().IsRegular() {
			return "", time.Time{}, false
		}
		return http.FileETag(info), info.ModTime(), true
	}
}

func directoryListing(urlPath, dir string) (*http.Response, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if !strings.HasSuffix(urlPath, "/") {
		urlPath += "/"
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body>\n<ul>\n")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		display := name
		href := url.PathEscape(name)
		if e.IsDir() {
			display += "/"
			href += "/"
		}
		b.WriteString("<li><a href=\"")
		b.WriteString(html.EscapeString(urlPath + href))
		b.WriteString("\">")
		b.WriteString(html.EscapeString(display))
		b.WriteString("</a></li>\n")
	}
	b.WriteString("</ul>\n</body></html>\n")
	return http.NewHTMLResponse(b.String()), nil
}
