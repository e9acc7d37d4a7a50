package middleware

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/searchktools/embed-server/core/http"
)

var errBogusAuthorization = errors.New("bogus Authorization header")

// ParseBasicAuth extracts the credentials of a Basic Authorization header.
func ParseBasicAuth(header string) (username, password string, err error) {
	if header == "" {
		return "", "", errors.New(`missing "Authorization" header`)
	}
	scheme, encoded, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return "", "", errBogusAuthorization
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", err
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", errors.New("didn't get two pieces")
	}
	return username, password, nil
}

// BasicAuth requires credentials from accounts (user to password) and
// answers 401 with a Basic challenge otherwise.
func BasicAuth(realm string, accounts map[string]string) PreflightFunc {
	// Expected header payloads, precomputed once.
	expected := make([][]byte, 0, len(accounts))
	for user, pass := range accounts {
		expected = append(expected, []byte(base64.StdEncoding.EncodeToString([]byte(user+":"+pass))))
	}
	challenge := fmt.Sprintf("Basic realm=%q", realm)

	return func(req *http.Request) *http.Response {
		scheme, payload, ok := strings.Cut(strings.TrimSpace(req.Headers.Get(http.HeaderAuthorization)), " ")
		if ok && strings.EqualFold(scheme, "Basic") {
			got := []byte(strings.TrimSpace(payload))
			for _, want := range expected {
				if subtle.ConstantTimeCompare(got, want) == 1 {
					return nil
				}
			}
		}
		resp := http.NewResponseWithStatus(http.StatusUnauthorized)
		resp.SetHeader(http.HeaderWWWAuthenticate, challenge)
		return resp
	}
}

// DigestHA1 returns MD5(user:realm:password) as stored for Digest accounts.
func DigestHA1(user, realm, password string) string {
	return md5Hex(user + ":" + realm + ":" + password)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Digest implements RFC 2617 Digest authentication without qop. The nonce
// is generated once per instance, so restarting the server forces clients
// to authenticate again.
type Digest struct {
	Realm string
	Nonce string
	// accounts maps user to HA1.
	accounts map[string]string
}

// NewDigest prepares digest accounts from user to password.
func NewDigest(realm string, accounts map[string]string) *Digest {
	d := &Digest{
		Realm:    realm,
		Nonce:    newNonce(),
		accounts: make(map[string]string, len(accounts)),
	}
	for user, pass := range accounts {
		d.accounts[user] = DigestHA1(user, realm, pass)
	}
	return d
}

func newNonce() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("digest nonce: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// Preflight returns the check enforcing d.
func (d *Digest) Preflight() PreflightFunc {
	return func(req *http.Request) *http.Response {
		stale, ok := d.verify(req)
		if ok {
			return nil
		}
		challenge := fmt.Sprintf("Digest realm=%q, nonce=%q", d.Realm, d.Nonce)
		if stale {
			challenge += ", stale=TRUE"
		}
		resp := http.NewResponseWithStatus(http.StatusUnauthorized)
		resp.SetHeader(http.HeaderWWWAuthenticate, challenge)
		return resp
	}
}

func (d *Digest) verify(req *http.Request) (stale, ok bool) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(req.Headers.Get(http.HeaderAuthorization)), " ")
	if !found || !strings.EqualFold(scheme, "Digest") {
		return false, false
	}
	params := ParseDigestParams(rest)
	if params["realm"] != d.Realm {
		return false, false
	}
	ha1, known := d.accounts[params["username"]]
	if !known {
		return false, false
	}
	if params["nonce"] != d.Nonce {
		return true, false
	}
	ha2 := md5Hex(req.Method + ":" + params["uri"])
	want := md5Hex(ha1 + ":" + d.Nonce + ":" + ha2)
	return false, subtle.ConstantTimeCompare([]byte(strings.ToLower(params["response"])), []byte(want)) == 1
}

// DigestAuth is shorthand for NewDigest(realm, accounts).Preflight().
func DigestAuth(realm string, accounts map[string]string) PreflightFunc {
	return NewDigest(realm, accounts).Preflight()
}

// ParseDigestParams splits `a="x, y", b=z` into a map, honoring quotes.
func ParseDigestParams(s string) map[string]string {
	params := make(map[string]string)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t,")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")
		var value string
		if strings.HasPrefix(s, `"`) {
			end := 1
			var b strings.Builder
			for end < len(s) && s[end] != '"' {
				if s[end] == '\\' && end+1 < len(s) {
					end++
				}
				b.WriteByte(s[end])
				end++
			}
			value = b.String()
			if end < len(s) {
				end++
			}
			s = s[end:]
		} else {
			comma := strings.IndexByte(s, ',')
			if comma < 0 {
				comma = len(s)
			}
			value = strings.TrimSpace(s[:comma])
			s = s[comma:]
		}
		params[key] = value
	}
	return params
}
