package webapi

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/cryguy/workerhost/internal/core"
)

var (
	errNotLatin1     = errors.New("InvalidCharacterError: string contains characters outside of the Latin1 range")
	errInvalidBase64 = errors.New("InvalidCharacterError: the string to be decoded is not correctly encoded")
)

// btoa base64-encodes a string of Latin1 code points.
func btoa(s string) (string, error) {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return "", errNotLatin1
		}
		buf = append(buf, byte(r))
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// atob decodes base64 into a string of Latin1 code points, with the
// forgiving whitespace and padding rules of the HTML standard.
func atob(s string) (string, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\f', '\r', ' ':
			return -1
		}
		return r
	}, s)
	if len(s)%4 == 0 {
		s = strings.TrimSuffix(strings.TrimSuffix(s, "="), "=")
	}
	if len(s)%4 == 1 || strings.Contains(s, "=") {
		return "", errInvalidBase64
	}
	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return "", errInvalidBase64
	}
	out := make([]rune, len(raw))
	for i, b := range raw {
		out[i] = rune(b)
	}
	return string(out), nil
}

// SetupEncoding installs atob and btoa.
func SetupEncoding(rt core.JSRuntime, _ core.ScopeHost) error {
	if err := rt.RegisterFunc("__btoa", btoa); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__atob", atob); err != nil {
		return err
	}
	return rt.Eval(`
globalThis.btoa = function(data) {
	if (arguments.length < 1) throw new TypeError('btoa requires 1 argument');
	return __btoa(String(data));
};
globalThis.atob = function(data) {
	if (arguments.length < 1) throw new TypeError('atob requires 1 argument');
	return __atob(String(data));
};
`)
}
