/*
Package cookie implements the encoding of the sticky variant assignment
into the response cookie, and its decoding from the request cookies.

The cookie has the form:

	variant=<index>; Expires=<date>;

where the expiry is one hour after the cookie was created. The cookie is
set without the Path, HttpOnly or Secure directives.

Decoding does not parse the cookie pairs. It looks for the substrings
variant=0 and variant=1 in the header, in this order, and the first one
found wins. This means that a cookie like other=variant=0 is decoded as
variant 0, too.
*/
package cookie

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// Name of the cookie storing the variant index.
	Name = "variant"

	// TTL is the lifetime of a freshly assigned variant cookie.
	TTL = 60 * time.Minute

	SetCookieHeader = "Set-Cookie"
	CookieHeader    = "Cookie"
)

var (
	now = time.Now

	// checked in this order
	variantPairs = []string{Name + "=0", Name + "=1"}
)

// Decode returns the variant index found in a cookie header. The second
// return value is false when the header is empty or it doesn't contain
// any known variant.
func Decode(header string) (int, bool) {
	if header == "" {
		return 0, false
	}

	for i, p := range variantPairs {
		if strings.Contains(header, p) {
			return i, true
		}
	}

	return 0, false
}

// FromRequest decodes the variant index from all the Cookie headers of a
// request.
func FromRequest(r *http.Request) (int, bool) {
	if r == nil {
		return 0, false
	}

	return Decode(strings.Join(r.Header.Values(CookieHeader), "; "))
}

// Encode creates the Set-Cookie header value for a variant index. The
// expiry is calculated from the time of the call.
func Encode(index int) string {
	expires := now().Add(TTL).UTC().Format(http.TimeFormat)
	return fmt.Sprintf("%s=%d; Expires=%s;", Name, index, expires)
}
