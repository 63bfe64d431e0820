// Package httputil holds the HTTP-boundary concerns that the spec
// deliberately keeps out of the core: JSON key-presence validation and
// Content-MD5 verification.
package httputil

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // required by the Content-MD5 wire contract, not for security
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/acme-telco/voucher-pool-service/internal/apperr"
)

// ValidateParams checks that body contains exactly the keys named by
// required and optional, nothing more and nothing less. This is a
// key-presence check, not a value check: go-playground/validator's
// `required` tag cannot tell "key absent" from "key present but zero
// value", and the wire contract needs the former.
func ValidateParams(body []byte, required, optional []string) error {
	raw := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return apperr.BadRequestf("invalid JSON body: %v", err)
		}
	}

	allowed := make(map[string]struct{}, len(required)+len(optional))
	for _, k := range required {
		allowed[k] = struct{}{}
	}
	for _, k := range optional {
		allowed[k] = struct{}{}
	}

	var missing []string
	for _, k := range required {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return apperr.BadRequestf("Missing request parameters: %s", quoteJoin(missing))
	}

	var unexpected []string
	for k := range raw {
		if _, ok := allowed[k]; !ok {
			unexpected = append(unexpected, k)
		}
	}
	if len(unexpected) > 0 {
		return apperr.BadRequestf("Unexpected request parameters: %s", quoteJoin(unexpected))
	}
	return nil
}

func quoteJoin(keys []string) string {
	sort.Strings(keys)
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = fmt.Sprintf("'%s'", k)
	}
	return strings.Join(quoted, ", ")
}

// VerifyContentMD5 checks that header decodes to the base64-encoded MD5
// digest of body, per RFC 1864. The digest itself is only a transport
// integrity check here; callers persist the header value as an opaque
// idempotency token and never re-derive meaning from it.
func VerifyContentMD5(header string, body []byte) error {
	if header == "" {
		return apperr.BadRequest("missing Content-MD5 header")
	}

	want, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return apperr.BadRequest("malformed Content-MD5 header")
	}

	sum := md5.Sum(body) //nolint:gosec
	if !hmac.Equal(sum[:], want) {
		return apperr.BadRequest("Content-MD5 header does not match body")
	}
	return nil
}
