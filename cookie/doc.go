// Package cookie owns the three cookies issued by storeguard and the response headers
// sent alongside authentication responses.
//
// | Cookie      | httpOnly | secure    | sameSite | maxAge           |
// |-------------|----------|-----------|----------|------------------|
// | session     | yes      | prod-only | strict   | 1d (30d remember)|
// | csrf-token  | yes      | prod-only | strict   | 1h               |
// | prefs       | no       | prod-only | lax      | 1y               |
//
// The session value is a signed token from package token. CSRF and prefs values are
// authenticated by [Codec].
package cookie
