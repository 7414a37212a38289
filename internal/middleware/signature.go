package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"go.uber.org/zap"
)

// SignatureHeader carries the provider's HMAC of the raw request body.
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature validates the X-Hub-Signature-256 header against an
// HMAC-SHA256 of the raw body keyed with the app secret. The body is
// re-buffered so downstream handlers can read it again. An empty secret
// disables verification, for local development only.
func VerifySignature(appSecret string, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if appSecret == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			header := r.Header.Get(SignatureHeader)
			if !validSignature(appSecret, header, body) {
				logger.Warn("Rejected webhook with bad signature",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Bool("header_present", header != ""),
				)

				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, map[string]interface{}{
					"error":   ErrorCodeInvalidSignature,
					"message": ErrorMessageInvalidSignature,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func validSignature(appSecret, header string, body []byte) bool {
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)

	return hmac.Equal(decoded, mac.Sum(nil))
}
