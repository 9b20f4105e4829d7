package middleware

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
)

// maxDecompressedBytes caps decoded bodies. Playground requests are small
// JSON documents, so anything near this is a decompression bomb.
const maxDecompressedBytes = 8 << 20

// RequestDecompressionMiddleware decodes gzip, br and zstd request bodies.
// net/http leaves Content-Encoding of requests to the handler.
func RequestDecompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" {
			c.Next()
			return
		}

		reader, closeFn, err := decoder(enc, c.Request.Body)
		if err != nil {
			abortDecompress(c, http.StatusBadRequest, "invalid_encoding", err.Error())
			return
		}
		defer closeFn()

		decoded, err := io.ReadAll(io.LimitReader(reader, maxDecompressedBytes+1))
		if err != nil {
			abortDecompress(c, http.StatusBadRequest, "invalid_encoding", "failed to decompress "+enc+" request body")
			return
		}
		if int64(len(decoded)) > maxDecompressedBytes {
			abortDecompress(c, http.StatusRequestEntityTooLarge, "body_too_large", "decompressed request body too large")
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

func decoder(enc string, body io.Reader) (io.Reader, func(), error) {
	switch enc {
	case "gzip", "x-gzip":
		gzr, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid gzip request body")
		}
		return gzr, func() { _ = gzr.Close() }, nil
	case "br":
		return brotli.NewReader(body), func() {}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid zstd request body")
		}
		return zr, zr.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported Content-Encoding %q", enc)
	}
}

func abortDecompress(c *gin.Context, status int, code, message string) {
	c.Abort()
	c.Data(status, "application/json", apperrors.New(status, code, message, nil).ToJSON())
}
