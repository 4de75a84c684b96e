package devserver

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

type brotliResponse struct {
	http.ResponseWriter
	writer      *brotli.Writer
	wroteHeader bool
}

func (b *brotliResponse) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true

	header := b.Header()
	if status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified &&
		header.Get("Content-Encoding") == "" {
		header.Del("Content-Length")
		header.Set("Content-Encoding", "br")
		b.writer = brotli.NewWriterLevel(b.ResponseWriter, brotli.DefaultCompression)
	}

	b.ResponseWriter.WriteHeader(status)
}

func (b *brotliResponse) Write(data []byte) (int, error) {
	if !b.wroteHeader {
		if b.Header().Get("Content-Type") == "" {
			b.Header().Set("Content-Type", http.DetectContentType(data))
		}
		b.WriteHeader(http.StatusOK)
	}

	if b.writer == nil {
		return b.ResponseWriter.Write(data)
	}
	return b.writer.Write(data)
}

func (b *brotliResponse) Close() error {
	if b.writer == nil {
		return nil
	}
	return b.writer.Close()
}

// compress brotli-compresses responses for clients that accept it
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Add("Vary", "Accept-Encoding")
		if !acceptsBrotli(r.Header.Get("Accept-Encoding")) {
			next.ServeHTTP(rw, r)
			return
		}

		// partial responses can't be combined with compression
		r.Header.Del("Range")

		br := &brotliResponse{ResponseWriter: rw}
		defer br.Close()
		next.ServeHTTP(br, r)
	})
}

func acceptsBrotli(header string) bool {
	for _, item := range strings.Split(header, ",") {
		item = strings.TrimSpace(item)
		name, params, _ := strings.Cut(item, ";")
		if strings.TrimSpace(name) != "br" {
			continue
		}

		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}
