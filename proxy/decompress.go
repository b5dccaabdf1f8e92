package proxy

import (
	"errors"
	"io"
	"net/http"
	"runtime"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// brotli.Reader has no Close
type brotliReader struct {
	brotli.Reader
}

func (*brotliReader) Close() error { return nil }

var decoderPools = map[string]*sync.Pool{
	"gzip":    {New: func() any { return new(gzip.Reader) }},
	"deflate": {New: func() any { return flate.NewReader(nil) }},
	"br":      {New: func() any { return new(brotliReader) }},
}

func init() {
	for _, pool := range decoderPools {
		for i := 0; i < runtime.NumCPU()*4; i++ {
			pool.Put(pool.New())
		}
	}
}

// decoder is one layer of the content encoding of a response body
type decoder struct {
	encoding string
	reader   io.ReadCloser
}

func acquireDecoder(encoding string, from io.Reader) (decoder, error) {
	d := decoder{encoding: encoding, reader: decoderPools[encoding].Get().(io.ReadCloser)}

	var err error
	switch r := d.reader.(type) {
	case *gzip.Reader:
		err = r.Reset(from)
	case *brotliReader:
		err = r.Reset(from)
	case flate.Resetter:
		err = r.Reset(from, nil)
	}

	if err != nil {
		d.release(err)
	}

	return d, err
}

// broken decoders are not returned to the pool
func (d decoder) release(err error) {
	if err == nil {
		decoderPools[d.encoding].Put(d.reader)
	}
}

// decodedBody reads the body through the decoders of every encoding
// layer, the outermost one last
type decodedBody struct {
	io.Reader
	original io.Closer
	decoders []decoder
}

func (b *decodedBody) Close() error {
	var errs []error
	for _, d := range b.decoders {
		err := d.reader.Close()
		d.release(err)
		errs = append(errs, err)
	}

	b.decoders = nil
	return errors.Join(append(errs, b.original.Close())...)
}

// contentEncodings returns the encodings applied to a body, in the order
// of the header. Identity is omitted.
func contentEncodings(h http.Header) []string {
	var encs []string
	for _, v := range h.Values("Content-Encoding") {
		for _, e := range strings.Split(v, ",") {
			e = strings.ToLower(strings.TrimSpace(e))
			if e != "" && e != "identity" {
				encs = append(encs, e)
			}
		}
	}

	return encs
}

func canDecode(encs []string) bool {
	for _, e := range encs {
		if _, ok := decoderPools[e]; !ok {
			return false
		}
	}

	return true
}

// accepts tells whether an Accept-Encoding header value allows all the
// encodings. Codings with q=0 are refused.
func accepts(acceptEncoding string, encs []string) bool {
	accepted := make(map[string]bool)
	for _, c := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(c, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}

		q := strings.ReplaceAll(strings.ToLower(params), " ", "")
		accepted[name] = q != "q=0" && q != "q=0.0" && q != "q=0.00" && q != "q=0.000"
	}

	for _, e := range encs {
		ok, listed := accepted[e]
		if !listed {
			ok = accepted["*"]
		}

		if !ok {
			return false
		}
	}

	return true
}

// decodeBody wraps body with the decoders of the encodings. The
// encodings must be supported. On error, body is not closed.
func decodeBody(body io.ReadCloser, encs []string) (io.ReadCloser, error) {
	if len(encs) == 0 {
		return body, nil
	}

	decoded := &decodedBody{Reader: body, original: body}
	for i := len(encs) - 1; i >= 0; i-- {
		d, err := acquireDecoder(encs[i], decoded.Reader)
		if err != nil {
			for _, acquired := range decoded.decoders {
				acquired.release(acquired.reader.Close())
			}

			return nil, err
		}

		decoded.Reader = d.reader
		decoded.decoders = append(decoded.decoders, d)
	}

	return decoded, nil
}
