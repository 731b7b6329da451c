package capture

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
)

// warcWriter writes WARC 1.0 records, one gzip member per record so the
// file stays seekable record-by-record.
type warcWriter struct {
	w   io.Writer
	now func() time.Time
}

func newWARCWriter(w io.Writer, now func() time.Time) *warcWriter {
	return &warcWriter{w: w, now: now}
}

// writeInfo writes the leading warcinfo record.
func (ww *warcWriter) writeInfo() error {
	block := []byte("software: ticketd/1.0\r\nformat: WARC File Format 1.0\r\n")
	return ww.writeRecord("warcinfo", "", "application/warc-fields", block)
}

// writeResponse writes one captured HTTP response as a response record.
func (ww *warcWriter) writeResponse(targetURI string, resp *http.Response, body []byte) error {
	var block bytes.Buffer
	fmt.Fprintf(&block, "%s %s\r\n", resp.Proto, resp.Status)
	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range resp.Header[k] {
			fmt.Fprintf(&block, "%s: %s\r\n", k, v)
		}
	}
	block.WriteString("\r\n")
	block.Write(body)
	return ww.writeRecord("response", targetURI, "application/http; msgtype=response", block.Bytes())
}

func (ww *warcWriter) writeRecord(warcType, targetURI, contentType string, block []byte) error {
	gz := gzip.NewWriter(ww.w)

	var head bytes.Buffer
	head.WriteString("WARC/1.0\r\n")
	fmt.Fprintf(&head, "WARC-Type: %s\r\n", warcType)
	fmt.Fprintf(&head, "WARC-Record-ID: <urn:uuid:%s>\r\n", uuid.NewString())
	fmt.Fprintf(&head, "WARC-Date: %s\r\n", ww.now().UTC().Format("2006-01-02T15:04:05Z"))
	if targetURI != "" {
		fmt.Fprintf(&head, "WARC-Target-URI: %s\r\n", targetURI)
	}
	fmt.Fprintf(&head, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&head, "Content-Length: %d\r\n", len(block))
	head.WriteString("\r\n")

	if _, err := gz.Write(head.Bytes()); err != nil {
		return fmt.Errorf("write record header: %w", err)
	}
	if _, err := gz.Write(block); err != nil {
		return fmt.Errorf("write record block: %w", err)
	}
	if _, err := gz.Write([]byte("\r\n\r\n")); err != nil {
		return fmt.Errorf("write record trailer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return nil
}
