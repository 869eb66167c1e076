package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/martian/v3/har"

	"github.com/mel2oo/netshark/aggregate"
	"github.com/mel2oo/netshark/capture"
)

// ExportHAR renders every paired HTTP exchange in the open capture as a
// HAR log and returns its JSON encoding. Exchanges whose request half was
// never captured are skipped; HAR has no way to represent a response
// without one.
func (i *Instance) ExportHAR() ([]byte, error) {
	var out []byte
	var qErr error
	err := i.query(func(sess *capture.Session) {
		logger := har.NewLogger()
		for idx, ex := range sess.Agg.HTTPExchanges {
			if ex.Method == "" {
				continue
			}
			id := fmt.Sprintf("exchange-%d", idx)
			req, err := stdRequest(ex)
			if err != nil {
				continue
			}
			if err := logger.RecordRequest(id, req); err != nil {
				continue
			}
			logger.RecordResponse(id, stdResponse(ex, req))
		}

		harContent := logger.ExportAndReset()
		if log := harContent.Log; log != nil {
			log.Creator = &har.Creator{
				Name:    "netshark",
				Version: "1.0",
			}
		}
		out, qErr = json.Marshal(harContent)
	})
	if err != nil {
		return nil, err
	}
	return out, qErr
}

// stdRequest rebuilds a net/http request from a captured exchange, which
// is the shape the HAR logger records.
func stdRequest(ex aggregate.HttpExchange) (*http.Request, error) {
	host := ex.Hostname
	if host == "" {
		host = "unknown"
	}
	req, err := http.NewRequest(ex.Method, "http://"+host+ex.Path, bytes.NewReader(ex.RequestBody))
	if err != nil {
		return nil, err
	}
	if ex.RequestHeaders != nil {
		req.Header = http.Header(ex.RequestHeaders)
	}
	req.Host = host
	return req, nil
}

func stdResponse(ex aggregate.HttpExchange, req *http.Request) *http.Response {
	header := http.Header{}
	if ex.ResponseHeaders != nil {
		header = http.Header(ex.ResponseHeaders)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", ex.StatusCode, http.StatusText(ex.StatusCode)),
		StatusCode:    ex.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(ex.ResponseBody)),
		ContentLength: int64(len(ex.ResponseBody)),
		Request:       req,
	}
}
