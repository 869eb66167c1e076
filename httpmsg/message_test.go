package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeStart(t *testing.T) {
	cases := []struct {
		in        string
		isRequest bool
		ok        bool
	}{
		{"GET / HTTP/1.1\r\n", true, true},
		{"POST /api HTTP/1.1\r\n", true, true},
		{"DELETE /x HTTP/1.1\r\n", true, true},
		{"HTTP/1.1 200 OK\r\n", false, true},
		{"HTTP/1.0 404 Not Found\r\n", false, true},
		{"\x16\x03\x01\x00\x50", false, false},
		{"random bytes", false, false},
	}
	for _, tc := range cases {
		isReq, ok := LooksLikeStart([]byte(tc.in))
		assert.Equal(t, tc.ok, ok, tc.in)
		if ok {
			assert.Equal(t, tc.isRequest, isReq, tc.in)
		}
	}
}

func TestRequestWithoutBody(t *testing.T) {
	s := NewState()
	raw := []byte("GET /path?q=1 HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n")

	consumed, msg, err := s.Feed(raw)
	assert.NoError(t, err)
	assert.Equal(t, len(raw), consumed)
	if assert.NotNil(t, msg) {
		assert.True(t, msg.IsRequest)
		assert.Equal(t, "GET", msg.Method)
		assert.Equal(t, "/path?q=1", msg.Path)
		assert.Equal(t, "HTTP/1.1", msg.Proto)
		assert.Equal(t, "example.com", msg.Hostname)
		assert.Empty(t, msg.Body)
	}
}

func TestContentLengthBodyAcrossFeeds(t *testing.T) {
	s := NewState()
	part1 := []byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\nContent-Type: text/plain\r\n\r\nhello")
	part2 := []byte("world")

	consumed, msg, err := s.Feed(part1)
	assert.NoError(t, err)
	assert.Equal(t, len(part1), consumed)
	assert.Nil(t, msg)

	consumed, msg, err = s.Feed(part2)
	assert.NoError(t, err)
	assert.Equal(t, len(part2), consumed)
	if assert.NotNil(t, msg) {
		assert.False(t, msg.IsRequest)
		assert.Equal(t, 200, msg.StatusCode)
		assert.Equal(t, "text/plain", msg.ContentType)
		assert.Equal(t, []byte("helloworld"), msg.Body)
	}
}

func TestChunkedSplitMidChunkSizeLine(t *testing.T) {
	// The chunk-size line itself is split across feeds: "4\r" then "\n...".
	s := NewState()
	part1 := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r")
	part2 := []byte("\n1234\r\n0\r\n\r\n")

	consumed, msg, err := s.Feed(part1)
	assert.NoError(t, err)
	assert.Nil(t, msg)
	// The "4\r" tail cannot be consumed until its LF arrives.
	assert.Equal(t, len(part1)-2, consumed)

	rest := append(part1[consumed:], part2...)
	consumed, msg, err = s.Feed(rest)
	assert.NoError(t, err)
	assert.Equal(t, len(rest), consumed)
	if assert.NotNil(t, msg) {
		assert.Equal(t, []byte("1234"), msg.Body)
	}
}

func TestChunkedMultipleChunks(t *testing.T) {
	s := NewState()
	raw := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n")
	consumed, msg, err := s.Feed(raw)
	assert.NoError(t, err)
	assert.Equal(t, len(raw), consumed)
	if assert.NotNil(t, msg) {
		assert.Equal(t, []byte("hello world"), msg.Body)
	}
}

func TestHeaderLineSplitAcrossFeeds(t *testing.T) {
	// A header line crossing the segment boundary resumes via the carried
	// extra bytes.
	s := NewState()
	part1 := []byte("GET / HTTP/1.1\r\nHost: exa")
	part2 := []byte("mple.com\r\n\r\n")

	consumed, msg, err := s.Feed(part1)
	assert.NoError(t, err)
	assert.Nil(t, msg)
	// The partial "Host: exa" moved into the carried extra bytes, so the
	// whole chunk counts as consumed.
	assert.Equal(t, len(part1), consumed)

	consumed, msg, err = s.Feed(part2)
	assert.NoError(t, err)
	assert.Equal(t, len(part2), consumed)
	if assert.NotNil(t, msg) {
		assert.Equal(t, "example.com", msg.Hostname)
	}
}

func TestTwoMessagesBackToBack(t *testing.T) {
	s := NewState()
	first := "HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n"
	second := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	raw := []byte(first + second)

	consumed, msg, err := s.Feed(raw)
	assert.NoError(t, err)
	assert.Equal(t, len(first), consumed)
	if assert.NotNil(t, msg) {
		assert.Equal(t, 204, msg.StatusCode)
	}

	consumed2, msg2, err := s.Feed(raw[consumed:])
	assert.NoError(t, err)
	assert.Equal(t, len(second), consumed2)
	if assert.NotNil(t, msg2) {
		assert.Equal(t, 200, msg2.StatusCode)
		assert.Equal(t, []byte("ok"), msg2.Body)
	}
}

func TestBadChunkSizeIsAnError(t *testing.T) {
	s := NewState()
	raw := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n")
	_, _, err := s.Feed(raw)
	assert.Error(t, err)
}

func TestCanonicalHeaderKeys(t *testing.T) {
	s := NewState()
	raw := []byte("HTTP/1.1 200 OK\r\ncontent-length: 0\r\nCONTENT-TYPE: a/b\r\n\r\n")
	_, msg, err := s.Feed(raw)
	assert.NoError(t, err)
	if assert.NotNil(t, msg) {
		assert.Equal(t, []string{"0"}, msg.Headers["Content-Length"])
		assert.Equal(t, "a/b", msg.ContentType)
	}
}
