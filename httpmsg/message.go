// Package httpmsg implements a resumable HTTP/1.x framer. A State is
// driven synchronously: the connection tracker calls Feed with whatever
// ordered bytes it has and gets back either a completed Message or an
// instruction to wait for more, with no internal concurrency and no
// lookahead past what Feed reports consumed.
package httpmsg

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
)

// Message is one fully framed HTTP/1.x request or response.
type Message struct {
	IsRequest   bool
	Method      string
	Path        string
	Proto       string
	StatusCode  int
	StatusText  string
	Headers     map[string][]string
	Hostname    string
	ContentType string
	Body        []byte
	Fields      *field.Field
}

func (m *Message) addHeader(key, value string) {
	key = http1CanonicalKey(key)
	if m.Headers == nil {
		m.Headers = make(map[string][]string)
	}
	m.Headers[key] = append(m.Headers[key], value)
	switch key {
	case "Host":
		m.Hostname = value
	case "Content-Type":
		m.ContentType = value
	}
}

func http1CanonicalKey(key string) string {
	parts := strings.Split(strings.ToLower(key), "-")
	for i, p := range parts {
		if len(p) > 0 {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

// mode is the resumable state a direction's HTTP framer sits in between
// calls to Feed.
type mode int

const (
	modeStart mode = iota
	modeHeader
	modeBody
	modeChunkSize
	modeChunkData
	modeChunkCRLF
	modeChunkTrailer
	modeDone
)

var requestMethods = []string{
	"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH", "TRACE", "CONNECT",
}

// State holds one TCP direction's in-progress HTTP message. An endpoint
// owns exactly one of these per direction.
type State struct {
	mode mode
	msg  *Message

	headerExtra []byte // bytes carried across Feed calls mid-header

	contentLength    int
	haveLength       bool
	chunked          bool
	bodyRead         int
	chunkRemaining   int
	bodyBuf          bytes.Buffer
	fieldBuilder     *field.Builder
	headerBlockStart int
}

// NewState returns a framer ready to start scanning a fresh message.
func NewState() *State {
	return &State{mode: modeStart}
}

// LooksLikeStart reports whether buf begins with a request line or status
// line, the rule that decides whether a direction's bytes are treated as
// HTTP at all.
func LooksLikeStart(buf []byte) (isRequest bool, ok bool) {
	if bytes.HasPrefix(buf, []byte("HTTP/1.")) {
		return false, true
	}
	for _, m := range requestMethods {
		if bytes.HasPrefix(buf, []byte(m+" ")) {
			return true, true
		}
	}
	return false, false
}

// Feed advances the state machine as far as buf allows. It returns the
// number of bytes consumed from the front of buf and, when a message just
// completed, that Message. When more bytes are needed before progress can
// resume, consumed reflects only what was safely used (e.g. full chunk
// bodies) and msg is nil; the caller is expected to re-invoke Feed with the
// unconsumed remainder once more bytes have arrived; a partial header
// line is carried internally so the parse resumes mid-line.
func (s *State) Feed(buf []byte) (consumed int, msg *Message, err error) {
	total := 0
	for {
		switch s.mode {
		case modeStart:
			isRequest, ok := LooksLikeStart(buf[total:])
			if !ok {
				return total, nil, nil
			}
			s.msg = &Message{IsRequest: isRequest}
			s.fieldBuilder = field.NewBuilder()
			s.headerBlockStart = total
			s.mode = modeHeader

		case modeHeader:
			n, done, herr := s.feedHeader(buf[total:])
			total += n
			if herr != nil {
				return total, nil, herr
			}
			if !done {
				return total, nil, nil
			}

		case modeBody:
			if s.haveLength {
				remaining := s.contentLength - s.bodyRead
				avail := len(buf) - total
				if avail < remaining {
					s.bodyBuf.Write(buf[total:])
					s.bodyRead += avail
					return len(buf), nil, nil
				}
				s.bodyBuf.Write(buf[total : total+remaining])
				total += remaining
				s.mode = modeDone
				continue
			}
			if s.chunked {
				s.mode = modeChunkSize
				continue
			}
			// No Content-Length and not chunked: body runs to connection close,
			// which this framer cannot observe directly. Treat everything
			// remaining as body and stay in modeBody for the next Feed call.
			s.bodyBuf.Write(buf[total:])
			return len(buf), nil, nil

		case modeChunkSize:
			n, size, done, herr := readChunkSizeLine(buf[total:])
			if herr != nil {
				return total, nil, herr
			}
			if !done {
				return total, nil, nil
			}
			total += n
			if size == 0 {
				s.mode = modeChunkTrailer
				continue
			}
			s.chunkRemaining = size
			s.mode = modeChunkData

		case modeChunkData:
			avail := len(buf) - total
			if avail < s.chunkRemaining {
				s.bodyBuf.Write(buf[total:])
				s.chunkRemaining -= avail
				return len(buf), nil, nil
			}
			s.bodyBuf.Write(buf[total : total+s.chunkRemaining])
			total += s.chunkRemaining
			s.chunkRemaining = 0
			s.mode = modeChunkCRLF

		case modeChunkCRLF:
			if len(buf)-total < 2 {
				return total, nil, nil
			}
			total += 2 // trailing CRLF after each chunk's data
			s.mode = modeChunkSize

		case modeChunkTrailer:
			// Final CRLF (no trailer headers supported); wait for it whole.
			if len(buf)-total < 2 {
				return total, nil, nil
			}
			total += 2
			s.mode = modeDone

		case modeDone:
			s.msg.Body = s.bodyBuf.Bytes()
			s.msg.Fields = s.fieldBuilder.Build(s.headerBlockStart, total-s.headerBlockStart, summaryLine(s.msg))
			completed := s.msg
			*s = State{mode: modeStart}
			return total, completed, nil
		}
	}
}

func summaryLine(m *Message) string {
	if m.IsRequest {
		return fmt.Sprintf("%s %s %s", m.Method, m.Path, m.Proto)
	}
	return fmt.Sprintf("%s %d %s", m.Proto, m.StatusCode, m.StatusText)
}

// feedHeader consumes as many complete header lines as buf has, carrying an
// incomplete trailing line over in headerExtra for the next Feed call.
func (s *State) feedHeader(buf []byte) (consumed int, done bool, err error) {
	data := buf
	if len(s.headerExtra) > 0 {
		data = append(append([]byte{}, s.headerExtra...), buf...)
	}
	cur := cursor.New(data)
	consumedFromCarry := -len(s.headerExtra)

	for {
		idx := cur.SearchCRLF(4096)
		if idx < 0 {
			// Carry the partial line; the bytes move into headerExtra, so
			// the caller must treat all of buf as consumed and the next
			// Feed resumes with them prepended.
			s.headerExtra = append([]byte{}, data[cur.Pos():]...)
			return len(buf), false, nil
		}
		line, _ := cur.ReadString(idx)
		cur.Advance(2) // the CRLF itself

		if line == "" {
			s.headerExtra = nil
			if err := s.finishHeaders(); err != nil {
				return translateConsumed(cur.Pos(), consumedFromCarry), true, err
			}
			return translateConsumed(cur.Pos(), consumedFromCarry), true, nil
		}

		if s.msg.Method == "" && s.msg.Proto == "" && !s.haveStartLine() {
			s.parseStartLine(line)
			continue
		}

		if colon := strings.IndexByte(line, ':'); colon >= 0 {
			key := strings.TrimSpace(line[:colon])
			value := strings.TrimSpace(line[colon+1:])
			s.msg.addHeader(key, value)
			s.fieldBuilder.Literal(0, 0, key+": "+value)
		}
	}
}

func (s *State) haveStartLine() bool {
	if s.msg.IsRequest {
		return s.msg.Method != ""
	}
	return s.msg.Proto != ""
}

func (s *State) parseStartLine(line string) {
	parts := strings.SplitN(line, " ", 3)
	if s.msg.IsRequest {
		if len(parts) >= 1 {
			s.msg.Method = parts[0]
		}
		if len(parts) >= 2 {
			s.msg.Path = parts[1]
		}
		if len(parts) >= 3 {
			s.msg.Proto = parts[2]
		}
		return
	}
	if len(parts) >= 1 {
		s.msg.Proto = parts[0]
	}
	if len(parts) >= 2 {
		if code, err := strconv.Atoi(parts[1]); err == nil {
			s.msg.StatusCode = code
		}
	}
	if len(parts) >= 3 {
		s.msg.StatusText = parts[2]
	}
}

func (s *State) finishHeaders() error {
	if cl, ok := s.msg.Headers["Content-Length"]; ok && len(cl) > 0 {
		n, err := strconv.Atoi(strings.TrimSpace(cl[0]))
		if err == nil {
			s.contentLength = n
			s.haveLength = true
		}
	}
	for _, te := range s.msg.Headers["Transfer-Encoding"] {
		if strings.Contains(strings.ToLower(te), "chunked") {
			s.chunked = true
		}
	}
	if !s.haveLength && !s.chunked && !s.msg.IsRequest {
		// Responses without a declared length are read-to-close; this framer
		// has no visibility into connection close, so it accumulates
		// whatever bytes follow until the endpoint resets it, rather than
		// stalling forever.
	}
	s.mode = modeBody
	if !s.haveLength && !s.chunked && s.msg.IsRequest {
		// A request with neither header has no body at all.
		s.mode = modeDone
	}
	return nil
}

func readChunkSizeLine(buf []byte) (consumed int, size int, done bool, err error) {
	cur := cursor.New(buf)
	idx := cur.SearchCRLF(32)
	if idx < 0 {
		return 0, 0, false, nil
	}
	line, _ := cur.ReadString(idx)
	cur.Advance(2)
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("httpmsg: bad chunk size %q: %w", line, err)
	}
	return cur.Pos(), int(n), true, nil
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func translateConsumed(pos, consumedFromCarry int) int {
	return max0(pos + consumedFromCarry)
}
