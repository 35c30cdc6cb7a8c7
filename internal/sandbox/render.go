package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"unicode/utf8"
)

const (
	// MaxResultLength bounds the rendered result in runes
	MaxResultLength = 4000
	truncatedSuffix = "... [truncated]"
)

// RenderResult turns an analysis result into text for the synthesis prompt.
// Strings pass through; other values are JSON encoded when possible.
func RenderResult(v any) string {
	var text string
	switch x := v.(type) {
	case nil:
		text = "null"
	case string:
		text = x
	case fmt.Stringer:
		text = x.String()
	default:
		if b, err := json.Marshal(x); err == nil {
			text = string(b)
		} else {
			text = fmt.Sprintf("%v", x)
		}
	}
	return capRunes(text, MaxResultLength)
}

func capRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + truncatedSuffix
}

// limitedBuffer keeps the first max bytes written and drops the rest. It is
// safe for concurrent use because a timed-out evaluation may still be writing.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (lb *limitedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	remaining := lb.max - lb.buf.Len()
	if remaining <= 0 {
		lb.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		lb.truncated = true
		lb.buf.Write(p[:remaining])
		return len(p), nil
	}
	return lb.buf.Write(p)
}

func (lb *limitedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.truncated {
		return lb.buf.String() + truncatedSuffix
	}
	return lb.buf.String()
}

func (lb *limitedBuffer) Bytes() []byte {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return append([]byte(nil), lb.buf.Bytes()...)
}
