package frames

import "time"

type Kind string

const (
	KindBinary Kind = "binary"
	KindText   Kind = "text"
)

// Frame is one message on a message-framed transport.
type Frame interface {
	Kind() Kind
	PTS() int64
	RawPayload() []byte
}

// BinaryFrame carries raw audio bytes.
type BinaryFrame struct {
	pts  int64
	data []byte
}

func NewBinaryFrame(pts int64, data []byte) BinaryFrame {
	return BinaryFrame{pts: pts, data: data}
}

func (b BinaryFrame) Kind() Kind         { return KindBinary }
func (b BinaryFrame) PTS() int64         { return b.pts }
func (b BinaryFrame) RawPayload() []byte { return b.data }
func (b BinaryFrame) Data() []byte       { return append([]byte(nil), b.data...) }
func (b BinaryFrame) Len() int           { return len(b.data) }

// TextFrame carries a UTF-8 JSON control or transcript message.
type TextFrame struct {
	pts  int64
	text string
}

func NewTextFrame(pts int64, text string) TextFrame {
	return TextFrame{pts: pts, text: text}
}

func (t TextFrame) Kind() Kind         { return KindText }
func (t TextFrame) PTS() int64         { return t.pts }
func (t TextFrame) RawPayload() []byte { return []byte(t.text) }
func (t TextFrame) Text() string       { return t.text }

// Now returns a presentation timestamp for a frame created at this instant.
func Now() int64 { return time.Now().UnixNano() }
