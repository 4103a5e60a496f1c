package markup

import (
	"regexp"
	"strconv"
	"strings"
)

// Segment is either a run of plain text or an index mark.
type Segment struct {
	Text   string
	Mark   uint32
	IsMark bool
}

// Text is decoded utterance text with index marks kept as structured nodes,
// so escaping never touches the mark tags themselves.
type Text []Segment

// AppendText adds plain text, merging with a trailing text segment.
func (t *Text) AppendText(s string) {
	if s == "" {
		return
	}
	if n := len(*t); n > 0 && !(*t)[n-1].IsMark {
		(*t)[n-1].Text += s
		return
	}
	*t = append(*t, Segment{Text: s})
}

// AppendMark adds an index mark at the current position.
func (t *Text) AppendMark(id uint32) {
	*t = append(*t, Segment{Mark: id, IsMark: true})
}

func (t Text) Empty() bool { return len(t) == 0 }

// HasMarks reports whether any index mark is present.
func (t Text) HasMarks() bool {
	for _, seg := range t {
		if seg.IsMark {
			return true
		}
	}
	return false
}

// Marks returns mark ids in spoken order.
func (t Text) Marks() []uint32 {
	var ids []uint32
	for _, seg := range t {
		if seg.IsMark {
			ids = append(ids, seg.Mark)
		}
	}
	return ids
}

// Plain returns the text without marks.
func (t Text) Plain() string {
	var sb strings.Builder
	for _, seg := range t {
		if !seg.IsMark {
			sb.WriteString(seg.Text)
		}
	}
	return sb.String()
}

// String renders text verbatim with mark tags spliced inline.
func (t Text) String() string {
	var sb strings.Builder
	for _, seg := range t {
		if seg.IsMark {
			sb.WriteString(MarkTag(seg.Mark))
			continue
		}
		sb.WriteString(seg.Text)
	}
	return sb.String()
}

// Markup renders text escaped exactly once, with mark tags left intact.
func (t Text) Markup() string {
	var sb strings.Builder
	for _, seg := range t {
		if seg.IsMark {
			sb.WriteString(MarkTag(seg.Mark))
			continue
		}
		sb.WriteString(Escape(seg.Text))
	}
	return sb.String()
}

// MarkTag returns the SSML mark element for id.
func MarkTag(id uint32) string {
	return `<mark name="` + strconv.FormatUint(uint64(id), 10) + `"/>`
}

var markPattern = regexp.MustCompile(`<mark name="(\d+)"/>`)

// ExtractMarks returns the numeric mark ids present in rendered markup.
func ExtractMarks(s string) []uint32 {
	var ids []uint32
	for _, m := range markPattern.FindAllStringSubmatch(s, -1) {
		id, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	return ids
}
