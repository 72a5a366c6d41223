package logo

import (
	"strconv"
	"strings"
)

// String renders the canonical form of c. Parsing the canonical form yields c again.
func (c Command) String() string {
	var b strings.Builder
	c.write(&b)
	return b.String()
}

// String renders l in canonical form, statements joined by "; ".
func (l List) String() string {
	var b strings.Builder
	l.write(&b)
	return b.String()
}

func (l List) write(b *strings.Builder) {
	for i, c := range l {
		if i > 0 {
			b.WriteString("; ")
		}
		c.write(b)
	}
}

func (c Command) write(b *strings.Builder) {
	b.WriteString(c.Op.String())
	switch c.Op {
	case OpForward, OpBack, OpLeft, OpRight:
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(c.Arg, 'g', -1, 64))
	case OpSetPen:
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(c.Item))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(c.Uses))
	case OpRepeat:
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(c.Count))
		b.WriteString(" [")
		c.Body.write(b)
		b.WriteByte(']')
	}
}
