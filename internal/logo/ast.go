package logo

// Op identifies a command in the turtle vocabulary.
type Op uint8

const (
	OpForward Op = iota + 1
	OpBack
	OpLeft
	OpRight
	OpPenUp
	OpPenDown
	OpSetPen
	OpRepeat
)

var opNames = map[Op]string{
	OpForward: "fd",
	OpBack:    "bk",
	OpLeft:    "lt",
	OpRight:   "rt",
	OpPenUp:   "pu",
	OpPenDown: "pd",
	OpSetPen:  "setpen",
	OpRepeat:  "repeat",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "op?"
}

// Motion reports whether the op is realized by the motion controller.
func (o Op) Motion() bool {
	switch o {
	case OpForward, OpBack, OpLeft, OpRight:
		return true
	}
	return false
}

// Command is one parsed statement. Only the fields relevant to Op are set:
// Arg for fd/bk/lt/rt, Item and Uses for setpen, Count and Body for repeat.
// Commands are values and are never mutated after parsing.
type Command struct {
	Op    Op
	Arg   float64
	Item  int
	Uses  int
	Count int
	Body  List
}

// List is an ordered statement list; index order is execution order.
type List []Command

func Forward(d float64) Command { return Command{Op: OpForward, Arg: d} }
func Back(d float64) Command    { return Command{Op: OpBack, Arg: d} }
func Left(a float64) Command    { return Command{Op: OpLeft, Arg: a} }
func Right(a float64) Command   { return Command{Op: OpRight, Arg: a} }
func PenUp() Command            { return Command{Op: OpPenUp} }
func PenDown() Command          { return Command{Op: OpPenDown} }

func SetPen(item, uses int) Command {
	return Command{Op: OpSetPen, Item: item, Uses: uses}
}

func Repeat(count int, body ...Command) Command {
	var l List
	if len(body) > 0 {
		l = List(body)
	}
	return Command{Op: OpRepeat, Count: count, Body: l}
}

// HasAtomic reports whether flattening l yields at least one non-repeat command.
func (l List) HasAtomic() bool {
	for _, c := range l {
		if c.Op != OpRepeat {
			return true
		}
		if c.Count > 0 && c.Body.HasAtomic() {
			return true
		}
	}
	return false
}

// Size returns the number of atomic commands l expands to, saturating at limit.
// A non-positive limit means no limit.
func (l List) Size(limit int) int {
	n := 0
	for _, c := range l {
		if c.Op != OpRepeat {
			n++
		} else if c.Count > 0 {
			inner := c.Body.Size(limit)
			if inner > 0 {
				if limit > 0 && c.Count > (limit-n)/inner+1 {
					return limit
				}
				n += c.Count * inner
			}
		}
		if limit > 0 && n >= limit {
			return limit
		}
	}
	return n
}
