package txn

// Tool selects the fixed payload layout of a record.
type Tool byte

const (
	Pencil Tool = iota
	Eraser
	Fill
	Line
	Resize
	Undo
	Redo

	ToolCount
)

const (
	ToolOffset    = IdentityLen
	PayloadOffset = ToolOffset + 1
	// MinLen is the shortest record that still carries an identity and a tool.
	MinLen = PayloadOffset
)

type FieldKind byte

const (
	KindColor FieldKind = iota
	KindSize
	KindPoint
	KindDim
	KindOp
)

const (
	ColorLen = 4
	PointLen = 4
	SizeLen  = 1
	DimLen   = 2
)

type Field struct {
	Name string
	Kind FieldKind
	Len  int
}

type Layout struct {
	Name   string
	Fields []Field
	// Len is the total record length, header included.
	Len int
	// Spline layouts end with three points that chain across records.
	Spline bool
}

var (
	fColor     = Field{"color", KindColor, ColorLen}
	fSize      = Field{"size", KindSize, SizeLen}
	fTolerance = Field{"tolerance", KindSize, SizeLen}
	fWidth     = Field{"width", KindDim, DimLen}
	fHeight    = Field{"height", KindDim, DimLen}
	fTarget    = Field{"target", KindOp, OpLen}
)

func point(name string) Field {
	return Field{name, KindPoint, PointLen}
}

// Layouts is indexed by tool code.
var Layouts = [ToolCount]Layout{
	Pencil: newLayout("pencil", fColor, fSize, point("p0"), point("p1"), point("p2")),
	Eraser: newLayout("eraser", fSize, point("p0"), point("p1"), point("p2")),
	Fill:   newLayout("fill", fColor, fTolerance, point("at")),
	Line:   newLayout("line", fColor, fSize, point("from"), point("to")),
	Resize: newLayout("resize", fWidth, fHeight),
	Undo:   newLayout("undo", fTarget),
	Redo:   newLayout("redo", fTarget),
}

// lengths duplicates Layouts[].Len as a flat table for the hot paths.
var lengths [256]int

func init() {
	for code := range Layouts {
		lengths[code] = Layouts[code].Len
	}
}

func newLayout(name string, fields ...Field) Layout {
	l := Layout{Name: name, Fields: fields, Len: PayloadOffset}
	for _, f := range fields {
		l.Len += f.Len
	}
	n := len(fields)
	l.Spline = n >= 3 &&
		fields[n-1].Kind == KindPoint &&
		fields[n-2].Kind == KindPoint &&
		fields[n-3].Kind == KindPoint
	return l
}

// Len returns the record length for a tool code, 0 for unknown codes.
func Len(code byte) int {
	return lengths[code]
}

func (t Tool) Valid() bool {
	return t < ToolCount
}

func (t Tool) Layout() *Layout {
	return &Layouts[t]
}

func (t Tool) String() string {
	if !t.Valid() {
		return "unknown"
	}
	return Layouts[t].Name
}

// IsMarker reports undo/redo records.
func (t Tool) IsMarker() bool {
	return t == Undo || t == Redo
}

// Offset returns the payload offset of the named field, -1 if absent.
func (l *Layout) Offset(name string) int {
	off := PayloadOffset
	for _, f := range l.Fields {
		if f.Name == name {
			return off
		}
		off += f.Len
	}
	return -1
}

// StaticLen is the length of the payload head preceding the spline points.
func (l *Layout) StaticLen() int {
	if !l.Spline {
		return l.Len - PayloadOffset
	}
	return l.Len - PayloadOffset - 3*PointLen
}
