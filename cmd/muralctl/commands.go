package main

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drpcorg/mural/client"
	"github.com/drpcorg/mural/syncproto"
	"github.com/drpcorg/mural/txn"
)

var ErrNotConnected = errors.New("not connected, try: connect ws://localhost:8080/room/ws")

var (
	HelpConnect = errors.New("connect ws://host/room/ws")
	HelpPencil  = errors.New("pencil ff0000 3 10,10 12,14 16,15 ...")
	HelpErase   = errors.New("erase 5 10,10 12,14 16,15 ...")
	HelpLine    = errors.New("line 00ff00 2 0,0 100,40")
	HelpFill    = errors.New("fill 0000ffff 8 50,50")
	HelpResize  = errors.New("resize 800 600")
	HelpUndo    = errors.New("undo [op], redo op")
	HelpName    = errors.New("name alice")
	HelpColor   = errors.New("color ff8800")
	HelpPNG     = errors.New("png out.png")
)

func (repl *REPL) CommandHelp() {
	for _, help := range []error{HelpConnect, HelpPencil, HelpErase, HelpLine, HelpFill, HelpResize, HelpUndo, HelpName, HelpColor, HelpPNG} {
		fmt.Println(help.Error())
	}
	fmt.Println("bye, who, status, digest, exit")
}

func parseColor(s string) (c color.RGBA, err error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return c, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return c, err
	}
	return color.RGBA{R: byte(v >> 24), G: byte(v >> 16), B: byte(v >> 8), A: byte(v)}, nil
}

func parsePoint(s string) (p txn.Point, err error) {
	_, err = fmt.Sscanf(s, "%d,%d", &p.X, &p.Y)
	return
}

func parsePoints(args []string) ([]txn.Point, error) {
	pts := make([]txn.Point, 0, len(args))
	for _, arg := range args {
		p, err := parsePoint(arg)
		if err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	return byte(v), err
}

func (repl *REPL) CommandConnect(args []string) error {
	if len(args) != 1 {
		return HelpConnect
	}
	if repl.conn != nil {
		_ = repl.CommandBye(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := client.NewSession(client.Options{Logger: repl.log})
	go s.Run(ctx, 16*time.Millisecond)
	conn, err := client.Dial(ctx, args[0], s, client.DialOptions{})
	if err != nil {
		cancel()
		return err
	}
	repl.session, repl.conn, repl.cancel, repl.ops = s, conn, cancel, nil
	deadline := time.Now().Add(10 * time.Second)
	for s.State() != syncproto.Live && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	fmt.Printf("connected as user %d, %s\n", s.User(), s.State())
	return nil
}

func (repl *REPL) CommandBye(args []string) error {
	if repl.conn == nil {
		return nil
	}
	err := repl.conn.Close()
	repl.cancel()
	repl.conn, repl.cancel = nil, nil
	fmt.Println("disconnected")
	return err
}

func (repl *REPL) edit(recs ...txn.Transaction) error {
	if err := repl.session.Edit(recs...); err != nil {
		return err
	}
	op := recs[0].Op()
	repl.ops = append(repl.ops, op)
	fmt.Printf("op %x, %d records\n", uint64(op), len(recs))
	return nil
}

func (repl *REPL) CommandPencil(args []string, eraser bool) error {
	help, skip := HelpPencil, 2
	if eraser {
		help, skip = HelpErase, 1
	}
	if repl.session == nil {
		return ErrNotConnected
	}
	if len(args) < skip+3 {
		return help
	}
	var c color.RGBA
	var err error
	if !eraser {
		if c, err = parseColor(args[0]); err != nil {
			return err
		}
	}
	size, err := parseByte(args[skip-1])
	if err != nil {
		return err
	}
	pts, err := parsePoints(args[skip:])
	if err != nil {
		return err
	}
	id := repl.session.NewOp()
	recs := make([]txn.Transaction, 0, len(pts)-2)
	for i := 2; i < len(pts); i++ {
		if i > 2 {
			id = repl.session.Next(id.Op())
		}
		if eraser {
			recs = append(recs, txn.NewEraser(id, size, pts[i-2], pts[i-1], pts[i]))
		} else {
			recs = append(recs, txn.NewPencil(id, c, size, pts[i-2], pts[i-1], pts[i]))
		}
	}
	return repl.edit(recs...)
}

func (repl *REPL) CommandLine(args []string) error {
	if repl.session == nil {
		return ErrNotConnected
	}
	if len(args) != 4 {
		return HelpLine
	}
	c, err := parseColor(args[0])
	if err != nil {
		return err
	}
	size, err := parseByte(args[1])
	if err != nil {
		return err
	}
	pts, err := parsePoints(args[2:])
	if err != nil {
		return err
	}
	return repl.edit(txn.NewLine(repl.session.NewOp(), c, size, pts[0], pts[1]))
}

func (repl *REPL) CommandFill(args []string) error {
	if repl.session == nil {
		return ErrNotConnected
	}
	if len(args) != 3 {
		return HelpFill
	}
	c, err := parseColor(args[0])
	if err != nil {
		return err
	}
	tolerance, err := parseByte(args[1])
	if err != nil {
		return err
	}
	at, err := parsePoint(args[2])
	if err != nil {
		return err
	}
	return repl.edit(txn.NewFill(repl.session.NewOp(), c, tolerance, at))
}

func (repl *REPL) CommandResize(args []string) error {
	if repl.session == nil {
		return ErrNotConnected
	}
	if len(args) != 2 {
		return HelpResize
	}
	w, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return err
	}
	h, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return err
	}
	return repl.edit(txn.NewResize(repl.session.NewOp(), uint16(w), uint16(h)))
}

func (repl *REPL) CommandUndo(args []string, redo bool) error {
	if repl.session == nil {
		return ErrNotConnected
	}
	var target txn.OpID
	switch {
	case len(args) == 1:
		v, err := strconv.ParseUint(args[0], 16, 64)
		if err != nil {
			return err
		}
		target = txn.OpID(v)
	case len(args) == 0 && !redo && len(repl.ops) > 0:
		target = repl.ops[len(repl.ops)-1]
		repl.ops = repl.ops[:len(repl.ops)-1]
	default:
		return HelpUndo
	}
	if redo {
		return repl.session.Redo(target)
	}
	return repl.session.Undo(target)
}

func (repl *REPL) CommandName(args []string) error {
	if repl.session == nil {
		return ErrNotConnected
	}
	if len(args) == 0 {
		return HelpName
	}
	repl.session.SetName(strings.Join(args, " "))
	return nil
}

func (repl *REPL) CommandColor(args []string) error {
	if repl.session == nil {
		return ErrNotConnected
	}
	if len(args) != 1 {
		return HelpColor
	}
	c, err := parseColor(args[0])
	if err != nil {
		return err
	}
	repl.session.SetColor(c)
	return nil
}

func (repl *REPL) CommandWho(args []string) error {
	if repl.session == nil {
		return ErrNotConnected
	}
	for _, m := range repl.session.Members() {
		at, _ := repl.session.Cursor(m.User)
		fmt.Printf("%3d\t%-16s\t#%02x%02x%02x\t%d,%d\n", m.User, m.Name, m.Color.R, m.Color.G, m.Color.B, at.X, at.Y)
	}
	return nil
}

func (repl *REPL) CommandStatus(args []string) error {
	if repl.session == nil {
		return ErrNotConnected
	}
	st := repl.session.Status()
	fmt.Printf("state\t%s\nuser\t%d\nlog\t%d\nrendered\t%d\nmoments\t%d\ntiles\t%d\ncanvas\t%dx%d\nsettled\t%v\n",
		st.State, st.User, st.Log, st.Rendered, st.Moments, st.Tiles, st.Width, st.Height, repl.session.Settled())
	return nil
}

func (repl *REPL) CommandDigest(args []string) error {
	if repl.session == nil {
		return ErrNotConnected
	}
	fmt.Printf("%016x\n", repl.session.Status().Digest)
	return nil
}

func (repl *REPL) CommandPNG(args []string) error {
	if repl.session == nil {
		return ErrNotConnected
	}
	if len(args) != 1 {
		return HelpPNG
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	return repl.session.EncodePNG(f)
}
