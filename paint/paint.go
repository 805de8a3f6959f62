// Package paint turns transactions into pixels. Every job is a Task that
// advances in small steps, so the render loop can stop at any step boundary
// when its frame budget runs out and either resume or drop the task later.
package paint

import (
	"time"

	"github.com/drpcorg/mural/canvas"
	"github.com/drpcorg/mural/txlog"
	"github.com/drpcorg/mural/txn"
)

// Task is a resumable paint job. Step does a bounded slice of work and
// reports completion. A task may be dropped between steps.
type Task interface {
	Step() (done bool)
}

// Painter starts the task rendering rec onto c.
type Painter interface {
	Begin(c *canvas.Canvas, rec txn.Transaction) Task
}

// Driver feeds transactions from the log to the painter under a deadline.
type Driver struct {
	painter Painter
	canvas  *canvas.Canvas
	log     *txlog.Log
	current Task
	now     func() time.Time

	painted int
}

func NewDriver(p Painter, c *canvas.Canvas, l *txlog.Log) *Driver {
	return &Driver{painter: p, canvas: c, log: l, now: time.Now}
}

// Busy means a task is half done; the canvas is between log positions.
func (d *Driver) Busy() bool {
	return d.current != nil
}

// Abandon drops the task in progress, e.g. after a rollback.
func (d *Driver) Abandon() {
	d.current = nil
}

// Painted counts finished tasks.
func (d *Driver) Painted() int {
	return d.painted
}

// Run paints until the log is drained or the deadline passes. At least one
// step is taken per call. It reports whether the log is drained.
func (d *Driver) Run(deadline time.Time) bool {
	for {
		if d.current == nil {
			rec, ok := d.log.NextTransaction()
			if !ok {
				return true
			}
			d.current = d.painter.Begin(d.canvas, rec)
		}
		if d.current.Step() {
			d.current = nil
			d.painted++
		}
		if !d.now().Before(deadline) {
			return d.current == nil && d.log.Finished()
		}
	}
}

// Drain paints everything without a deadline.
func (d *Driver) Drain() {
	for !d.Run(time.Now().Add(time.Hour)) {
	}
}
