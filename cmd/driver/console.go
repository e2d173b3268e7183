package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/driver"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/trip"
)

const help = "commands: accept [id] | reject [id] | pickup | complete | status | help"

// console is the terminal driver screen. Everything it does happens on the
// run goroutine; the trip watcher and stdin reader only feed channels.
type console struct {
	sess *driver.Session
	in   io.Reader
	out  io.Writer
	log  *zap.Logger

	pending []string
}

func newConsole(sess *driver.Session, in io.Reader, out io.Writer, log *zap.Logger) *console {
	return &console{sess: sess, in: in, out: out, log: log}
}

func (c *console) run(ctx context.Context) error {
	prompts := make(chan models.Trip, 16)
	changes := make(chan trip.Change, 16)
	go c.sess.Watch(ctx,
		func(t models.Trip) {
			select {
			case prompts <- t:
			case <-ctx.Done():
			}
		},
		func(ch trip.Change) {
			select {
			case changes <- ch:
			case <-ctx.Done():
			}
		})

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	id := c.sess.Identity()
	fmt.Fprintf(c.out, "Tracking %s (%s). %s\n", id.Plate, id.Name, help)
	if active := c.sess.ActiveTrip(); active != "" {
		fmt.Fprintf(c.out, "Resumed active trip %s\n", active)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-prompts:
			c.prompt(t)
		case ch := <-changes:
			c.showChange(ctx, ch)
		case line, ok := <-lines:
			if !ok {
				// keep publishing after stdin closes
				lines = nil
				continue
			}
			c.command(ctx, line)
		}
	}
}

func (c *console) prompt(t models.Trip) {
	c.pending = append(c.pending, t.ID)
	fmt.Fprintf(c.out, "\nNEW REQUEST %s\n  patient: %s\n  pickup: %.5f,%.5f %s\n  hospital: %s\n  priority: %s\n  accept %s | reject %s\n",
		t.ID, orDash(t.PatientName), t.Pickup.Lat, t.Pickup.Lng, t.Address, orDash(t.HospitalID), t.Priority, t.ID, t.ID)
}

// showChange prints the new status and, for Accepted and PickedUp, the
// route from the ambulance to the pickup or hospital.
func (c *console) showChange(ctx context.Context, ch trip.Change) {
	g := c.sess.Guide(ctx, ch.Trip)
	fmt.Fprintf(c.out, "trip %s is now %s", ch.Trip.ID, ch.Trip.Status)
	if g.Reaction.Route != trip.RouteNone {
		fmt.Fprintf(c.out, " (navigate to %s)", g.Reaction.Route)
	}
	fmt.Fprintln(c.out)
	if g.Route != nil {
		fmt.Fprintf(c.out, "  route: %.1f km, %.0f min, %d points\n",
			g.Route.DistanceMeters/1000, math.Ceil(g.Route.DurationSeconds/60), len(g.Route.Points))
	}
}

// command runs one input line. Errors are printed, never fatal.
func (c *console) command(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	var (
		t   models.Trip
		err error
	)
	switch fields[0] {
	case "accept", "a":
		if arg = c.target(arg); arg == "" {
			fmt.Fprintln(c.out, "no pending request")
			return
		}
		t, err = c.sess.Accept(ctx, arg)
	case "reject", "r":
		if arg = c.target(arg); arg == "" {
			fmt.Fprintln(c.out, "no pending request")
			return
		}
		t, err = c.sess.Reject(ctx, arg)
	case "pickup", "p":
		t, err = c.sess.PickUp(ctx)
	case "complete", "c":
		t, err = c.sess.Complete(ctx)
	case "status", "s":
		c.status()
		return
	default:
		fmt.Fprintln(c.out, help)
		return
	}
	if err != nil {
		c.log.Debug("driver action failed", zap.String("command", fields[0]), zap.Error(err))
		fmt.Fprintf(c.out, "%s failed: %v\n", fields[0], err)
		return
	}
	c.drop(t.ID)
	fmt.Fprintf(c.out, "trip %s: %s\n", t.ID, t.Status)
}

// target defaults to the most recent pending request.
func (c *console) target(id string) string {
	if id != "" || len(c.pending) == 0 {
		return id
	}
	return c.pending[len(c.pending)-1]
}

func (c *console) drop(id string) {
	for i, p := range c.pending {
		if p == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func (c *console) status() {
	active := c.sess.ActiveTrip()
	if active == "" {
		active = "none"
	}
	pos := "unknown"
	if p, ok := c.sess.Position(); ok {
		pos = fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lng)
	}
	fmt.Fprintf(c.out, "active trip: %s, position: %s, pending: %v\n", active, pos, c.pending)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
