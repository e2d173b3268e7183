package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/validation"
)

// parseFix reads a "lat,lng" line. Blank lines and # comments yield ok=false.
func parseFix(line string) (c models.Coord, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return c, false, nil
	}
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return c, false, fmt.Errorf("want lat,lng, got %q", line)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return c, false, fmt.Errorf("lat: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return c, false, fmt.Errorf("lng: %w", err)
	}
	if !validation.ValidateCoordinates(lat, lng) {
		return c, false, fmt.Errorf("coordinates out of range: %q", line)
	}
	return models.Coord{Lat: lat, Lng: lng}, true, nil
}

// replayFixes sends each fix in path to out, one per interval.
func replayFixes(ctx context.Context, path string, interval time.Duration, out chan<- models.Fix) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		c, ok, err := parseFix(sc.Text())
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, n, err)
		}
		if !ok {
			continue
		}
		select {
		case out <- models.Fix{Coord: c, At: time.Now().UTC()}:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sc.Err()
}
