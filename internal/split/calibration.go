package split

import (
	"fmt"
	"math"

	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/errs"
)

// Calibration is a chronological split of a training set into a sub-training
// head and a calibration tail, by whole events.
type Calibration struct {
	Subtrain       []*dataset.Record
	Calib          []*dataset.Record
	SubtrainEvents int
	CalibEvents    int
}

// CalibrationSplit holds out the last floor(n*ratio) events (at least one) by
// (start, event id) order, leaving at least one event for sub-training.
func CalibrationSplit(train []*dataset.Record, ratio float64) (*Calibration, error) {
	if !(ratio > 0 && ratio < 1) {
		return nil, errs.Invalid("calibration_ratio", "must be in (0,1), got %g", ratio)
	}
	events := dataset.GroupByEvent(train)
	dataset.SortEvents(events)

	n := len(events)
	calibCount := int(math.Max(1, math.Floor(float64(n)*ratio)))
	trainCount := int(math.Max(1, float64(n-calibCount)))
	if trainCount > n {
		trainCount = n
	}

	c := &Calibration{SubtrainEvents: trainCount, CalibEvents: n - trainCount}
	for i, ev := range events {
		if i < trainCount {
			c.Subtrain = append(c.Subtrain, ev.Rows...)
		} else {
			c.Calib = append(c.Calib, ev.Rows...)
		}
	}
	return c, nil
}

// Sufficient reports whether the calibration tail meets the minimum event count
func (c *Calibration) Sufficient(minEvents int) bool {
	return c.CalibEvents >= minEvents
}

// InsufficientError describes a calibration tail below the minimum
func (c *Calibration) InsufficientError(minEvents int) error {
	return errs.InsufficientDataError{
		Reason:   errs.ReasonNotEnoughCalib,
		Message:  fmt.Sprintf("calibration event count too low (%d < %d)", c.CalibEvents, minEvents),
		Have:     c.CalibEvents,
		Required: minEvents,
	}
}
