package split

import "github.com/sawpanic/edgerun/internal/dataset"

// Window names the train and test date bounds of a single out-of-time split
type Window struct {
	TrainStart string `json:"train_start" yaml:"train_start" validate:"required,datetime=2006-01-02"`
	TrainEnd   string `json:"train_end" yaml:"train_end" validate:"required,datetime=2006-01-02"`
	TestStart  string `json:"test_start" yaml:"test_start" validate:"required,datetime=2006-01-02"`
	TestEnd    string `json:"test_end" yaml:"test_end" validate:"required,datetime=2006-01-02"`
}

// DefaultWindow trains through the 2023-2024 season and tests on 2024-2025
func DefaultWindow() Window {
	return Window{
		TrainStart: "2021-10-01",
		TrainEnd:   "2024-06-30",
		TestStart:  "2024-10-01",
		TestEnd:    "2025-06-30",
	}
}

// Ranges parses the bounds and applies the temporal leakage guard
func (w Window) Ranges() (DateRange, DateRange, error) {
	train, err := ParseDateRange(w.TrainStart, w.TrainEnd)
	if err != nil {
		return DateRange{}, DateRange{}, err
	}
	test, err := ParseDateRange(w.TestStart, w.TestEnd)
	if err != nil {
		return DateRange{}, DateRange{}, err
	}
	if err := GuardRanges(train, test); err != nil {
		return DateRange{}, DateRange{}, err
	}
	return train, test, nil
}

// Apply splits records by the window's ranges
func (w Window) Apply(records []*dataset.Record) (*Partition, error) {
	train, test, err := w.Ranges()
	if err != nil {
		return nil, err
	}
	return Temporal(records, train, test)
}
