// Package storeerr defines the error categories spec.md §7 names: IO, Data,
// Compression, MemoryMap, and Serialization. Each is a sentinel that Wrap
// attaches to an underlying cause, so callers can test the category with
// errors.Is without depending on a
// specific message, rather than a bespoke error-code enum.
package storeerr

import "errors"

var (
	// ErrIO covers file/socket failures.
	ErrIO = errors.New("io error")
	// ErrData covers malformed on-disk structure: bad counts, overflowing
	// offsets, decode/length mismatches.
	ErrData = errors.New("data error")
	// ErrCompression covers Gorilla bitstream decode failures.
	ErrCompression = errors.New("compression error")
	// ErrMemoryMap covers mmap setup failures.
	ErrMemoryMap = errors.New("memory-map error")
	// ErrSerialization covers index-key (SeriesKey) parse failures.
	ErrSerialization = errors.New("serialization error")
)

// Wrap annotates err with category, preserving errors.Is(result, category)
// and errors.Is(result, err) both holding, plus the original message.
func Wrap(category error, context string, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{category: category, context: context, err: err}
}

type wrapped struct {
	category error
	context  string
	err      error
}

func (w *wrapped) Error() string {
	if w.context == "" {
		return w.category.Error() + ": " + w.err.Error()
	}
	return w.category.Error() + ": " + w.context + ": " + w.err.Error()
}

func (w *wrapped) Unwrap() []error {
	return []error{w.category, w.err}
}
