package log

import (
	"log/slog"
	"time"
)

// Field is a single structured key/value attached to a log entry.
type Field struct {
	key   string
	value any
}

func (f Field) attr() slog.Attr { return slog.Any(f.key, f.value) }

// Str returns a string field.
func Str(key, value string) Field { return Field{key: key, value: value} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{key: key, value: value} }

// Uint64 returns a uint64 field.
func Uint64(key string, value uint64) Field { return Field{key: key, value: value} }

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{key: key, value: value} }

// Dur returns a duration field.
func Dur(key string, value time.Duration) Field { return Field{key: key, value: value} }

// Err returns an error field under the conventional "error" key.
func Err(err error) Field { return Field{key: "error", value: err} }

// Component tags entries with the emitting component name.
func Component(name string) Field { return Field{key: "component", value: name} }
