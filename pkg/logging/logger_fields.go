package logging

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Strings(key string, value []string) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Domain helpers

func Component(name string) Field {
	return String("component", name)
}

func Format(name string) Field {
	return String("format", name)
}

func Path(p string) Field {
	return String("path", p)
}

func FileID(id int) Field {
	return Int("file_id", id)
}

func TreeUID(uid int64) Field {
	return Int64("tree_uid", uid)
}

func Offset(off int64) Field {
	return Int64("offset", off)
}

func Count(n int) Field {
	return Int("count", n)
}

// Bytes renders a byte size the way operators read it ("1.2 GB").
func Bytes(key string, n int64) Field {
	if n < 0 {
		return Int64(key, n)
	}
	return String(key, humanize.Bytes(uint64(n)))
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}
