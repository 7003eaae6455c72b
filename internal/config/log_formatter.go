package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	colorRed         = 31
	colorGreen       = 32
	colorYellow      = 33
	colorBlue        = 36
	colorGray        = 37
	colorLightGreen  = 92
	colorLightYellow = 93
	colorCyan        = 96
)

// NbFormatter renders entries as colored key=value pairs. The "object" field
// always goes first, the rest are sorted by key.
type NbFormatter struct {
	NoColors   bool
	WithSource bool
}

func (f *NbFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b strings.Builder

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	f.pair(&b, "level", f.paint(levelColor(entry.Level), level))
	f.pair(&b, "ts", f.paint(colorLightYellow, entry.Time.Format("2006-01-02 15:04:05.000")))

	if f.WithSource {
		if _, file, line, ok := runtime.Caller(6); ok {
			f.pair(&b, "source", f.paint(colorLightYellow, fmt.Sprintf("%s:%d", filepath.Base(file), line)))
		}
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "object" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := entry.Data["object"]; ok {
		keys = append([]string{"object"}, keys...)
	}

	for _, k := range keys {
		s := renderValue(entry.Data[k])
		if s == "" {
			continue
		}
		f.pair(&b, k, f.paint(valueColor(s), s))
	}
	f.pair(&b, "msg", f.paint(colorLightGreen, strconv.Quote(entry.Message)))

	output := strings.ReplaceAll(b.String(), "\r", "\\r")
	output = strings.ReplaceAll(output, "\n", "\\n") + "\n"
	return []byte(output), nil
}

func (f *NbFormatter) pair(b *strings.Builder, key, value string) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(f.paint(colorCyan, key))
	b.WriteByte('=')
	b.WriteString(value)
}

func (f *NbFormatter) paint(color int, s string) string {
	if f.NoColors {
		return s
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}

func levelColor(level log.Level) int {
	switch level {
	case log.DebugLevel, log.TraceLevel:
		return colorGray
	case log.WarnLevel:
		return colorYellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		return colorRed
	default:
		return colorBlue
	}
}

func renderValue(val any) string {
	if err, ok := val.(error); ok {
		return strconv.Quote(err.Error())
	}
	m, err := json.Marshal(val)
	if err != nil {
		return ""
	}
	return string(m)
}

func valueColor(s string) int {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return colorGreen
	}
	if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
		return colorLightYellow
	}
	return colorCyan
}
