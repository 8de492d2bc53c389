// Package events carries download progress notifications from the engine to
// whoever is listening: a terminal, a status file, an HTTP status endpoint
// or an embedding application.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags what a download is for so sinks can route without knowing who
// started it.
type Kind int

const (
	KindFile Kind = iota
	KindUpdate
	KindPlugin
)

var kindNames = map[Kind]string{
	KindFile:   "file",
	KindUpdate: "update",
	KindPlugin: "plugin",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return k, nil
		}
	}
	if s == "" {
		return KindFile, nil
	}
	return KindFile, fmt.Errorf("unknown event kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Notification is a point-in-time progress report for one download.
type Notification struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Progress    string    `json:"progress"` // "42.0%", empty when the total is unknown
	Percent     float64   `json:"percent"`  // -1 when the total is unknown
	Speed       string    `json:"speed"`    // "12.34MB/s"
	BytesPerSec float64   `json:"bytes_per_sec"`
	Downloaded  int64     `json:"downloaded"`
	Total       int64     `json:"total"`
	Downloading bool      `json:"downloading"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

// Terminal reports whether this is the last notification of a download.
func (n Notification) Terminal() bool {
	return !n.Downloading
}

func (n Notification) Failed() bool {
	return !n.Downloading && n.Error != ""
}

// Sink accepts progress notifications. Implementations must not block the
// caller for long; the progress reporter calls Notify from its own loop.
type Sink interface {
	Notify(n Notification)
}
