package infra

import (
	"context"
	"errors"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	checkExecInterval = 5 * time.Second
)

var ErrExecutableChanged = errors.New("executable changed on disk")

// WatchExecutable blocks until ctx is done or the running binary is replaced,
// in which case it returns ErrExecutableChanged so the supervisor restarts us.
func WatchExecutable(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = checkExecInterval
	}
	exeFilename, err := os.Executable()
	if err != nil {
		log.WithError(err).Warn("cant resolve executable path for monitor")
		<-ctx.Done()
		return nil
	}
	return watchFile(ctx, exeFilename, interval)
}

func watchFile(ctx context.Context, filename string, interval time.Duration) error {
	stat, err := os.Stat(filename)
	if err != nil {
		log.WithError(err).Warn("cant stat executable for monitor")
		<-ctx.Done()
		return nil
	}
	originalTime := stat.ModTime()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stat, err := os.Stat(filename)
			if err != nil {
				log.WithError(err).Warn("cant stat executable for monitor tick")
				continue
			}
			if !originalTime.Equal(stat.ModTime()) {
				return ErrExecutableChanged
			}
		}
	}
}
