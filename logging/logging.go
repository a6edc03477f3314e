package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

const (
	defaultMaxSize = 2 * 1024 * 1024 // 2MB
	defaultBackups = 1
)

// RotatingWriter appends to path and shifts it to path.1 .. path.N once it
// grows past maxSize.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
	backups int
}

// Setup sends the standard logger to stdout and a rotating file at logPath.
func Setup(logPath string) (*RotatingWriter, error) {
	rw, err := NewRotatingWriter(logPath, defaultMaxSize, defaultBackups)
	if err != nil {
		return nil, err
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	log.SetFlags(log.LstdFlags | log.LUTC)

	return rw, nil
}

func NewRotatingWriter(path string, maxSize int64, backups int) (*RotatingWriter, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if backups < 1 {
		backups = defaultBackups
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	w := &RotatingWriter{
		file:    f,
		path:    path,
		size:    size,
		maxSize: maxSize,
		backups: backups,
	}
	if size > maxSize {
		if err := w.rotate(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		if rerr := w.rotate(); rerr != nil && err == nil {
			err = rerr
		}
	}

	return n, err
}

func (w *RotatingWriter) rotate() error {
	w.file.Close()

	for i := w.backups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", w.path, i), fmt.Sprintf("%s.%d", w.path, i+1))
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	w.file = f
	w.size = 0
	return nil
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
