package logcollection

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

// StreamType identifies the source stream
type StreamType string

const (
	StdoutStream StreamType = "stdout"
	StderrStream StreamType = "stderr"
)

// maxLineSize bounds a single collected line; a longer line is dropped whole
const maxLineSize = 256 * 1024

// UnitLogStatus reports collection activity for one unit
type UnitLogStatus struct {
	UnitName       string
	LinesProcessed int64
	BytesProcessed int64
	LastActivity   time.Time
}

// Collector re-logs the stdout and stderr lines of launched units through
// the supervisor logger, prefixed with the unit name.
type Collector struct {
	logger logging.Logger

	mu    sync.Mutex
	units map[string]*unitCollector

	totalLines int64 // atomic
}

type unitCollector struct {
	name   string
	logger logging.Logger

	mu             sync.Mutex
	linesProcessed int64
	bytesProcessed int64
	lastActivity   time.Time
}

// NewCollector creates a collector logging through the given logger
func NewCollector(logger logging.Logger) *Collector {
	return &Collector{
		logger: logger,
		units:  make(map[string]*unitCollector),
	}
}

// Writers returns the stdout and stderr sinks of one process launch.
// Each must be closed once the process has exited; Close returns after
// the remaining buffered lines have been logged.
func (c *Collector) Writers(unitName string) (stdout, stderr io.WriteCloser) {
	unit := c.unit(unitName)
	return c.newStreamWriter(unit, StdoutStream), c.newStreamWriter(unit, StderrStream)
}

// Status returns the collection counters of a unit
func (c *Collector) Status(unitName string) (UnitLogStatus, bool) {
	c.mu.Lock()
	unit, ok := c.units[unitName]
	c.mu.Unlock()
	if !ok {
		return UnitLogStatus{}, false
	}

	unit.mu.Lock()
	defer unit.mu.Unlock()
	return UnitLogStatus{
		UnitName:       unit.name,
		LinesProcessed: unit.linesProcessed,
		BytesProcessed: unit.bytesProcessed,
		LastActivity:   unit.lastActivity,
	}, true
}

// TotalLines is the number of lines collected from all units
func (c *Collector) TotalLines() int64 {
	return atomic.LoadInt64(&c.totalLines)
}

func (c *Collector) unit(name string) *unitCollector {
	c.mu.Lock()
	defer c.mu.Unlock()

	unit, ok := c.units[name]
	if !ok {
		unit = &unitCollector{
			name:   name,
			logger: logging.NewUnitLogger(c.logger, name),
		}
		c.units[name] = unit
	}
	return unit
}

func (c *Collector) newStreamWriter(unit *unitCollector, streamType StreamType) io.WriteCloser {
	reader, writer := io.Pipe()
	w := &streamWriter{
		PipeWriter: writer,
		done:       make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		c.streamReader(unit, reader, streamType)
	}()
	return w
}

// streamReader logs every complete line read from the stream. A line
// longer than maxLineSize is dropped and reading resumes with the next one.
func (c *Collector) streamReader(unit *unitCollector, stream io.Reader, streamType StreamType) {
	reader := bufio.NewReaderSize(stream, 4096)
	line := make([]byte, 0, 4096)
	oversized := false

	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if err != io.EOF {
				unit.logger.Warnf("Error reading %s: %v", streamType, err)
				// Keep draining so the process never blocks on a full pipe
				io.Copy(io.Discard, stream)
			}
			if oversized {
				c.dropLine(unit, streamType)
			} else if len(line) > 0 {
				c.logLine(unit, streamType, line)
			}
			return
		}

		if !oversized {
			if len(line)+len(chunk) > maxLineSize {
				oversized = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if isPrefix {
			continue
		}

		if oversized {
			c.dropLine(unit, streamType)
			oversized = false
		} else {
			c.logLine(unit, streamType, line)
		}
		line = line[:0]
	}
}

func (c *Collector) logLine(unit *unitCollector, streamType StreamType, line []byte) {
	unit.mu.Lock()
	unit.linesProcessed++
	unit.bytesProcessed += int64(len(line))
	unit.lastActivity = time.Now()
	unit.mu.Unlock()
	atomic.AddInt64(&c.totalLines, 1)

	unit.logger.Infof("[%s] %s", streamType, line)
}

func (c *Collector) dropLine(unit *unitCollector, streamType StreamType) {
	unit.logger.Warnf("Dropped %s line longer than %d bytes", streamType, maxLineSize)
}

type streamWriter struct {
	*io.PipeWriter
	done chan struct{}
}

func (w *streamWriter) Close() error {
	err := w.PipeWriter.Close()
	<-w.done
	return err
}
