package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// JSONLJournal writes events as zstd-compressed JSON lines, one file per
// simulated day: <dir>/events-day-NNNN.jsonl.zst. Records arriving late from
// an earlier day go to the current file. Safe for concurrent use.
//
// Recording cannot fail from the agents' point of view: the first write error
// disables the journal and is returned by Close.
type JSONLJournal struct {
	Emitter

	dir       string
	dayLength int64

	mu     sync.Mutex
	day    int64
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
	files  []string
	count  int64
	err    error
	closed bool
}

// NewJSONLJournal creates a journal under dir. Files are created lazily.
func NewJSONLJournal(dir string, dayLength int64) (*JSONLJournal, error) {
	if dir == "" {
		return nil, errors.New("journal: empty directory")
	}
	if dayLength <= 0 {
		return nil, fmt.Errorf("journal: day length must be > 0, got %d", dayLength)
	}
	j := &JSONLJournal{dir: dir, dayLength: dayLength, day: -1}
	j.Emitter = j.write
	return j, nil
}

// Files lists the files written so far, in creation order.
func (j *JSONLJournal) Files() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.files...)
}

// Count returns how many events were written.
func (j *JSONLJournal) Count() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Close flushes and closes the current file. Later events are dropped.
func (j *JSONLJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return j.err
	}
	j.closed = true
	if err := j.closeLocked(); err != nil && j.err == nil {
		j.err = err
	}
	return j.err
}

func (j *JSONLJournal) write(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed || j.err != nil {
		return
	}
	if err := j.writeLocked(e); err != nil {
		j.err = err
		logrus.WithError(err).Warn("journal: JSONL writes disabled")
	}
}

func (j *JSONLJournal) writeLocked(e Event) error {
	if day := e.Elapsed / j.dayLength; j.w == nil || day > j.day {
		if err := j.rotateLocked(day); err != nil {
			return err
		}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	j.count++
	return nil
}

func (j *JSONLJournal) rotateLocked(day int64) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	path := j.pathForDay(day)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f = f
	j.enc = enc
	j.w = bufio.NewWriterSize(enc, 64*1024)
	j.day = day
	j.files = append(j.files, path)
	logrus.Debugf("journal: writing day %d to %s", day, path)
	return nil
}

func (j *JSONLJournal) closeLocked() error {
	var err error
	if j.w != nil {
		err = j.w.Flush()
	}
	if j.enc != nil {
		if cerr := j.enc.Close(); err == nil {
			err = cerr
		}
		j.enc = nil
	}
	if j.f != nil {
		if cerr := j.f.Close(); err == nil {
			err = cerr
		}
		j.f = nil
	}
	j.w = nil
	return err
}

func (j *JSONLJournal) pathForDay(day int64) string {
	return filepath.Join(j.dir, fmt.Sprintf("events-day-%04d.jsonl.zst", day))
}

// ReadJSONL decodes every event in one journal file.
func ReadJSONL(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Event
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
