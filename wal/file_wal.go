package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/algorand/go-deadlock"
	"github.com/sirupsen/logrus"
)

const (
	// WAL file settings
	walFilePerm       = 0600
	walDirPerm        = 0700
	maxRecordSize     = 4 * 1024 * 1024  // 4MB max record size
	defaultBufSize    = 64 * 1024        // 64KB buffer
	defaultMaxSegSize = 64 * 1024 * 1024 // 64MB default segment size

	// Default pool buffer size for decoder
	defaultPoolBufSize = 512

	segmentPattern = "wal-%05d"

	// Framing overhead: 4 bytes length + 4 bytes CRC
	frameOverhead = 8
)

// Byte pool to reduce GC pressure in WAL decoder.
// Buffers are reused for reading record data; records are decoded out of them.
var decoderPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, defaultPoolBufSize)
		return &buf
	},
}

// FileWAL is a file-based WAL implementation
type FileWAL struct {
	mu     deadlock.Mutex
	dir    string
	file   *os.File
	buf    *bufio.Writer
	enc    *encoder
	logger logrus.FieldLogger

	group        *Group
	started      bool
	segmentIndex int   // Current segment index
	segmentSize  int64 // Current segment size in bytes
	maxSegSize   int64 // Maximum segment size before rotation

	lastSeq uint64

	// Highest sequence number in each segment, used by Checkpoint
	segLastSeq map[int]uint64
}

// NewFileWAL creates a new file-based WAL
func NewFileWAL(dir string) (*FileWAL, error) {
	return NewFileWALWithOptions(dir, defaultMaxSegSize, nil)
}

// NewFileWALWithOptions creates a new file-based WAL with custom max segment size
func NewFileWALWithOptions(dir string, maxSegSize int64, logger logrus.FieldLogger) (*FileWAL, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, walDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	if maxSegSize <= 0 {
		maxSegSize = defaultMaxSegSize
	}
	if logger == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		logger = quiet
	}

	return &FileWAL{
		dir:        dir,
		maxSegSize: maxSegSize,
		logger:     logger.WithField("module", "wal"),
		group: &Group{
			Dir:     dir,
			Prefix:  "wal",
			MaxSize: maxSegSize,
		},
	}, nil
}

// Start opens the WAL file for writing.
// A torn record at the end of the newest segment is truncated away.
func (w *FileWAL) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	w.segLastSeq = make(map[int]uint64)

	segments := findSegments(w.dir)
	if len(segments) > 0 {
		w.group.MinIndex = segments[0]
		w.group.MaxIndex = segments[len(segments)-1]
	} else {
		w.group.MinIndex = 0
		w.group.MaxIndex = 0
	}
	w.segmentIndex = w.group.MaxIndex

	// Build index from existing segments
	if err := w.buildIndex(segments); err != nil {
		return fmt.Errorf("failed to build WAL index: %w", err)
	}

	// Open or create current segment
	if err := w.openSegment(w.segmentIndex); err != nil {
		return err
	}

	w.started = true
	return nil
}

// buildIndex scans all segments, recording the last sequence of each and
// truncating a torn tail on the newest one
func (w *FileWAL) buildIndex(segments []int) error {
	for _, idx := range segments {
		last, good, err := w.scanSegment(idx)
		if err != nil && err != io.EOF {
			if idx != w.group.MaxIndex {
				return fmt.Errorf("segment %d: %w", idx, err)
			}
			w.logger.WithFields(logrus.Fields{
				"segment": idx,
				"offset":  good,
			}).WithError(err).Warn("truncating torn WAL tail")
			if err := os.Truncate(w.segmentPath(idx), good); err != nil {
				return fmt.Errorf("failed to truncate segment %d: %w", idx, err)
			}
		}
		if last > 0 {
			if last <= w.lastSeq {
				return fmt.Errorf("%w: segment %d ends at %d after %d", ErrInvalidSeq, idx, last, w.lastSeq)
			}
			w.segLastSeq[idx] = last
			w.lastSeq = last
		}
	}
	return nil
}

// scanSegment returns the last sequence in a segment and the byte offset
// just past the last intact record. err is io.EOF for a clean segment.
func (w *FileWAL) scanSegment(idx int) (uint64, int64, error) {
	file, err := os.Open(w.segmentPath(idx))
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	dec := newDecoder(bufio.NewReader(file))
	var last uint64
	var good int64
	for {
		rec, n, err := dec.Decode()
		if err == io.ErrUnexpectedEOF {
			return last, good, ErrWALCorrupted
		}
		if err != nil {
			return last, good, err
		}
		if rec.Seq <= last {
			return last, good, fmt.Errorf("%w: %d after %d", ErrInvalidSeq, rec.Seq, last)
		}
		last = rec.Seq
		good += int64(n)
	}
}

// segmentPath returns the file path for a segment index
func (w *FileWAL) segmentPath(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf(segmentPattern, index))
}

// openSegment opens a segment file for writing
func (w *FileWAL) openSegment(index int) error {
	path := w.segmentPath(index)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, walFilePerm)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment %d: %w", index, err)
	}

	// Get current file size
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat WAL segment: %w", err)
	}

	w.file = file
	w.buf = bufio.NewWriterSize(file, defaultBufSize)
	w.enc = newEncoder(w.buf)
	w.segmentSize = info.Size()

	return nil
}

// Stop closes the WAL file
func (w *FileWAL) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}

	w.started = false

	// Flush buffer
	if err := w.buf.Flush(); err != nil {
		return err
	}

	// Sync and close file
	if err := w.file.Sync(); err != nil {
		return err
	}

	return w.file.Close()
}

// Write writes a record to the WAL (buffered)
func (w *FileWAL) Write(rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.write(rec)
}

// WriteSync writes a record and syncs to disk
func (w *FileWAL) WriteSync(rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.write(rec); err != nil {
		return err
	}
	return w.flushAndSync()
}

// write assigns the next sequence number and encodes rec. The sequence is
// only consumed when the encode succeeds.
func (w *FileWAL) write(rec *Record) error {
	if !w.started {
		return ErrWALClosed
	}

	// Check if rotation is needed before writing
	if w.segmentSize >= w.maxSegSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate WAL: %w", err)
		}
	}

	rec.Seq = w.lastSeq + 1
	n, err := w.enc.Encode(rec)
	if err != nil {
		rec.Seq = 0
		return err
	}
	w.segmentSize += int64(n)
	w.lastSeq = rec.Seq
	w.segLastSeq[w.segmentIndex] = rec.Seq

	return nil
}

// rotate closes the current segment and opens a new one
func (w *FileWAL) rotate() error {
	// Flush and sync current segment
	if err := w.flushAndSync(); err != nil {
		return err
	}

	// Close current file
	if err := w.file.Close(); err != nil {
		return err
	}

	// Increment segment index
	w.segmentIndex++
	w.group.MaxIndex = w.segmentIndex

	// Open new segment
	return w.openSegment(w.segmentIndex)
}

// FlushAndSync flushes the buffer and syncs to disk.
// Safe for concurrent use.
func (w *FileWAL) FlushAndSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrWALClosed
	}

	return w.flushAndSync()
}

// flushAndSync is the internal version that assumes lock is held
func (w *FileWAL) flushAndSync() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// LastSeq returns the sequence number of the last record written
func (w *FileWAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// AdvanceTo raises the last sequence to seq if it is lower
func (w *FileWAL) AdvanceTo(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq > w.lastSeq {
		w.logger.WithFields(logrus.Fields{
			"from": w.lastSeq,
			"to":   seq,
		}).Info("advancing WAL sequence")
		w.lastSeq = seq
	}
}

// ReadFrom returns a Reader over the records with a sequence above seq.
// Segments that end at or below seq are skipped using the segment index.
func (w *FileWAL) ReadFrom(seq uint64) (Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil, ErrWALClosed
	}

	// Flush any pending writes
	if err := w.buf.Flush(); err != nil {
		return nil, err
	}

	var segments []int
	for idx := w.group.MinIndex; idx <= w.group.MaxIndex; idx++ {
		if last, ok := w.segLastSeq[idx]; ok && last > seq {
			segments = append(segments, idx)
		}
	}

	return &seqFilterReader{
		Reader: &multiSegmentReader{
			dir:      w.dir,
			segments: segments,
			current:  -1,
		},
		after: seq,
	}, nil
}

// Group returns the WAL group
func (w *FileWAL) Group() *Group {
	return w.group
}

// Checkpoint deletes WAL segments that only contain records with seq <= checkpointSeq.
// This should be called after the state has been safely persisted up to checkpointSeq.
func (w *FileWAL) Checkpoint(checkpointSeq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrWALClosed
	}

	// A segment can be deleted if all its records have seq <= checkpointSeq
	segmentsToDelete := []int{}

	for idx := w.group.MinIndex; idx < w.group.MaxIndex; idx++ { // Never delete current segment
		last, ok := w.segLastSeq[idx]
		if !ok {
			// Empty or missing segment
			if _, err := os.Stat(w.segmentPath(idx)); err == nil {
				segmentsToDelete = append(segmentsToDelete, idx)
				continue
			}
			break
		}
		if last > checkpointSeq {
			// Stop at first segment we can't delete
			break
		}
		segmentsToDelete = append(segmentsToDelete, idx)
	}

	// Delete segments and clean up index
	for _, idx := range segmentsToDelete {
		path := w.segmentPath(idx)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete segment %d: %w", idx, err)
		}
		delete(w.segLastSeq, idx)
	}

	// Update MinIndex
	if len(segmentsToDelete) > 0 {
		w.group.MinIndex = segmentsToDelete[len(segmentsToDelete)-1] + 1
		w.logger.WithFields(logrus.Fields{
			"deleted": len(segmentsToDelete),
			"seq":     checkpointSeq,
		}).Debug("checkpointed WAL")
	}

	return nil
}

// SegmentCount returns the number of segments
func (w *FileWAL) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.group.MaxIndex - w.group.MinIndex + 1
}

// CurrentSegmentSize returns the approximate size of the current segment
func (w *FileWAL) CurrentSegmentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentSize
}

// Ensure FileWAL implements WAL
var _ WAL = (*FileWAL)(nil)

// encoder encodes records to the WAL
type encoder struct {
	w   io.Writer
	buf []byte
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{
		w:   w,
		buf: make([]byte, 8),
	}
}

// Encode writes a record to the WAL and returns the number of bytes written.
//
//	[4 bytes: length][N bytes: msgpack record][4 bytes: CRC32]
func (e *encoder) Encode(rec *Record) (int, error) {
	data, err := rec.Marshal()
	if err != nil {
		return 0, err
	}
	if len(data) > maxRecordSize {
		return 0, fmt.Errorf("record too large: %d bytes", len(data))
	}

	// Calculate CRC32 checksum
	checksum := crc32.ChecksumIEEE(data)

	// Write length prefix (4 bytes, big endian)
	binary.BigEndian.PutUint32(e.buf[:4], uint32(len(data)))
	if _, err := e.w.Write(e.buf[:4]); err != nil {
		return 0, err
	}

	// Write data
	if _, err := e.w.Write(data); err != nil {
		return 0, err
	}

	// Write CRC32 checksum (4 bytes, big endian)
	binary.BigEndian.PutUint32(e.buf[:4], checksum)
	if _, err := e.w.Write(e.buf[:4]); err != nil {
		return 0, err
	}

	return frameOverhead + len(data), nil
}

// decoder decodes records from the WAL
type decoder struct {
	r   io.Reader
	buf []byte
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{
		r:   r,
		buf: make([]byte, 4),
	}
}

// Decode reads one record and returns it with its framed size.
// A clean end of input is io.EOF; a partial frame is io.ErrUnexpectedEOF.
func (d *decoder) Decode() (*Record, int, error) {
	// Read length prefix
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return nil, 0, err
	}

	length := binary.BigEndian.Uint32(d.buf[:4])
	if length > maxRecordSize {
		return nil, 0, ErrWALCorrupted
	}

	// Get buffer from pool to reduce GC pressure
	poolBufPtr := decoderPool.Get().(*[]byte)
	defer decoderPool.Put(poolBufPtr)
	poolBuf := *poolBufPtr

	// Ensure buffer is large enough
	if cap(poolBuf) < int(length) {
		poolBuf = make([]byte, length)
		*poolBufPtr = poolBuf[:0]
	} else {
		poolBuf = poolBuf[:length]
	}

	if _, err := io.ReadFull(d.r, poolBuf); err != nil {
		return nil, 0, unexpected(err)
	}

	// Read and verify CRC32 checksum
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return nil, 0, unexpected(err)
	}
	expectedCRC := binary.BigEndian.Uint32(d.buf[:4])
	actualCRC := crc32.ChecksumIEEE(poolBuf)
	if expectedCRC != actualCRC {
		return nil, 0, fmt.Errorf("%w: CRC mismatch (expected %08x, got %08x)", ErrWALCorrupted, expectedCRC, actualCRC)
	}

	// The decoder copies everything out of poolBuf
	rec := &Record{}
	if err := rec.Unmarshal(poolBuf); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrWALCorrupted, err)
	}

	return rec, frameOverhead + int(length), nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// fileReader reads records from a WAL file
type fileReader struct {
	file *os.File
	dec  *decoder
}

func (r *fileReader) Read() (*Record, error) {
	rec, _, err := r.dec.Decode()
	return rec, err
}

func (r *fileReader) Close() error {
	return r.file.Close()
}

var _ Reader = (*fileReader)(nil)

// OpenWALForReading opens a WAL for reading from the oldest segment
func OpenWALForReading(dir string) (Reader, error) {
	segments := findSegments(dir)
	if len(segments) == 0 {
		return nil, ErrWALNotFound
	}

	return &multiSegmentReader{
		dir:      dir,
		segments: segments,
		current:  -1, // Will be incremented to 0 on first read
	}, nil
}

// findSegments finds all WAL segment files in a directory and returns their indices
func findSegments(dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var segments []int
	for _, entry := range entries {
		var idx int
		if n, _ := fmt.Sscanf(entry.Name(), segmentPattern, &idx); n == 1 {
			segments = append(segments, idx)
		}
	}

	sort.Ints(segments)

	return segments
}

// multiSegmentReader reads through multiple WAL segments
type multiSegmentReader struct {
	dir      string
	segments []int
	current  int
	reader   *fileReader
}

func (r *multiSegmentReader) Read() (*Record, error) {
	for {
		// If no current reader, open next segment
		if r.reader == nil {
			r.current++
			if r.current >= len(r.segments) {
				return nil, io.EOF
			}

			path := filepath.Join(r.dir, fmt.Sprintf(segmentPattern, r.segments[r.current]))
			file, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			r.reader = &fileReader{
				file: file,
				dec:  newDecoder(bufio.NewReader(file)),
			}
		}

		// Try to read from current segment
		rec, err := r.reader.Read()
		if err == io.EOF {
			// End of this segment, move to next
			r.reader.Close()
			r.reader = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}

func (r *multiSegmentReader) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}

var _ Reader = (*multiSegmentReader)(nil)

// seqFilterReader skips records at or below a sequence
type seqFilterReader struct {
	Reader
	after uint64
}

func (r *seqFilterReader) Read() (*Record, error) {
	for {
		rec, err := r.Reader.Read()
		if err != nil {
			return nil, err
		}
		if rec.Seq > r.after {
			return rec, nil
		}
	}
}
