package filetransfer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
)

// State is the phase of one receiving connection. The machine only moves
// forward; any fault lands in StateFailed.
type State int

const (
	StateReadingHeader State = iota
	StateWritingAck
	StateReadingFileData
	StateWritingSuccess
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReadingHeader:
		return "READING_HEADER"
	case StateWritingAck:
		return "WRITING_ACK"
	case StateReadingFileData:
		return "READING_FILE_DATA"
	case StateWritingSuccess:
		return "WRITING_SUCCESS"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "FAILED"
	}
}

// copyChunkSize is the payload copy granularity; progress updates between
// chunks.
const copyChunkSize = 64 * 1024

// Receiver is a per-user listener accepting inbound transfers.
type Receiver struct {
	user string
	ln   net.Listener
	svc  *Service

	wg   sync.WaitGroup
	done chan struct{}
}

// Addr returns the bound listener address.
func (r *Receiver) Addr() net.Addr {
	return r.ln.Addr()
}

func (r *Receiver) stop() {
	close(r.done)
	_ = r.ln.Close()
	r.wg.Wait()
}

func (r *Receiver) acceptLoop() {
	defer r.wg.Done()

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-r.done:
				return
			default:
			}
			logging.Warn(nil, "file receiver accept failed",
				zap.String("user", r.user), zap.Error(err))
			continue
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer conn.Close()
			ts := &transferSession{receiver: r, conn: conn, reader: bufio.NewReader(conn)}
			ts.run()
		}()
	}
}

// transferSession drives one inbound connection through the state machine.
type transferSession struct {
	receiver *Receiver
	conn     net.Conn
	reader   *bufio.Reader

	state    State
	progress *Progress
	savedAs  string
	filesize int64
	file     *os.File
	failure  string
}

// run advances the machine until a terminal state. One connection carries
// exactly one transfer.
func (t *transferSession) run() {
	for {
		switch t.state {
		case StateReadingHeader:
			t.state = t.readHeader()
		case StateWritingAck:
			t.state = t.writeAck()
		case StateReadingFileData:
			t.state = t.readFileData()
		case StateWritingSuccess:
			t.state = t.writeSuccess()
		case StateCompleted:
			metrics.FileTransfers.WithLabelValues("receive", "completed").Inc()
			return
		case StateFailed:
			t.fail()
			return
		}
	}
}

// readHeader parses SEND_FILE|transferId|filename|filesize|sender and
// prepares the output file, resolving name collisions with numeric
// suffixes. Existing files are never overwritten.
func (t *transferSession) readHeader() State {
	_ = t.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	line, err := t.reader.ReadString('\n')
	if err != nil {
		t.failure = "failed to read header"
		return StateFailed
	}

	parts := strings.Split(strings.TrimSuffix(line, "\n"), "|")
	if len(parts) != 5 || parts[0] != "SEND_FILE" {
		t.failure = "malformed header"
		return StateFailed
	}

	filesize, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || filesize < 0 {
		t.failure = "invalid filesize"
		return StateFailed
	}

	svc := t.receiver.svc
	file, savedAs, err := createUnique(svc.downloadsDir, SanitizeFilename(parts[2]))
	if err != nil {
		t.failure = "failed to create file"
		return StateFailed
	}

	t.file = file
	t.savedAs = savedAs
	t.filesize = filesize
	t.progress = &Progress{
		TransferID: parts[1],
		Filename:   savedAs,
		TotalBytes: filesize,
		Sender:     parts[4],
		StartTime:  time.Now(),
	}
	svc.track(t.receiver.user, t.progress)

	logging.Info(nil, "receiving file",
		zap.String("user", t.receiver.user),
		zap.String("transfer_id", parts[1]),
		zap.String("filename", savedAs),
		zap.Int64("filesize", filesize),
		zap.String("sender", parts[4]))

	return StateWritingAck
}

func (t *transferSession) writeAck() State {
	if _, err := t.conn.Write([]byte("OK|" + t.savedAs + "\n")); err != nil {
		t.failure = "failed to write ack"
		return StateFailed
	}
	return StateReadingFileData
}

// readFileData copies exactly filesize payload bytes to disk. Bytes past
// the declared size stay unread; a short stream fails the session.
func (t *transferSession) readFileData() State {
	defer t.file.Close()

	remaining := t.filesize
	for remaining > 0 {
		chunk := int64(copyChunkSize)
		if remaining < chunk {
			chunk = remaining
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		n, err := io.CopyN(t.file, t.reader, chunk)
		remaining -= n
		metrics.FileTransferBytes.Add(float64(n))

		written := t.filesize - remaining
		t.receiver.svc.updateProgress(func() {
			t.progress.BytesTransferred = written
			t.progress.SpeedMBps = speedMBps(written, t.progress.StartTime)
		})

		if err != nil {
			t.failure = fmt.Sprintf("short payload: got %d of %d bytes", written, t.filesize)
			return StateFailed
		}
	}
	return StateWritingSuccess
}

func (t *transferSession) writeSuccess() State {
	if _, err := t.conn.Write([]byte("SUCCESS\n")); err != nil {
		t.failure = "failed to write success"
		return StateFailed
	}

	t.receiver.svc.updateProgress(func() {
		t.progress.Completed = true
		t.progress.BytesTransferred = t.filesize
		t.progress.SpeedMBps = speedMBps(t.filesize, t.progress.StartTime)
	})
	return StateCompleted
}

// fail marks the progress entry, tells the sender best-effort, and leaves
// any partial file on disk. The receiver keeps serving.
func (t *transferSession) fail() {
	metrics.FileTransfers.WithLabelValues("receive", "failed").Inc()

	if t.progress != nil {
		t.receiver.svc.updateProgress(func() {
			t.progress.Error = t.failure
		})
	}
	_, _ = t.conn.Write([]byte("ERROR|" + t.failure + "\n"))

	logging.Warn(nil, "file transfer failed",
		zap.String("user", t.receiver.user), zap.String("reason", t.failure))
}

// createUnique opens a fresh file for the name, appending _1, _2, ... until
// an unused name is found. O_EXCL keeps concurrent receivers from racing
// onto the same name.
func createUnique(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 0; ; i++ {
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
}

func speedMBps(bytes int64, start time.Time) float64 {
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / (1024 * 1024) / elapsed
}
