// Package filetransfer implements the chunked peer file protocol: per-user
// receivers driving an explicit connection state machine, a sanitized
// downloads directory sink, and the outbound send path.
package filetransfer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
)

// Progress tracks one receive or send for the transfers endpoint. A
// terminal entry is either Completed or carries Error.
type Progress struct {
	TransferID       string    `json:"transferId"`
	Filename         string    `json:"filename"`
	TotalBytes       int64     `json:"totalBytes"`
	BytesTransferred int64     `json:"bytesTransferred"`
	Sender           string    `json:"sender"`
	StartTime        time.Time `json:"startTime"`
	Completed        bool      `json:"completed"`
	Error            string    `json:"error,omitempty"`
	SpeedMBps        float64   `json:"speedMBps"`
}

// FileEntry describes one file in the downloads directory.
type FileEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// SendResult is the acknowledgement for an outbound transfer.
type SendResult struct {
	TransferID string `json:"transferId"`
	Filename   string `json:"filename"`
	Filesize   int64  `json:"filesize"`
	SavedAs    string `json:"savedAs"`
}

// unsafeChars matches everything outside the allowed filename alphabet.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename strips path components and maps disallowed characters to
// underscores, so received names can never escape the downloads directory.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = name[strings.LastIndex(name, "/")+1:]
	name = unsafeChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// Service owns the per-user receivers, their progress maps, and the
// downloads directory.
type Service struct {
	downloadsDir string
	dialTimeout  time.Duration

	mu        sync.Mutex
	receivers map[string]*Receiver
	progress  map[string][]*Progress
	breakers  map[string]*gobreaker.CircuitBreaker
}

// NewService creates a Service writing received files under downloadsDir.
// The directory is created when the first receiver starts.
func NewService(downloadsDir string) *Service {
	return &Service{
		downloadsDir: downloadsDir,
		dialTimeout:  10 * time.Second,
		receivers:    make(map[string]*Receiver),
		progress:     make(map[string][]*Progress),
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
	}
}

// StartReceiver starts the per-user listener on the declared port. A
// receiver already running for the user is stopped first.
func (s *Service) StartReceiver(user string, port int) (*Receiver, error) {
	if err := os.MkdirAll(s.downloadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create downloads directory: %w", err)
	}

	s.mu.Lock()
	old := s.receivers[user]
	delete(s.receivers, user)
	s.mu.Unlock()
	if old != nil {
		old.stop()
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for %s on port %d: %w", user, port, err)
	}

	r := &Receiver{
		user: user,
		ln:   ln,
		svc:  s,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.receivers[user] = r
	s.mu.Unlock()

	logging.Info(context.Background(), "file receiver started",
		zap.String("user", user), zap.String("addr", ln.Addr().String()))

	r.wg.Add(1)
	go r.acceptLoop()
	return r, nil
}

// StopReceiver stops the user's receiver and clears their progress history.
// Called on logout; the progress map lives only for the login's duration.
func (s *Service) StopReceiver(user string) {
	s.mu.Lock()
	r, ok := s.receivers[user]
	delete(s.receivers, user)
	delete(s.progress, user)
	s.mu.Unlock()

	if ok {
		r.stop()
		logging.Info(context.Background(), "file receiver stopped", zap.String("user", user))
	}
}

// StopAll stops every receiver, for shutdown.
func (s *Service) StopAll() {
	s.mu.Lock()
	receivers := make([]*Receiver, 0, len(s.receivers))
	for _, r := range s.receivers {
		receivers = append(receivers, r)
	}
	s.receivers = make(map[string]*Receiver)
	s.mu.Unlock()

	for _, r := range receivers {
		r.stop()
	}
}

// Transfers returns a copy of the user's progress entries, oldest first.
func (s *Service) Transfers(user string) []Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Progress, 0, len(s.progress[user]))
	for _, p := range s.progress[user] {
		out = append(out, *p)
	}
	return out
}

func (s *Service) track(user string, p *Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[user] = append(s.progress[user], p)
}

func (s *Service) updateProgress(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Downloads lists the downloads directory sorted by name.
func (s *Service) Downloads() ([]FileEntry, error) {
	entries, err := os.ReadDir(s.downloadsDir)
	if os.IsNotExist(err) {
		return []FileEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}

	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileEntry{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DownloadPath resolves a requested filename to its path inside the
// downloads directory. Names are re-sanitized on the way out so a request
// can never read outside the sink.
func (s *Service) DownloadPath(filename string) (string, error) {
	clean := SanitizeFilename(filename)
	if clean != filename {
		return "", fmt.Errorf("%w: invalid filename", types.ErrIllegalArgument)
	}
	path := filepath.Join(s.downloadsDir, clean)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", types.ErrNotFound, clean)
	}
	return path, nil
}

// Send streams a local file to a peer's receiver and waits for the OK and
// SUCCESS acknowledgements. Dials to each peer run through a circuit
// breaker so a dead peer fails fast.
func (s *Service) Send(ctx context.Context, peerIP string, peerPort int, filePath, sender string) (SendResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %s", types.ErrNotFound, filePath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to stat %s: %w", filePath, err)
	}

	addr := net.JoinHostPort(peerIP, fmt.Sprintf("%d", peerPort))
	transferID := uuid.NewString()
	result := SendResult{
		TransferID: transferID,
		Filename:   filepath.Base(filePath),
		Filesize:   info.Size(),
	}

	savedAs, err := s.breakerFor(addr).Execute(func() (interface{}, error) {
		return s.sendOnce(ctx, addr, transferID, f, info.Size(), sender)
	})
	if err != nil {
		metrics.FileTransfers.WithLabelValues("send", "failed").Inc()
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("filetransfer").Inc()
			return SendResult{}, fmt.Errorf("%w: peer %s unavailable", types.ErrIllegalState, addr)
		}
		return SendResult{}, err
	}

	metrics.FileTransfers.WithLabelValues("send", "completed").Inc()
	result.SavedAs = savedAs.(string)
	return result, nil
}

func (s *Service) sendOnce(ctx context.Context, addr, transferID string, f *os.File, size int64, sender string) (string, error) {
	d := net.Dialer{Timeout: s.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to dial peer %s: %w", addr, err)
	}
	defer conn.Close()

	header := fmt.Sprintf("SEND_FILE|%s|%s|%d|%s\n", transferID, filepath.Base(f.Name()), size, sender)
	if _, err := conn.Write([]byte(header)); err != nil {
		return "", fmt.Errorf("failed to send header: %w", err)
	}

	r := bufio.NewReader(conn)
	ack, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read ack: %w", err)
	}
	ack = strings.TrimSuffix(ack, "\n")
	if strings.HasPrefix(ack, "ERROR|") {
		return "", fmt.Errorf("peer rejected transfer: %s", strings.TrimPrefix(ack, "ERROR|"))
	}
	if !strings.HasPrefix(ack, "OK|") {
		return "", fmt.Errorf("unexpected ack %q", ack)
	}
	savedAs := strings.TrimPrefix(ack, "OK|")

	if _, err := io.Copy(conn, f); err != nil {
		return "", fmt.Errorf("failed to stream payload: %w", err)
	}

	final, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read final status: %w", err)
	}
	final = strings.TrimSuffix(final, "\n")
	if final != "SUCCESS" {
		return "", fmt.Errorf("transfer failed: %s", final)
	}
	return savedAs, nil
}

func (s *Service) breakerFor(addr string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[addr]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "filetransfer:" + addr,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	})
	s.breakers[addr] = cb
	return cb
}
