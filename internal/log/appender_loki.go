package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type LokiAppenderOpt struct {
	Endpoint      string            `mapstructure:"endpoint"`
	Labels        map[string]string `mapstructure:"labels"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval string            `mapstructure:"flush_interval"`
}

// lokiAppender buffers log lines and pushes them in batches to a Grafana
// Loki endpoint. Write only appends to the buffer; the network work runs on
// the flusher goroutine, triggered by a full batch or the flush interval,
// so the mutex is never held across a push.
type lokiAppender struct {
	endpoint   string
	labels     map[string]string
	batchSize  int
	flushEvery time.Duration
	client     *http.Client

	mu      sync.Mutex
	pending []lokiLine
	closed  bool

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

type lokiLine struct {
	at   time.Time
	text string
}

// Loki push API payload, one stream per appender.
type lokiPush struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// Unflushed lines are capped at this multiple of the batch size while the
// endpoint is unreachable; the oldest lines are dropped beyond it.
const lokiBufferFactor = 10

func newLokiAppender(opt LokiAppenderOpt) (*lokiAppender, error) {
	if opt.Endpoint == "" {
		return nil, fmt.Errorf("loki appender requires an endpoint")
	}

	flushEvery := 5 * time.Second
	if opt.FlushInterval != "" {
		d, err := time.ParseDuration(opt.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid loki flush interval: %w", err)
		}
		flushEvery = d
	}

	batchSize := opt.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	labels := opt.Labels
	if labels == nil {
		labels = make(map[string]string)
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = "netverse"
	}

	la := &lokiAppender{
		endpoint:   opt.Endpoint,
		labels:     labels,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		client:     &http.Client{Timeout: 10 * time.Second},
		pending:    make([]lokiLine, 0, batchSize),
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	la.wg.Add(1)
	go la.run()
	return la, nil
}

func (la *lokiAppender) Write(p []byte) (int, error) {
	la.mu.Lock()
	if la.closed {
		la.mu.Unlock()
		return 0, fmt.Errorf("loki appender is closed")
	}
	la.pending = append(la.pending, lokiLine{at: time.Now(), text: string(p)})
	la.dropExcessLocked()
	full := len(la.pending) >= la.batchSize
	la.mu.Unlock()

	if full {
		select {
		case la.kick <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// Close pushes whatever is buffered and stops the flusher.
func (la *lokiAppender) Close() error {
	la.mu.Lock()
	if la.closed {
		la.mu.Unlock()
		return nil
	}
	la.closed = true
	la.mu.Unlock()

	close(la.done)
	la.wg.Wait()
	return la.flush()
}

func (la *lokiAppender) run() {
	defer la.wg.Done()

	ticker := time.NewTicker(la.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			la.flush()
		case <-la.kick:
			la.flush()
		case <-la.done:
			return
		}
	}
}

// flush takes the buffered lines and pushes them as one stream. A failed
// push puts the lines back at the front of the buffer for the next attempt.
func (la *lokiAppender) flush() error {
	la.mu.Lock()
	if len(la.pending) == 0 {
		la.mu.Unlock()
		return nil
	}
	batch := la.pending
	la.pending = make([]lokiLine, 0, la.batchSize)
	la.mu.Unlock()

	values := make([][]string, len(batch))
	for i, line := range batch {
		values[i] = []string{strconv.FormatInt(line.at.UnixNano(), 10), line.text}
	}
	body, err := json.Marshal(lokiPush{
		Streams: []lokiStream{{Stream: la.labels, Values: values}},
	})
	if err != nil {
		return fmt.Errorf("marshal loki push: %w", err)
	}

	if err := la.push(body); err != nil {
		la.mu.Lock()
		la.pending = append(batch, la.pending...)
		la.dropExcessLocked()
		la.mu.Unlock()
		return err
	}
	return nil
}

func (la *lokiAppender) dropExcessLocked() {
	if excess := len(la.pending) - la.batchSize*lokiBufferFactor; excess > 0 {
		la.pending = la.pending[excess:]
	}
}

// push POSTs one payload, retrying transient failures with backoff.
func (la *lokiAppender) push(body []byte) error {
	const attempts = 3
	backoff := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if lastErr = la.send(body); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("loki push failed after %d attempts: %w", attempts, lastErr)
}

func (la *lokiAppender) send(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, la.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := la.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("loki push status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func (m *MultiWriter) AddLokiAppender(options LokiAppenderOpt) (*MultiWriter, error) {
	la, err := newLokiAppender(options)
	if err != nil {
		return m, err
	}
	m.writers = append(m.writers, la)
	return m, nil
}
