// Package publish routes validated segments into point clouds and hands them to a sink.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/stableseg/stableseg/logging"
	"github.com/stableseg/stableseg/pointcloud"
)

// Sink is where published clouds go.
type Sink interface {
	Publish(ctx context.Context, topic string, cloud *pointcloud.Cloud) error
	Close() error
}

// Message is one published cloud.
type Message struct {
	Topic string
	Cloud *pointcloud.Cloud
}

// MemorySink keeps every published cloud in memory.
type MemorySink struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish records cloud.
func (s *MemorySink) Publish(ctx context.Context, topic string, cloud *pointcloud.Cloud) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("memory sink is closed")
	}
	s.messages = append(s.messages, Message{Topic: topic, Cloud: cloud})
	return nil
}

// Messages returns the clouds published to topic, or every cloud when topic is empty.
func (s *MemorySink) Messages(topic string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets every recorded cloud.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Close stops the sink from accepting clouds.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PCDDirSink writes each cloud to its own binary PCD file.
type PCDDirSink struct {
	dir    string
	logger logging.Logger
}

// NewPCDDirSink returns a sink writing into dir, creating it if needed.
func NewPCDDirSink(dir string, logger logging.Logger) (*PCDDirSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cannot create output directory %q", dir)
	}
	return &PCDDirSink{dir: dir, logger: logger}, nil
}

// topicToken turns a topic name into something usable in file names and subjects.
func topicToken(topic, sep string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", sep)
}

// FileName returns the name a cloud published on topic is written under.
func (s *PCDDirSink) FileName(topic string, cloud *pointcloud.Cloud) string {
	return fmt.Sprintf("%s_%d_%s.pcd", topicToken(topic, "_"), cloud.Header.Stamp.UnixNano(), uuid.NewString())
}

// Publish writes cloud under dir.
func (s *PCDDirSink) Publish(ctx context.Context, topic string, cloud *pointcloud.Cloud) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.dir, s.FileName(topic, cloud))
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if err := pointcloud.ToPCD(cloud, f, pointcloud.PCDBinary); err != nil {
		return errors.Wrapf(err, "cannot write %q", path)
	}
	s.logger.Debugw("wrote cloud", "topic", topic, "path", path, "points", cloud.Size())
	return nil
}

// Close is a no-op; files are closed as they are written.
func (s *PCDDirSink) Close() error {
	return nil
}

type teeSink []Sink

// Tee returns a sink publishing to every one of sinks. Errors from each are combined.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

func (t teeSink) Publish(ctx context.Context, topic string, cloud *pointcloud.Cloud) error {
	var errs error
	for _, s := range t {
		errs = multierr.Combine(errs, s.Publish(ctx, topic, cloud))
	}
	return errs
}

func (t teeSink) Close() error {
	var errs error
	for _, s := range t {
		errs = multierr.Combine(errs, s.Close())
	}
	return errs
}
