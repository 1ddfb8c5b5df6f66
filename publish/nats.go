package publish

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/stableseg/stableseg/logging"
	"github.com/stableseg/stableseg/pointcloud"
)

// Headers set on every NATS message.
const (
	HeaderStamp     = "Stamp"
	HeaderFrameID   = "Frame-Id"
	HeaderSchema    = "Schema"
	HeaderSeq       = "Seq"
	HeaderMessageID = "Message-Id"
)

// NATSSink publishes each cloud as a compressed binary PCD payload on a subject derived from its topic.
type NATSSink struct {
	mu     sync.Mutex
	conn   *nats.Conn
	prefix string
	logger logging.Logger
}

// NewNATSSink connects to url. The connection reconnects forever in the background.
func NewNATSSink(url, name, subjectPrefix string, logger logging.Logger) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warnw("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infow("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot connect to nats at %q", url)
	}
	logger.Infow("nats connected", "url", url)
	return &NATSSink{conn: conn, prefix: subjectPrefix, logger: logger}, nil
}

// Subject returns the subject clouds published on topic go to.
func Subject(prefix, topic string) string {
	token := topicToken(topic, ".")
	if prefix == "" {
		return token
	}
	return prefix + "." + token
}

// NewNATSMsg encodes cloud into a message for subject.
func NewNATSMsg(subject string, cloud *pointcloud.Cloud) (*nats.Msg, error) {
	var buf bytes.Buffer
	if err := pointcloud.ToPCD(cloud, &buf, pointcloud.PCDCompressed); err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject)
	msg.Data = buf.Bytes()
	msg.Header.Set(HeaderStamp, cloud.Header.Stamp.UTC().Format(time.RFC3339Nano))
	msg.Header.Set(HeaderFrameID, cloud.Header.FrameID)
	msg.Header.Set(HeaderSchema, cloud.Schema.String())
	msg.Header.Set(HeaderSeq, strconv.FormatUint(uint64(cloud.Header.Seq), 10))
	msg.Header.Set(HeaderMessageID, uuid.NewString())
	return msg, nil
}

// Publish sends cloud. It does not wait for the server.
func (s *NATSSink) Publish(ctx context.Context, topic string, cloud *pointcloud.Cloud) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := NewNATSMsg(Subject(s.prefix, topic), cloud)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("nats sink is closed")
	}
	if err := s.conn.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "cannot publish on %q", msg.Subject)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Flush()
	s.conn.Close()
	s.conn = nil
	return errors.Wrap(err, "flushing nats connection")
}
