// Package ros reads recorded ROS bags and replays them through a segmentation session.
package ros

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ErrNoMessages is returned for a topic the bag holds nothing for.
var ErrNoMessages = errors.New("no messages for topic")

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()
	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to create ros bag, error")
	}
	return rb, nil
}

// topicKey is the key gobag files a topic's JSON under.
func topicKey(topic string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_"))
}

// ParseTopics converts every message on topics to JSON held by rb. It must run once before
// MessagesForTopic is used on any of them.
func ParseTopics(rb *rosbag.RosBag, topics []string) error {
	wanted := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if topic != "" {
			wanted[topic] = true
		}
	}
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return wanted[t] },
		false,
	); err != nil {
		return errors.Wrapf(err, "error while parsing bag to JSON")
	}
	return nil
}

// MessagesForTopic decodes every parsed message of topic into T, consuming them.
func MessagesForTopic[T any](rb *rosbag.RosBag, topic string) ([]T, error) {
	return messagesFrom[T](BagSource(rb), topic)
}

// TopicSource returns the JSON lines recorded for a topic, or false when there are none.
type TopicSource func(topic string) (LineReader, bool)

// BagSource serves the topics ParseTopics converted in rb.
func BagSource(rb *rosbag.RosBag) TopicSource {
	return func(topic string) (LineReader, bool) {
		msgs := rb.TopicsAsJSON[topicKey(topic)]
		if msgs == nil {
			return nil, false
		}
		return msgs, true
	}
}

func messagesFrom[T any](src TopicSource, topic string) ([]T, error) {
	lines, ok := src(topic)
	if !ok {
		return nil, errors.Wrap(ErrNoMessages, topic)
	}
	return DecodeMessages[T](lines, topic)
}

// LineReader yields newline terminated records.
type LineReader interface {
	ReadBytes(delim byte) ([]byte, error)
}

// DecodeMessages decodes one JSON message per line of lines into T.
func DecodeMessages[T any](lines LineReader, topic string) ([]T, error) {
	var all []T
	for {
		data, err := lines.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if len(bytes.TrimSpace(data)) > 0 {
			var message T
			if err := json.Unmarshal(data, &message); err != nil {
				return nil, errors.Wrapf(err, "decoding message %d of %s", len(all), topic)
			}
			all = append(all, message)
		}
		if err != nil {
			break
		}
	}
	return all, nil
}
