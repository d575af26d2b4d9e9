package conversation

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type TranscriptFormat string

const (
	TranscriptYAML TranscriptFormat = "yaml"
	TranscriptJSON TranscriptFormat = "json"
)

func ParseTranscriptFormat(s string) (TranscriptFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml":
		return TranscriptYAML, nil
	case "json":
		return TranscriptJSON, nil
	default:
		return "", errors.Errorf("unknown transcript format %q", s)
	}
}

// WriteTranscript encodes conversations with their messages.
func WriteTranscript(w io.Writer, format TranscriptFormat, conversations []*Conversation) error {
	if conversations == nil {
		conversations = []*Conversation{}
	}
	switch format {
	case TranscriptJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return errors.Wrap(encoder.Encode(conversations), "could not encode transcript")
	case TranscriptYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(conversations); err != nil {
			return errors.Wrap(err, "could not encode transcript")
		}
		return encoder.Close()
	default:
		return errors.Errorf("unknown transcript format %q", format)
	}
}

// SaveTranscript writes conversations to filename, picking the format from the
// extension (.json, otherwise YAML).
func SaveTranscript(filename string, conversations []*Conversation) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func(f *os.File) {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "could not close %s", filename)
		}
	}(f)

	return WriteTranscript(f, formatForFile(filename), conversations)
}

// LoadTranscript reads a transcript written by SaveTranscript.
func LoadTranscript(filename string) ([]*Conversation, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var conversations []*Conversation
	switch formatForFile(filename) {
	case TranscriptJSON:
		err = json.NewDecoder(f).Decode(&conversations)
	default:
		err = yaml.NewDecoder(f).Decode(&conversations)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode transcript %s", filename)
	}
	for _, c := range conversations {
		if c.Messages == nil {
			c.Messages = []Message{}
		}
	}
	return conversations, nil
}

func formatForFile(filename string) TranscriptFormat {
	if strings.HasSuffix(filename, ".json") {
		return TranscriptJSON
	}
	return TranscriptYAML
}
