package healthapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"sourcewatch/clients"
	"sourcewatch/models"
)

// Stream reads server-push events from the status stream. Each event's data
// field is a JSON snapshot of the same shape as the poll endpoint.
type Stream struct {
	resp   *http.Response
	reader *bufio.Reader
}

func newStream(resp *http.Response) *Stream {
	return &Stream{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
	}
}

// Close releases the underlying connection. Any blocked Recv returns after.
func (s *Stream) Close() error {
	return s.resp.Body.Close()
}

// Recv blocks until the next event and returns its snapshot. A malformed
// frame returns a parse-classified error while leaving the stream readable;
// the caller decides whether to keep receiving. Transport-level failures and
// io.EOF end the stream.
func (s *Stream) Recv() (*models.HealthSnapshot, error) {
	data, err := s.readEvent()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, clients.Classify("stream recv", err)
	}

	var snapshot models.HealthSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, clients.NewParseError("stream recv", err)
	}
	return &snapshot, nil
}

// readEvent accumulates data: lines until the blank line that terminates an
// event. Comment lines (leading colon) are heartbeats and are skipped.
func (s *Stream) readEvent() ([]byte, error) {
	var dataLines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if errors.Is(err, io.EOF) {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			return nil, io.EOF
		}
	}
}
