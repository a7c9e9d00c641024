package store

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/preheatd/preheatd/pkg/model"
)

// codecVersion is the current binary payload format: a single version byte
// followed by the XDR encoding of the value. Bumping the version invalidates
// old payloads, which load treats as corrupt rows (skipped, relearned).
const codecVersion = 1

func encodeTimeToLeave(v [model.StateCount]float64) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(codecVersion)
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("encoding time_to_leave: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeTimeToLeave(data []byte) ([model.StateCount]float64, error) {
	var v [model.StateCount]float64
	if err := checkPayload(data); err != nil {
		return v, fmt.Errorf("time_to_leave payload: %w", err)
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(data[1:]), &v); err != nil {
		return v, fmt.Errorf("decoding time_to_leave: %w", err)
	}
	return v, nil
}

func encodeWeight(w float64) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(codecVersion)
	if _, err := xdr.Marshal(&buf, w); err != nil {
		return nil, fmt.Errorf("encoding weight: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeWeight(data []byte) (float64, error) {
	var w float64
	if err := checkPayload(data); err != nil {
		return 0, fmt.Errorf("weight payload: %w", err)
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(data[1:]), &w); err != nil {
		return 0, fmt.Errorf("decoding weight: %w", err)
	}
	return w, nil
}

func checkPayload(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("truncated (%d bytes)", len(data))
	}
	if data[0] != codecVersion {
		return fmt.Errorf("unknown version %d", data[0])
	}
	return nil
}
