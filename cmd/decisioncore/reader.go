package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/inlet"
)

// jsonlReader replays event-bus records from a JSON-lines stream. Each line
// carries the bus coordinates plus the wrapped envelope:
//
//	{"topic":"traffic.card","partition":0,"offset":12,"offset_kind":"kafka","envelope":{...}}
type jsonlReader struct {
	scanner *bufio.Scanner
	line    int
}

type jsonlRecord struct {
	Topic          string     `json:"topic"`
	Partition      int32      `json:"partition"`
	Offset         int64      `json:"offset"`
	OffsetKind     string     `json:"offset_kind"`
	PublishedAtUTC *time.Time `json:"published_at_utc,omitempty"`
}

func newJSONLReader(r io.Reader) *jsonlReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &jsonlReader{scanner: scanner}
}

// Next implements worker.BusReader. Returns io.EOF at end of stream.
func (r *jsonlReader) Next(ctx context.Context) (inlet.BusRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return inlet.BusRecord{}, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return inlet.BusRecord{}, err
			}
			return inlet.BusRecord{}, io.EOF
		}
		r.line++
		raw := bytes.TrimSpace(r.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var meta jsonlRecord
		if err := json.Unmarshal(raw, &meta); err != nil {
			return inlet.BusRecord{}, fmt.Errorf("records line %d: %w", r.line, err)
		}
		offsetKind := meta.OffsetKind
		if offsetKind == "" {
			offsetKind = "kafka"
		}
		payload := make([]byte, len(raw))
		copy(payload, raw)
		return inlet.BusRecord{
			Topic:          meta.Topic,
			Partition:      meta.Partition,
			Offset:         meta.Offset,
			OffsetKind:     offsetKind,
			Payload:        payload,
			PublishedAtUTC: meta.PublishedAtUTC,
		}, nil
	}
}

func openReader(path string) (*jsonlReader, func(), error) {
	if path == "-" {
		return newJSONLReader(os.Stdin), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open records: %w", err)
	}
	return newJSONLReader(f), func() { _ = f.Close() }, nil
}

// payloadExtractor pulls join refs and feature keys out of the business
// payload using the platform's field conventions: each required role joins
// on "<role>_ref", and the well-known entity id fields become feature keys.
type payloadExtractor struct {
	roles []string
}

var featureKeyFields = map[string]string{
	"card_id":     "card",
	"account_id":  "account",
	"customer_id": "customer",
	"device_id":   "device",
	"merchant_id": "merchant",
}

func (e payloadExtractor) Extract(c contracts.TriggerCandidate) (map[string]string, []contracts.FeatureKey) {
	var fields map[string]any
	if len(c.Payload) > 0 {
		_ = json.Unmarshal(c.Payload, &fields)
	}

	refs := make(map[string]string, len(e.roles))
	for _, role := range e.roles {
		if v, ok := fields[role+"_ref"].(string); ok && v != "" {
			refs[role] = v
		}
	}

	var keys []contracts.FeatureKey
	for field, keyType := range featureKeyFields {
		if v, ok := fields[field].(string); ok && v != "" {
			keys = append(keys, contracts.FeatureKey{KeyType: keyType, KeyID: v})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].KeyType != keys[j].KeyType {
			return keys[i].KeyType < keys[j].KeyType
		}
		return keys[i].KeyID < keys[j].KeyID
	})
	return refs, keys
}
