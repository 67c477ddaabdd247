// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/needmatch/core"
)

// SeedRecord is the on-disk form of a corpus document.
type SeedRecord struct {
	ID       string `json:"id"`
	Kind     string `json:"kind,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	URL      string `json:"url,omitempty"`
	Authors  string `json:"authors,omitempty"`
	Industry string `json:"industry,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Item converts the record to a CandidateItem. An empty kind is left for
// the pipeline to infer from the ID prefix.
func (r SeedRecord) Item() *core.CandidateItem {
	item := &core.CandidateItem{
		ID:    strings.TrimSpace(r.ID),
		Kind:  core.Kind(strings.ToLower(strings.TrimSpace(r.Kind))),
		Title: strings.TrimSpace(r.Title),
		Body:  strings.TrimSpace(r.Body),
		URL:   strings.TrimSpace(r.URL),
	}
	meta := map[string]string{}
	if r.Authors != "" {
		meta["authors"] = r.Authors
	}
	if r.Industry != "" {
		meta["industry"] = r.Industry
	}
	if r.Status != "" {
		meta["status"] = r.Status
	}
	if len(meta) > 0 {
		item.Meta = meta
	}
	return item
}

// ReadItems decodes seed documents from r. Input is either a JSON array of
// records or a stream of records, one per line.
func ReadItems(r io.Reader) ([]*core.CandidateItem, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var records []SeedRecord
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		}
		items := make([]*core.CandidateItem, len(records))
		for i, rec := range records {
			items[i] = rec.Item()
		}
		return items, nil
	}

	var items []*core.CandidateItem
	for n := 1; ; n++ {
		var rec SeedRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrMalformedRecord, n, err)
		}
		items = append(items, rec.Item())
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
