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

package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a minimal PDF with one text line per page.
func buildPDF(pages ...string) []byte {
	var objs []string
	var kids strings.Builder
	for i := range pages {
		fmt.Fprintf(&kids, "%d 0 R ", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids.String(), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)
	for i, text := range pages {
		objs = append(objs, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func serve(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestExtract_PlainText(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "  first   line \n\n\n\tsecond line\n")
	})

	text, err := New().Extract(context.Background(), url, "doc", 0)
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line", text)
}

func TestExtract_HTML(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Defect detection</title></head><body>
			<nav>Home | About</nav>
			<article><h1>Defect detection</h1>
			<p>We trained a convolutional network to find scratches on brushed steel panels in real time.
			The system runs on an edge device next to the production line and flags defects within fifty milliseconds.</p>
			<p>Accuracy on the held-out set reached ninety eight percent, with false positives mostly caused by glare.</p>
			<p>Deployment required retraining every quarter as new panel finishes were introduced, and the team built
			a labelling workflow so that line operators could confirm or reject flagged panels directly from the station display.
			Those confirmations flowed back into the training set, which steadily reduced the false positive rate over six months.</p>
			</article></body></html>`)
	})

	text, err := New().Extract(context.Background(), url, "doc", 0)
	require.NoError(t, err)
	assert.Contains(t, text, "scratches on brushed steel")
	assert.NotContains(t, text, "<p>")
}

func TestExtract_PDF(t *testing.T) {
	doc := buildPDF("Hello page one", "Hello page two")
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(doc)
	})

	t.Run("all pages", func(t *testing.T) {
		text, err := New().Extract(context.Background(), url, "2401.00001", 20)
		require.NoError(t, err)
		assert.Contains(t, text, "=== page 1 ===")
		assert.Contains(t, text, "=== page 2 ===")
		assert.Contains(t, text, "page two")
	})

	t.Run("page limit", func(t *testing.T) {
		text, err := New().Extract(context.Background(), url, "2401.00001", 1)
		require.NoError(t, err)
		assert.Contains(t, text, "=== page 1 ===")
		assert.NotContains(t, text, "=== page 2 ===")
	})
}

func TestExtract_MalformedPDF(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 this is not really a pdf"))
	})

	_, err := New().Extract(context.Background(), url, "doc", 0)
	assert.ErrorIs(t, err, ErrMalformedPDF)
}

func TestExtract_RetriesTooManyRequests(t *testing.T) {
	old := RetryBaseDelay
	RetryBaseDelay = time.Millisecond
	t.Cleanup(func() { RetryBaseDelay = old })

	var hits atomic.Int32
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "finally")
	})

	text, err := New().Extract(context.Background(), url, "doc", 0)
	require.NoError(t, err)
	assert.Equal(t, "finally", text)
	assert.Equal(t, int32(3), hits.Load())
}

func TestExtract_GivesUpAfterMaxRetries(t *testing.T) {
	old := RetryBaseDelay
	RetryBaseDelay = time.Millisecond
	t.Cleanup(func() { RetryBaseDelay = old })

	var hits atomic.Int32
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := New(WithMaxRetries(2)).Extract(context.Background(), url, "doc", 0)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, int32(3), hits.Load())
}

func TestExtract_Errors(t *testing.T) {
	notFound := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	blank := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "   \n\t\n")
	})

	tests := []struct {
		name string
		url  string
		want error
	}{
		{name: "not found", url: notFound, want: ErrUnexpectedStatus},
		{name: "blank body", url: blank, want: ErrEmptyDocument},
		{name: "missing url", url: "", want: ErrURLRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Extract(context.Background(), tt.url, "doc", 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := New().Extract(context.Background(), "not a url", "doc", 0)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b\nc", Normalize(" a \t b \n\n  c  \n"))
	assert.Equal(t, "", Normalize("\n \n"))
}
