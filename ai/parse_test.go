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

package ai

import (
	"errors"
	"testing"

	"github.com/poiesic/needmatch/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scored struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

func TestParseJSON(t *testing.T) {
	t.Run("valid array", func(t *testing.T) {
		res := ParseJSON[[]scored](`[{"id":"a","score":90}]`)
		require.True(t, res.OK())
		assert.Equal(t, ParseOK, res.Status)
		assert.Equal(t, []scored{{ID: "a", Score: 90}}, res.Value)
	})

	t.Run("code fence", func(t *testing.T) {
		res := ParseJSON[[]scored]("```json\n[{\"id\":\"a\",\"score\":70}]\n```")
		require.True(t, res.OK())
		assert.Equal(t, ParseRepaired, res.Status)
		assert.Equal(t, 70, res.Value[0].Score)
	})

	t.Run("missing opening quote", func(t *testing.T) {
		res := ParseJSON[[]scored](`[{"id":"a", score": 12}]`)
		require.True(t, res.OK())
		assert.Equal(t, ParseRepaired, res.Status)
		assert.Equal(t, 12, res.Value[0].Score)
	})

	t.Run("bare keys", func(t *testing.T) {
		res := ParseJSON[scored](`{id: "b", score: 33}`)
		require.True(t, res.OK())
		assert.Equal(t, scored{ID: "b", Score: 33}, res.Value)
	})

	t.Run("embedded in prose", func(t *testing.T) {
		raw := "Here are the scores [see below]: [{\"id\":\"x]\",\"score\":61}] hope this helps"
		res := ParseJSON[[]scored](raw)
		require.True(t, res.OK())
		assert.Equal(t, "x]", res.Value[0].ID)
		assert.Equal(t, 61, res.Value[0].Score)
	})

	t.Run("garbage", func(t *testing.T) {
		res := ParseJSON[[]scored]("I cannot help with that.")
		assert.False(t, res.OK())
		assert.Equal(t, ParseFailed, res.Status)
		assert.True(t, errors.Is(res.Err, core.ErrModelResponseMalformed))
		assert.Equal(t, "I cannot help with that.", res.Raw)
	})

	t.Run("empty", func(t *testing.T) {
		res := ParseJSON[[]scored]("")
		assert.Equal(t, ParseFailed, res.Status)
		assert.ErrorIs(t, res.Err, core.ErrModelResponseMalformed)
	})
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "```\n{}\n```", want: "{}"},
		{in: "```json\n[1]\n```", want: "[1]"},
		{in: "```json[1]```", want: "[1]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripCodeFences(tt.in))
	}
}

func TestParseStatus_String(t *testing.T) {
	assert.Equal(t, "ok", ParseOK.String())
	assert.Equal(t, "repaired", ParseRepaired.String())
	assert.Equal(t, "failed", ParseFailed.String())
}
