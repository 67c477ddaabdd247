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

package matching

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/needmatch/ai"
	"github.com/poiesic/needmatch/core"
)

// abstractMarker separates keywords from the synthetic abstract in an expanded query.
const abstractMarker = "[Abstract]:"

// Expander rewrites a need into retrieval vocabulary.
type Expander struct {
	completer ai.Completer
	config    Config
	logger    *slog.Logger
}

// NewExpander creates an expander backed by completer.
func NewExpander(completer ai.Completer, config Config, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{completer: completer, config: config, logger: logger}
}

type expansion struct {
	Keywords []string `json:"keywords"`
	Abstract string   `json:"abstract"`
}

// Expand validates need and returns the expanded query. It returns an error
// wrapping core.ErrInvalidInput when the need is rejected locally or flagged by
// the model. Any other model failure yields need unchanged.
func (e *Expander) Expand(ctx context.Context, need string, mode Mode) (string, error) {
	if err := core.ValidateNeedText(need); err != nil {
		return "", err
	}
	need = strings.TrimSpace(need)

	raw, err := e.completer.Complete(ctx, expansionRequest(need, mode, e.config))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		e.logger.Warn("query expansion failed, using raw need", "err", err)
		return need, nil
	}

	text := strings.TrimSpace(raw)
	if strings.Contains(text, ai.InvalidInputSentinel) {
		return "", fmt.Errorf("%w: flagged by model", core.ErrInvalidInput)
	}

	if strings.Contains(text, abstractMarker) && !strings.HasPrefix(ai.StripCodeFences(text), "{") {
		return text, nil
	}

	res := ai.ParseJSON[expansion](text)
	if !res.OK() {
		e.logger.Warn("query expansion unparseable, using raw need", "err", res.Err)
		return need, nil
	}
	if res.Status == ai.ParseRepaired {
		e.logger.Debug("query expansion repaired", "raw", res.Raw)
	}

	expanded := formatExpansion(res.Value)
	if expanded == "" {
		return need, nil
	}
	return expanded, nil
}

// formatExpansion renders "k1, k2, k3. [Abstract]: ...".
func formatExpansion(x expansion) string {
	keywords := make([]string, 0, len(x.Keywords))
	for _, k := range x.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	abstract := strings.TrimSpace(x.Abstract)

	switch {
	case len(keywords) == 0 && abstract == "":
		return ""
	case abstract == "":
		return strings.Join(keywords, ", ") + "."
	case len(keywords) == 0:
		return abstractMarker + " " + abstract
	}
	return strings.Join(keywords, ", ") + ". " + abstractMarker + " " + abstract
}
