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
	"fmt"
	"strings"
)

// Mode selects which side of the market a need is matched against.
type Mode string

const (
	// ModeAll matches a need against papers and published achievements.
	ModeAll Mode = "all"

	// ModePapers matches a need against papers only.
	ModePapers Mode = "papers"

	// ModeRequirements matches an achievement description against
	// published industry requirements.
	ModeRequirements Mode = "requirements"
)

// ParseMode parses a mode name. The empty string selects ModeAll.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAll:
		return ModeAll, nil
	case ModePapers:
		return ModePapers, nil
	case ModeRequirements:
		return ModeRequirements, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func (m Mode) String() string {
	return string(m)
}
