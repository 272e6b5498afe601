// Copyright 2024 Andres Morey
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

package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataKey(t *testing.T) {
	require.Equal(t, "/discovery/workloads/w1/data", DataKey("w1"))
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		wantID   string
		wantKind Kind
		wantOK   bool
	}{
		{"data", "/discovery/workloads/w1/data", "w1", KindData, true},
		{"metadata", "/discovery/workloads/w1/metadata", "w1", KindMetadata, true},
		{"unrelated-kind", "/discovery/workloads/w1/status", "", "", false},
		{"no-prefix", "/other/w1/data", "", "", false},
		{"missing-kind", "/discovery/workloads/w1", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, kind, ok := ParseKey(tt.key)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				require.Equal(t, tt.wantID, id)
				require.Equal(t, tt.wantKind, kind)
			}
		})
	}
}
