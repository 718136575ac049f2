// Copyright 2025 Tom Barlow
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

package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waydroid/appmonitor/internal/appevent"
	"github.com/waydroid/appmonitor/internal/binder"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

func payload(p binder.Protocol, pkg string) *binder.Reader {
	w := binder.NewWriter(p)
	w.WriteString16(pkg)
	return binder.NewReader(w.Bytes(), p)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		code uint32
		want appevent.Event
	}{
		{"open", TransactionOpen, appevent.Event{Kind: appevent.Open, PackageName: "com.example", Code: 1}},
		{"close", TransactionClose, appevent.Event{Kind: appevent.Close, PackageName: "com.example", Code: 2}},
		{"unknown code", 7, appevent.Event{Kind: appevent.Unknown, Code: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.code, payload(binder.ProtocolAIDL3, "com.example"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestDecode_EmptyPackageName(t *testing.T) {
	ev, err := Decode(TransactionOpen, payload(binder.ProtocolAIDL, ""))
	require.NoError(t, err)
	assert.Equal(t, appevent.Open, ev.Kind)
	assert.Empty(t, ev.PackageName)
}

func TestDecode_Malformed(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		_, err := Decode(TransactionOpen, binder.NewReader([]byte{0x05, 0x00}, binder.ProtocolAIDL3))
		var pe *apperrors.ProtocolError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, uint32(TransactionOpen), pe.Code)
	})

	t.Run("null string", func(t *testing.T) {
		w := binder.NewWriter(binder.ProtocolAIDL3)
		w.WriteNullString16()
		_, err := Decode(TransactionClose, binder.NewReader(w.Bytes(), binder.ProtocolAIDL3))
		assert.ErrorIs(t, err, binder.ErrNullString)
	})
}

func TestEncodeReply(t *testing.T) {
	w := binder.NewWriter(binder.ProtocolAIDL3)
	EncodeReply(w, StatusBadParcel)
	assert.Equal(t, []byte{0xfe, 0xff, 0xff, 0xff}, w.Bytes())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "unsupported", StatusUnsupported.String())
	assert.Equal(t, "bad_parcel", StatusBadParcel.String())
	assert.Equal(t, "unknown", Status(5).String())
}
