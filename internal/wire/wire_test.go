package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabhub/backend/internal/models"
)

func TestDecode_Connect(t *testing.T) {
	raw := []byte(`{"type":"connect","roomId":"room-1","user":{"id":"u1","name":"Ada","color":"#fff"},"token":"abc"}`)

	in, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, in.Connect)
	assert.Equal(t, TypeConnect, in.Type)
	assert.Equal(t, "room-1", in.Connect.RoomID)
	assert.Equal(t, "u1", in.Connect.User.ID)
	assert.Equal(t, "abc", in.Connect.Token)
}

func TestDecode_UnknownTypeIsAnErrorNotAPanic(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	assert.Error(t, err)
}

func TestDecode_MalformedJSONIsAnErrorNotAPanic(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecode_EveryInboundVariant(t *testing.T) {
	cases := map[string][]byte{
		TypeUpdate:    []byte(`{"type":"update","delta":"AAAA"}`),
		TypePresence:  []byte(`{"type":"presence","cursor":{"x":1,"y":2}}`),
		TypeChat:      []byte(`{"type":"chat","userName":"Ada","message":"hi","timestamp":1}`),
		TypeHeartbeat: []byte(`{"type":"heartbeat","timestamp":1}`),
		TypeLeave:     []byte(`{"type":"leave"}`),
	}
	for typ, raw := range cases {
		in, err := Decode(raw)
		require.NoErrorf(t, err, "type %s", typ)
		assert.Equalf(t, typ, in.Type, "type %s", typ)
	}
}

func TestEncodeDelta_RoundTrips(t *testing.T) {
	original := []byte{0x01, 0x02, 0xff, 0x00}
	encoded := EncodeDelta(original)

	decoded, err := DecodeDelta(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeDelta_RejectsNonBase64(t *testing.T) {
	_, err := DecodeDelta("not-base64!!")
	assert.Error(t, err)
}

func TestSyncResponseFrame_CarriesParticipants(t *testing.T) {
	resp := SyncResponseFrame{
		Type:         TypeSyncResponse,
		SnapshotData: EncodeDelta([]byte("state")),
		Participants: []models.ParticipantView{{ClientID: "c1", User: models.User{ID: "u1"}}},
	}
	data, err := Encode(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sync-response"`)
	assert.Contains(t, string(data), `"c1"`)
}

func TestNewError(t *testing.T) {
	f := NewError(CodeFlood, "too many updates")
	assert.Equal(t, TypeError, f.Type)
	assert.Equal(t, CodeFlood, f.Code)
}
